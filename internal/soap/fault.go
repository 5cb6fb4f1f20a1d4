package soap

import (
	"errors"
	"fmt"
)

// UPnP error codes used by the renderer services.
const (
	CodeInvalidAction              = 401
	CodeInvalidArgs                = 402
	CodeActionFailed               = 501
	CodeTransitionNotAvailable     = 701
	CodeInvalidInstanceIDRCS       = 702
	CodeInvalidConnectionReference = 706
	CodeSeekModeNotSupported       = 710
	CodeSeekOutOfRange             = 714
	CodeInvalidInstanceID          = 718
)

// Error is a UPnP fault: a numeric code plus a human-readable description.
type Error struct {
	Code        int
	Description string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upnp error %d: %s", e.Code, e.Description)
}

// NewError creates a fault with a formatted description.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

// InvalidAction reports an action name the service does not implement.
func InvalidAction(name string) *Error {
	return NewError(CodeInvalidAction, "Invalid Action: %s", name)
}

// InvalidArgs reports a missing or malformed argument.
func InvalidArgs(format string, args ...any) *Error {
	return NewError(CodeInvalidArgs, "Invalid Args: "+format, args...)
}

// ActionFailed reports a failure while carrying out a valid action.
func ActionFailed(err error) *Error {
	return NewError(CodeActionFailed, "Action Failed: %v", err)
}

// TransitionNotAvailable reports an action that is not valid in the current
// transport state.
func TransitionNotAvailable(action, state string) *Error {
	return NewError(CodeTransitionNotAvailable, "Transition not available: %s in state %s", action, state)
}

// SeekOutOfRange reports a seek target outside the playable range.
func SeekOutOfRange(target string) *Error {
	return NewError(CodeSeekOutOfRange, "Seek target out of range: %s", target)
}

// InvalidInstanceID reports an instance id other than 0. AVTransport uses
// CodeInvalidInstanceID, RenderingControl CodeInvalidInstanceIDRCS.
func InvalidInstanceID(code, id int) *Error {
	return NewError(code, "Invalid InstanceID: %d", id)
}

// InvalidConnectionReference reports an unknown ConnectionID.
func InvalidConnectionReference(id int) *Error {
	return NewError(CodeInvalidConnectionReference, "Invalid connection reference: %d", id)
}

// FaultFor maps any error returned while handling an action onto the fault
// sent back to the control point.
func FaultFor(err error) *Error {
	var e *Error
	switch {
	case errors.As(err, &e):
		return e
	case errors.Is(err, ErrProtocol):
		return NewError(CodeInvalidAction, "Invalid Action: %v", err)
	case errors.Is(err, ErrFormat):
		return InvalidArgs("%v", err)
	default:
		return ActionFailed(err)
	}
}

// CodeOf returns the fault code err would be reported with.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	return FaultFor(err).Code
}
