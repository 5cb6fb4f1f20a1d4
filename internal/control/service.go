// Package control maps UPnP control actions onto handlers. Each service
// declares its actions with an explicit argument schema; the registry
// validates incoming arguments against that schema before a handler runs.
package control

import (
	"context"
	"strconv"
	"strings"

	"github.com/edumarques81/stellar-renderer/internal/soap"
)

// DataType is a UPnP state variable type.
type DataType string

const (
	String  DataType = "string"
	UI2     DataType = "ui2"
	UI4     DataType = "ui4"
	I4      DataType = "i4"
	Boolean DataType = "boolean"
)

// Range bounds a numeric state variable (inclusive).
type Range struct {
	Min  int
	Max  int
	Step int
}

// Variable is a state variable that action arguments relate to.
type Variable struct {
	Name       string
	Type       DataType
	Allowed    []string
	Range      *Range
	Default    string
	SendEvents bool
}

// Argument declares one action argument.
type Argument struct {
	Name     string
	Variable *Variable
}

// Handler executes an action. Results must be returned in the order the
// action declares them.
type Handler func(ctx context.Context, in Args) ([]soap.Argument, error)

// Action declares a control action.
type Action struct {
	Name    string
	In      []Argument
	Out     []Argument
	Handler Handler
}

// Service is the full declaration of one UPnP service.
type Service struct {
	Name    string // short name, e.g. "AVTransport"
	Type    string // e.g. "urn:schemas-upnp-org:service:AVTransport:1"
	ID      string // e.g. "urn:upnp-org:serviceId:AVTransport"
	Actions []Action
	// Extra lists state variables no argument refers to, such as LastChange.
	Extra []*Variable
}

// Variables returns every state variable referenced by the service's
// arguments, in first-use order.
func (s Service) Variables() []*Variable {
	var vars []*Variable
	seen := make(map[string]bool)
	add := func(args []Argument) {
		for _, a := range args {
			if a.Variable == nil || seen[a.Variable.Name] {
				continue
			}
			seen[a.Variable.Name] = true
			vars = append(vars, a.Variable)
		}
	}
	for _, a := range s.Actions {
		add(a.In)
		add(a.Out)
	}
	for _, v := range s.Extra {
		if !seen[v.Name] {
			seen[v.Name] = true
			vars = append(vars, v)
		}
	}
	return vars
}

// Validate checks a raw argument value against the variable's type, range
// and allowed values.
func (v *Variable) Validate(value string) error {
	switch v.Type {
	case UI2, UI4, I4:
		n, err := parseInt(v.Type, value)
		if err != nil {
			return soap.InvalidArgs("%s: %q is not a valid %s", v.Name, value, v.Type)
		}
		if v.Range != nil && (n < v.Range.Min || n > v.Range.Max) {
			return soap.InvalidArgs("%s: %d outside [%d,%d]", v.Name, n, v.Range.Min, v.Range.Max)
		}
	case Boolean:
		if _, ok := parseBool(value); !ok {
			return soap.InvalidArgs("%s: %q is not a boolean", v.Name, value)
		}
	}

	if len(v.Allowed) > 0 {
		for _, a := range v.Allowed {
			if a == value {
				return nil
			}
		}
		return soap.InvalidArgs("%s: %q is not an allowed value", v.Name, value)
	}
	return nil
}

func parseInt(t DataType, value string) (int, error) {
	value = strings.TrimSpace(value)
	switch t {
	case UI2:
		n, err := strconv.ParseUint(value, 10, 16)
		return int(n), err
	case UI4:
		n, err := strconv.ParseUint(value, 10, 32)
		return int(n), err
	default:
		n, err := strconv.ParseInt(value, 10, 32)
		return int(n), err
	}
}

func parseBool(value string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	return false, false
}

// Args gives handlers typed access to arguments that already passed
// validation.
type Args map[string]string

// String returns the raw value.
func (a Args) String(name string) string {
	return a[name]
}

// Int returns a numeric argument.
func (a Args) Int(name string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(a[name]))
	return n
}

// Bool returns a boolean argument.
func (a Args) Bool(name string) bool {
	b, _ := parseBool(a[name])
	return b
}

// FormatBool renders a boolean the way UPnP results carry it.
func FormatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
