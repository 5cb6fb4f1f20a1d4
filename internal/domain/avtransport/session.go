// Package avtransport implements the AVTransport service: the playback
// lifecycle of the single renderer instance.
package avtransport

// State is a UPnP transport state as reported on the wire.
type State string

const (
	NoMedia       State = "NO_MEDIA_PRESENT"
	Stopped       State = "STOPPED"
	Playing       State = "PLAYING"
	Paused        State = "PAUSED_PLAYBACK"
	Transitioning State = "TRANSITIONING"
)

// Loaded reports whether the engine holds the current media.
func (s State) Loaded() bool {
	return s == Playing || s == Paused
}

// Transport status values.
const (
	StatusOK    = "OK"
	StatusError = "ERROR_OCCURRED"
)

// Session is the transport record. Position and Duration are the last values
// read from the engine; callers wanting live values use PositionInfo.
type Session struct {
	State    State
	Status   string
	URI      string
	Metadata string
	Position float64
	Duration float64
	// PendingSeek holds a seek requested while nothing was loaded. It is
	// applied on the next Play.
	PendingSeek *float64
}

func newSession() Session {
	return Session{State: NoMedia, Status: StatusOK}
}

// Actions lists the transport actions valid from the session's state, in
// the comma-separated form GetCurrentTransportActions reports.
func (s Session) Actions() string {
	switch s.State {
	case Stopped:
		return "Play,Seek"
	case Playing:
		return "Pause,Stop,Seek"
	case Paused:
		return "Play,Stop,Seek"
	default:
		return ""
	}
}
