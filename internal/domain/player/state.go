// Package player defines the contract between the UPnP services and the
// external decoding engine that actually produces audio.
package player

// Playback status reported by an engine.
const (
	StatusPlay  = "play"
	StatusPause = "pause"
	StatusStop  = "stop"
	StatusIdle  = "idle"
)

// Status is a snapshot of the engine's playback state.
type Status struct {
	State    string
	URL      string
	Volume   int
	Position float64 // seconds
	Duration float64 // seconds, 0 when unknown (live streams)
}

// Playing reports whether the engine is producing audio.
func (s Status) Playing() bool {
	return s.State == StatusPlay
}

// Loaded reports whether the engine has media loaded, playing or not.
func (s Status) Loaded() bool {
	return s.State == StatusPlay || s.State == StatusPause
}

// EventType identifies an asynchronous engine notification.
type EventType string

const (
	// EventPlaybackStarted fires once loaded media starts producing audio.
	EventPlaybackStarted EventType = "playback-started"
	// EventPlaybackEnded fires when media stops on its own (end of file, decode error).
	EventPlaybackEnded EventType = "playback-ended"
	// EventPaused and EventResumed track pause changes made outside the services.
	EventPaused  EventType = "paused"
	EventResumed EventType = "resumed"
	// EventPosition is a periodic position tick.
	EventPosition EventType = "position"
	// EventDisconnected fires when the control channel to the engine is lost.
	EventDisconnected EventType = "disconnected"
	// EventReconnected fires once the supervisor has restored the channel.
	EventReconnected EventType = "reconnected"
)

// Event is one out-of-band engine notification.
type Event struct {
	Type     EventType
	Reason   string  // e.g. "eof", "error" for EventPlaybackEnded
	Position float64 // for EventPosition
}
