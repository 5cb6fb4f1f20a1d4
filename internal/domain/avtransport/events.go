package avtransport

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/domain/player"
)

// Run applies asynchronous engine events to the session until ctx is done or
// the engine closes its event stream.
func (s *Service) Run(ctx context.Context) {
	events, cancel := s.engine.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Service) handleEvent(ev player.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.session.State
	switch ev.Type {
	case player.EventPlaybackEnded:
		if !from.Loaded() {
			return
		}
		s.session.State = Stopped
		s.session.Position = 0
		if ev.Reason == "error" {
			s.session.Status = StatusError
		}
	case player.EventPaused:
		if from != Playing {
			return
		}
		s.session.State = Paused
	case player.EventResumed:
		if from != Paused {
			return
		}
		s.session.State = Playing
	case player.EventDisconnected:
		if from == Transitioning || from == NoMedia {
			return
		}
		s.session.State = fallbackState(s.session.URI)
		s.session.Position = 0
	default:
		return
	}

	log.Info().
		Str("event", string(ev.Type)).
		Str("reason", ev.Reason).
		Str("from", string(from)).
		Str("to", string(s.session.State)).
		Msg("Transport state changed by engine")
	s.notifier.Notify(Topic)
}
