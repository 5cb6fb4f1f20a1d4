// Package rendering implements the RenderingControl service: volume and mute.
package rendering

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/domain/player"
	"github.com/edumarques81/stellar-renderer/internal/soap"
)

// Topic is the notification topic for volume/mute changes.
const Topic = "rendering"

// State is the volume/mute record. PreMute is only meaningful while Muted.
type State struct {
	Volume  int
	Muted   bool
	PreMute int
}

// Service owns the volume/mute state and keeps the engine in line with it.
type Service struct {
	mu            sync.Mutex
	engine        player.Engine
	state         State
	defaultVolume int
	notifier      control.Notifier
}

// NewService creates the service with the engine's startup volume.
func NewService(engine player.Engine, defaultVolume int, notifier control.Notifier) *Service {
	if notifier == nil {
		notifier = control.NopNotifier{}
	}
	return &Service{
		engine:        engine,
		state:         State{Volume: defaultVolume},
		defaultVolume: defaultVolume,
		notifier:      notifier,
	}
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Volume returns the user-facing volume. While muted this is the level that
// unmuting will restore.
func (s *Service) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Muted {
		return s.state.PreMute
	}
	return s.state.Volume
}

// Muted reports the last explicit mute command.
func (s *Service) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Muted
}

// SetVolume sets the volume (0-100). While muted only the level to restore
// changes; the engine stays silent.
func (s *Service) SetVolume(ctx context.Context, volume int) error {
	if volume < 0 || volume > 100 {
		return soap.InvalidArgs("volume %d outside [0,100]", volume)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Muted {
		s.state.PreMute = volume
		log.Info().Int("volume", volume).Msg("SetVolume while muted")
		s.notifier.Notify(Topic)
		return nil
	}

	if err := s.setEngineVolume(ctx, volume); err != nil {
		return err
	}
	s.state.Volume = volume
	log.Info().Int("volume", volume).Msg("SetVolume")
	s.notifier.Notify(Topic)
	return nil
}

// SetMute mutes by commanding volume 0 and unmutes by restoring the stored
// level. Repeating the current mute state is a no-op.
func (s *Service) SetMute(ctx context.Context, mute bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mute == s.state.Muted {
		return nil
	}

	if mute {
		if err := s.setEngineVolume(ctx, 0); err != nil {
			return err
		}
		s.state.PreMute = s.state.Volume
		s.state.Volume = 0
		s.state.Muted = true
	} else {
		if err := s.setEngineVolume(ctx, s.state.PreMute); err != nil {
			return err
		}
		s.state.Volume = s.state.PreMute
		s.state.PreMute = 0
		s.state.Muted = false
	}

	log.Info().Bool("mute", mute).Int("volume", s.state.Volume).Msg("SetMute")
	s.notifier.Notify(Topic)
	return nil
}

// Reset restores factory defaults: unmuted at the configured volume.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setEngineVolume(ctx, s.defaultVolume); err != nil {
		return err
	}
	s.state = State{Volume: s.defaultVolume}
	log.Info().Int("volume", s.defaultVolume).Msg("Rendering state reset to factory defaults")
	s.notifier.Notify(Topic)
	return nil
}

// Run re-applies the current level whenever the engine comes back after a
// crash, since a respawned engine starts at its own default. It returns when
// ctx is done or the engine closes its event stream.
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
			if ev.Type == player.EventReconnected {
				s.restore(ctx)
			}
		}
	}
}

func (s *Service) restore(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.setEngineVolume(ctx, s.state.Volume); err != nil {
		log.Warn().Err(err).Int("volume", s.state.Volume).Msg("Failed to restore volume after reconnect")
		return
	}
	log.Info().Int("volume", s.state.Volume).Bool("muted", s.state.Muted).Msg("Restored volume after reconnect")
}

// setEngineVolume must be called with s.mu held.
func (s *Service) setEngineVolume(ctx context.Context, volume int) error {
	err := player.Retry(ctx, func(ctx context.Context) error {
		return s.engine.SetVolume(ctx, volume)
	})
	if err != nil {
		log.Error().Err(err).Int("volume", volume).Msg("Engine rejected volume change")
		return soap.ActionFailed(err)
	}
	return nil
}
