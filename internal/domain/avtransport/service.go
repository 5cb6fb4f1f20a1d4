package avtransport

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/domain/player"
	"github.com/edumarques81/stellar-renderer/internal/soap"
)

// Topic is the notification topic for transport changes.
const Topic = "transport"

// Seek units.
const (
	UnitAbsTime = "ABS_TIME"
	UnitRelTime = "REL_TIME"
	UnitTrackNr = "TRACK_NR"
)

// Service owns the transport session. Engine-bound actions park the session
// in TRANSITIONING while the engine works so overlapping requests are refused
// instead of interleaved.
type Service struct {
	mu       sync.Mutex
	engine   player.Engine
	session  Session
	notifier control.Notifier
}

// NewService creates the service in NO_MEDIA_PRESENT.
func NewService(engine player.Engine, notifier control.Notifier) *Service {
	if notifier == nil {
		notifier = control.NopNotifier{}
	}
	return &Service{
		engine:   engine,
		session:  newSession(),
		notifier: notifier,
	}
}

// Snapshot returns a copy of the session.
func (s *Service) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copySession()
}

// copySession must be called with s.mu held.
func (s *Service) copySession() Session {
	out := s.session
	if s.session.PendingSeek != nil {
		p := *s.session.PendingSeek
		out.PendingSeek = &p
	}
	return out
}

// begin validates the current state against allowed and parks the session in
// TRANSITIONING. It returns the session as it was.
func (s *Service) begin(action string, allowed ...State) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.copySession()
	ok := false
	for _, st := range allowed {
		if prev.State == st {
			ok = true
			break
		}
	}
	if !ok {
		return prev, soap.TransitionNotAvailable(action, string(prev.State))
	}

	s.session.State = Transitioning
	s.notifier.Notify(Topic)
	return prev, nil
}

// finish completes a transition started by begin. On failure the previous
// state is restored, unless the engine went away, in which case the session
// falls back to what a dead engine can honour.
func (s *Service) finish(action string, prev Session, err error, apply func(*Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.notifier.Notify(Topic)

	if err != nil {
		log.Error().Err(err).Str("action", action).Str("state", string(prev.State)).Msg("Transport action failed")
		pending := s.session.PendingSeek
		s.session = prev
		s.session.PendingSeek = pending
		s.session.Status = StatusError
		if errors.Is(err, player.ErrDisconnected) || errors.Is(err, player.ErrUnavailable) {
			s.session.State = fallbackState(prev.URI)
		}
		return soap.ActionFailed(err)
	}

	apply(&s.session)
	s.session.Status = StatusOK
	log.Info().Str("action", action).Str("state", string(s.session.State)).Msg("Transport state changed")
	return nil
}

func fallbackState(uri string) State {
	if uri == "" {
		return NoMedia
	}
	return Stopped
}

func (s *Service) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	return player.Retry(ctx, fn)
}

// SetURI stores new media. Anything playing is stopped first; the new media
// is not started until Play.
func (s *Service) SetURI(ctx context.Context, uri, metadata string) error {
	if err := validateURI(uri); err != nil {
		return err
	}

	prev, err := s.begin("SetAVTransportURI", NoMedia, Stopped, Playing, Paused)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.session.PendingSeek = nil
	s.mu.Unlock()

	if prev.State.Loaded() {
		err = s.retry(ctx, s.engine.Stop)
	} else {
		err = s.retry(ctx, func(ctx context.Context) error {
			_, err := s.engine.Status(ctx)
			return err
		})
	}

	if err != nil {
		s.mu.Lock()
		s.session = newSession()
		s.session.Status = StatusError
		s.mu.Unlock()
		s.notifier.Notify(Topic)
		log.Error().Err(err).Str("uri", uri).Msg("SetAVTransportURI failed")
		return soap.ActionFailed(err)
	}

	return s.finish("SetAVTransportURI", prev, nil, func(sess *Session) {
		sess.State = Stopped
		sess.URI = uri
		sess.Metadata = metadata
		sess.Position = 0
		sess.Duration = 0
	})
}

func validateURI(uri string) error {
	if strings.TrimSpace(uri) == "" {
		return soap.InvalidArgs("CurrentURI is empty")
	}
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return soap.InvalidArgs("CurrentURI %q is not an absolute URI", uri)
	}
	return nil
}

// Play starts the stored media, or resumes it when paused. Play while
// already playing succeeds without touching the engine.
func (s *Service) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.session.State == Playing {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	prev, err := s.begin("Play", Stopped, Paused)
	if err != nil {
		return err
	}

	if prev.State == Paused {
		err = s.retry(ctx, s.engine.Resume)
	} else {
		err = s.retry(ctx, func(ctx context.Context) error {
			return s.engine.Play(ctx, prev.URI)
		})
	}

	var pending *float64
	err = s.finish("Play", prev, err, func(sess *Session) {
		sess.State = Playing
		pending, sess.PendingSeek = sess.PendingSeek, nil
	})
	if err != nil || pending == nil {
		return err
	}
	s.applyPendingSeek(ctx, *pending)
	return nil
}

// applyPendingSeek moves the engine to a position requested before Play.
// Playback continues from the start when it fails; the failure shows in the
// transport status.
func (s *Service) applyPendingSeek(ctx context.Context, target float64) {
	err := s.retry(ctx, func(ctx context.Context) error { return s.engine.Seek(ctx, target) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Float64("position", target).Msg("Failed to apply pending seek")
		s.session.Status = StatusError
	} else if s.session.State == Playing {
		s.session.Position = target
	}
	s.notifier.Notify(Topic)
}

// Pause pauses playback. Only valid while PLAYING.
func (s *Service) Pause(ctx context.Context) error {
	prev, err := s.begin("Pause", Playing)
	if err != nil {
		return err
	}
	err = s.retry(ctx, s.engine.Pause)
	return s.finish("Pause", prev, err, func(sess *Session) {
		sess.State = Paused
	})
}

// Stop stops playback and keeps the media. Stop while STOPPED is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.session.State == Stopped {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	prev, err := s.begin("Stop", Playing, Paused)
	if err != nil {
		return err
	}
	err = s.retry(ctx, s.engine.Stop)
	return s.finish("Stop", prev, err, func(sess *Session) {
		sess.State = Stopped
		sess.Position = 0
	})
}

// Seek moves the playback position. A target with a leading sign is relative
// to the current position; an unsigned one is a position within the track.
// When nothing is loaded the position is kept for the next Play.
func (s *Service) Seek(ctx context.Context, unit, target string) error {
	if unit != UnitAbsTime && unit != UnitRelTime {
		return soap.NewError(soap.CodeSeekModeNotSupported, "Seek mode not supported: %s", unit)
	}

	text := strings.TrimSpace(target)
	sign := 0
	switch {
	case strings.HasPrefix(text, "+"):
		sign, text = 1, text[1:]
	case strings.HasPrefix(text, "-"):
		sign, text = -1, text[1:]
	}
	secs, err := soap.ParseTime(text)
	if err != nil {
		return soap.InvalidArgs("Target: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session.State == NoMedia {
		return soap.TransitionNotAvailable("Seek", string(s.session.State))
	}

	loaded := s.session.State.Loaded()
	var current, duration float64
	if loaded {
		if current, err = s.poll(ctx, s.engine.Position); err != nil {
			return soap.ActionFailed(err)
		}
		if duration, err = s.poll(ctx, s.engine.Duration); err != nil {
			return soap.ActionFailed(err)
		}
	} else {
		if s.session.PendingSeek != nil {
			current = *s.session.PendingSeek
		}
		duration = s.session.Duration
	}

	position := float64(secs)
	if sign != 0 {
		position = current + float64(sign*secs)
	}
	if position < 0 || (duration > 0 && position > duration) {
		return soap.SeekOutOfRange(target)
	}

	if !loaded {
		s.session.PendingSeek = &position
		log.Info().Float64("position", position).Str("state", string(s.session.State)).Msg("Seek deferred until Play")
		return nil
	}

	err = s.retry(ctx, func(ctx context.Context) error { return s.engine.Seek(ctx, position) })
	if err != nil {
		log.Error().Err(err).Float64("position", position).Msg("Seek failed")
		return soap.ActionFailed(err)
	}
	s.session.Position = position
	s.session.Duration = duration
	log.Info().Float64("position", position).Msg("Seek")
	s.notifier.Notify(Topic)
	return nil
}

func (s *Service) poll(ctx context.Context, fn func(context.Context) (float64, error)) (float64, error) {
	var v float64
	err := s.retry(ctx, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

// TransportInfo returns the state and status.
func (s *Service) TransportInfo() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.State, s.session.Status
}

// PositionInfo returns the session with Position and Duration read live from
// the engine when media is loaded.
func (s *Service) PositionInfo(ctx context.Context) (Session, error) {
	sess := s.Snapshot()
	if !sess.State.Loaded() {
		if sess.PendingSeek != nil {
			sess.Position = *sess.PendingSeek
		} else {
			sess.Position = 0
		}
		return sess, nil
	}

	var err error
	if sess.Position, err = s.poll(ctx, s.engine.Position); err != nil {
		return sess, soap.ActionFailed(err)
	}
	if sess.Duration, err = s.poll(ctx, s.engine.Duration); err != nil {
		return sess, soap.ActionFailed(err)
	}

	s.mu.Lock()
	if s.session.URI == sess.URI {
		s.session.Duration = sess.Duration
	}
	s.mu.Unlock()
	return sess, nil
}
