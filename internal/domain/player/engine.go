package player

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the engine cannot be reached, either
	// because connecting exhausted its retries or because the supervisor is
	// still recovering from a crash.
	ErrUnavailable = errors.New("player unavailable")
	// ErrTimeout is returned when the engine did not answer a command in time.
	ErrTimeout = errors.New("player command timed out")
	// ErrDisconnected is returned to callers whose command was in flight when
	// the channel dropped.
	ErrDisconnected = errors.New("player disconnected")
)

// Engine is the typed command surface of a decoding engine.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Play loads url and starts playback, returning once the engine has
	// acknowledged the load.
	Play(ctx context.Context, url string) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Stop(ctx context.Context) error
	// Seek moves to an absolute position in seconds.
	Seek(ctx context.Context, position float64) error
	SetVolume(ctx context.Context, level int) error
	Volume(ctx context.Context) (int, error)
	Position(ctx context.Context) (float64, error)
	Duration(ctx context.Context) (float64, error)
	Status(ctx context.Context) (Status, error)

	// Subscribe registers an observer for asynchronous events. The returned
	// function unregisters it and closes the channel.
	Subscribe() (<-chan Event, func())
}

// IsRetryable reports whether a failed command may be retried as is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// Retry runs fn and, if it failed with a retryable error, runs it once more.
func Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err != nil && IsRetryable(err) && ctx.Err() == nil {
		err = fn(ctx)
	}
	return err
}
