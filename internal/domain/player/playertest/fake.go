// Package playertest provides an in-memory player.Engine for tests.
package playertest

import (
	"context"
	"sync"

	"github.com/edumarques81/stellar-renderer/internal/domain/player"
)

// Engine records commands and simulates a decoding engine. Set Err* fields
// to make the next matching command fail.
type Engine struct {
	mu sync.Mutex

	State    string
	URL      string
	Level    int
	Pos      float64
	Length   float64
	Calls    []string
	Volumes  []int
	Seeks    []float64
	PlayErr  error
	StopErr  error
	SeekErr  error
	VolErr   error
	PauseErr error
	// Block, when set, is waited on by Play before it returns.
	Block chan struct{}

	events *player.Broadcaster
}

// New creates an idle fake engine at volume 50.
func New() *Engine {
	return &Engine{State: player.StatusIdle, Level: 50, events: player.NewBroadcaster()}
}

// Emit publishes ev to subscribers.
func (e *Engine) Emit(ev player.Event) {
	e.events.Publish(ev)
}

// CallLog returns a copy of the recorded command names.
func (e *Engine) CallLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.Calls))
	copy(out, e.Calls)
	return out
}

// VolumeLog returns a copy of the volumes set so far.
func (e *Engine) VolumeLog() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.Volumes))
	copy(out, e.Volumes)
	return out
}

func (e *Engine) record(name string) {
	e.mu.Lock()
	e.Calls = append(e.Calls, name)
	e.mu.Unlock()
}

func (e *Engine) Play(ctx context.Context, url string) error {
	e.record("play")
	if e.Block != nil {
		select {
		case <-e.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.PlayErr != nil {
		return e.PlayErr
	}
	e.State = player.StatusPlay
	e.URL = url
	e.Pos = 0
	return nil
}

func (e *Engine) Pause(ctx context.Context) error {
	e.record("pause")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.PauseErr != nil {
		return e.PauseErr
	}
	e.State = player.StatusPause
	return nil
}

func (e *Engine) Resume(ctx context.Context) error {
	e.record("resume")
	e.mu.Lock()
	defer e.mu.Unlock()
	e.State = player.StatusPlay
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.record("stop")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StopErr != nil {
		return e.StopErr
	}
	e.State = player.StatusIdle
	e.Pos = 0
	return nil
}

func (e *Engine) Seek(ctx context.Context, position float64) error {
	e.record("seek")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.SeekErr != nil {
		return e.SeekErr
	}
	e.Seeks = append(e.Seeks, position)
	e.Pos = position
	return nil
}

func (e *Engine) SetVolume(ctx context.Context, level int) error {
	e.record("volume")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.VolErr != nil {
		return e.VolErr
	}
	e.Volumes = append(e.Volumes, level)
	e.Level = level
	return nil
}

func (e *Engine) Volume(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Level, nil
}

func (e *Engine) Position(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Pos, nil
}

func (e *Engine) Duration(ctx context.Context) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Length, nil
}

func (e *Engine) Status(ctx context.Context) (player.Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return player.Status{State: e.State, URL: e.URL, Volume: e.Level, Position: e.Pos, Duration: e.Length}, nil
}

func (e *Engine) Subscribe() (<-chan player.Event, func()) {
	return e.events.Subscribe()
}

var _ player.Engine = (*Engine)(nil)
