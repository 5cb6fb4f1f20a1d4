package mpd

import (
	"context"
	"errors"
	"testing"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/edumarques81/stellar-renderer/internal/domain/player"
)

func TestClientConnectFailure(t *testing.T) {
	// Test connection to non-existent server
	client := NewClient("localhost", 16600, "")

	err := client.Connect()
	if err == nil {
		t.Error("Connect should fail for non-existent server")
		client.Close()
	}
	if !errors.Is(err, player.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestCommandsWithoutServer(t *testing.T) {
	client := NewClient("localhost", 16600, "")
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Play", func() error { return client.Play(ctx, "http://x/a.mp3") }},
		{"Pause", func() error { return client.Pause(ctx) }},
		{"Resume", func() error { return client.Resume(ctx) }},
		{"Stop", func() error { return client.Stop(ctx) }},
		{"Seek", func() error { return client.Seek(ctx, 10) }},
		{"SetVolume", func() error { return client.SetVolume(ctx, 10) }},
		{"Status", func() error { _, err := client.Status(ctx); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, player.ErrUnavailable) {
				t.Errorf("%s should fail with ErrUnavailable, got %v", tt.name, err)
			}
		})
	}
}

func TestCancelledContext(t *testing.T) {
	client := NewClient("localhost", 16600, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.Stop(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name   string
		status mpd.Attrs
		song   mpd.Attrs
		want   player.Status
	}{
		{
			name:   "playing",
			status: mpd.Attrs{"state": "play", "volume": "65", "elapsed": "12.500", "duration": "240.1"},
			song:   mpd.Attrs{"file": "http://x/a.flac"},
			want:   player.Status{State: player.StatusPlay, URL: "http://x/a.flac", Volume: 65, Position: 12.5, Duration: 240.1},
		},
		{
			name:   "paused with legacy time",
			status: mpd.Attrs{"state": "pause", "volume": "20", "elapsed": "3"},
			song:   mpd.Attrs{"file": "a.mp3", "Time": "180"},
			want:   player.Status{State: player.StatusPause, URL: "a.mp3", Volume: 20, Position: 3, Duration: 180},
		},
		{
			name:   "stopped",
			status: mpd.Attrs{"state": "stop", "volume": "-1"},
			song:   mpd.Attrs{"file": "a.mp3"},
			want:   player.Status{State: player.StatusIdle},
		},
		{
			name:   "empty",
			status: mpd.Attrs{},
			want:   player.Status{State: player.StatusIdle},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseStatus(tt.status, tt.song); got != tt.want {
				t.Errorf("parseStatus() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name       string
		from, to   string
		expectStop bool
		want       player.EventType
		ok         bool
	}{
		{"no change", player.StatusPlay, player.StatusPlay, false, "", false},
		{"paused", player.StatusPlay, player.StatusPause, false, player.EventPaused, true},
		{"resumed", player.StatusPause, player.StatusPlay, false, player.EventResumed, true},
		{"started", player.StatusIdle, player.StatusPlay, false, player.EventPlaybackStarted, true},
		{"track ended", player.StatusPlay, player.StatusIdle, false, player.EventPlaybackEnded, true},
		{"commanded stop", player.StatusPlay, player.StatusIdle, true, "", false},
		{"stopped while paused", player.StatusPause, player.StatusIdle, false, player.EventPlaybackEnded, true},
		{"idle to idle", player.StatusIdle, player.StatusIdle, false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient("localhost", 6600, "")
			c.expectStop.Store(tt.expectStop)

			ev, ok := c.transition(tt.from, tt.to)
			if ok != tt.ok || ev.Type != tt.want {
				t.Errorf("transition(%s, %s) = %v %v, want %v %v", tt.from, tt.to, ev.Type, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCommandedStopSuppressedOnce(t *testing.T) {
	c := NewClient("localhost", 6600, "")
	c.expectStop.Store(true)

	if _, ok := c.transition(player.StatusPlay, player.StatusIdle); ok {
		t.Error("commanded stop reported as end of playback")
	}
	if ev, ok := c.transition(player.StatusPlay, player.StatusIdle); !ok || ev.Type != player.EventPlaybackEnded {
		t.Error("second stop should be reported")
	}
}
