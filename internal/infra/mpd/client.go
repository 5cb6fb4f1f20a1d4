// Package mpd drives an MPD server through gompd and exposes it as a
// player.Engine.
package mpd

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/domain/player"
)

var _ player.Engine = (*Client)(nil)

// Client wraps the MPD client with reconnection logic.
type Client struct {
	mu       sync.RWMutex
	client   *mpd.Client
	host     string
	port     int
	password string

	events *player.Broadcaster
	// expectStop is set when a command will move MPD out of the play state,
	// so the watcher does not mistake it for the end of a track.
	expectStop atomic.Bool
}

// NewClient creates a new MPD client wrapper.
func NewClient(host string, port int, password string) *Client {
	return &Client{
		host:     host,
		port:     port,
		password: password,
		events:   player.NewBroadcaster(),
	}
}

func (c *Client) addr() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Connect establishes connection to MPD.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connectLocked()
}

// connectLocked establishes connection (must hold lock).
func (c *Client) connectLocked() error {
	log.Info().Str("addr", c.addr()).Msg("Connecting to MPD")

	client, err := mpd.Dial("tcp", c.addr())
	if err != nil {
		return fmt.Errorf("%w: connect to MPD: %v", player.ErrUnavailable, err)
	}

	if c.password != "" {
		if err := client.Command("password %s", c.password).OK(); err != nil {
			client.Close()
			return fmt.Errorf("%w: MPD authentication failed: %v", player.ErrUnavailable, err)
		}
	}

	c.client = client
	log.Info().Msg("Connected to MPD")
	return nil
}

// ensureConnected checks connection and reconnects if needed.
func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return c.connectLocked()
	}

	if err := c.client.Ping(); err != nil {
		log.Warn().Err(err).Msg("MPD connection lost, reconnecting...")
		c.client.Close()
		c.client = nil
		return c.connectLocked()
	}

	return nil
}

// do runs fn against a live connection. gompd has no cancellation, so ctx is
// only checked before the call.
func (c *Client) do(ctx context.Context, fn func(*mpd.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.ensureConnected(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return fn(c.client)
}

// Close closes the MPD connection and every subscriber channel.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events.Close()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Play replaces the queue with url and starts it.
func (c *Client) Play(ctx context.Context, url string) error {
	c.expectStop.Store(true)
	err := c.do(ctx, func(m *mpd.Client) error {
		if err := m.Clear(); err != nil {
			return err
		}
		if err := m.Add(url); err != nil {
			return fmt.Errorf("add %s: %w", url, err)
		}
		return m.Play(0)
	})
	if err != nil {
		return err
	}
	log.Info().Str("url", url).Msg("MPD playing")
	return nil
}

func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, func(m *mpd.Client) error { return m.Pause(true) })
}

func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, func(m *mpd.Client) error { return m.Pause(false) })
}

func (c *Client) Stop(ctx context.Context) error {
	c.expectStop.Store(true)
	return c.do(ctx, func(m *mpd.Client) error { return m.Stop() })
}

// Seek seeks to an absolute position in the current song.
func (c *Client) Seek(ctx context.Context, position float64) error {
	d := time.Duration(position * float64(time.Second))
	return c.do(ctx, func(m *mpd.Client) error { return m.SeekCur(d, false) })
}

// SetVolume sets the mixer volume (0-100).
func (c *Client) SetVolume(ctx context.Context, level int) error {
	if level < 0 {
		level = 0
	} else if level > 100 {
		level = 100
	}
	return c.do(ctx, func(m *mpd.Client) error { return m.SetVolume(level) })
}

func (c *Client) Volume(ctx context.Context) (int, error) {
	st, err := c.Status(ctx)
	return st.Volume, err
}

func (c *Client) Position(ctx context.Context) (float64, error) {
	st, err := c.Status(ctx)
	return st.Position, err
}

func (c *Client) Duration(ctx context.Context) (float64, error) {
	st, err := c.Status(ctx)
	return st.Duration, err
}

// Status reads MPD's status and current song.
func (c *Client) Status(ctx context.Context) (player.Status, error) {
	var status, song mpd.Attrs
	err := c.do(ctx, func(m *mpd.Client) error {
		var err error
		if status, err = m.Status(); err != nil {
			return err
		}
		song, err = m.CurrentSong()
		return err
	})
	if err != nil {
		return player.Status{}, err
	}
	return parseStatus(status, song), nil
}

func (c *Client) Subscribe() (<-chan player.Event, func()) {
	return c.events.Subscribe()
}

// parseStatus converts MPD attributes into a player snapshot.
func parseStatus(status, song mpd.Attrs) player.Status {
	st := player.Status{State: player.StatusIdle}
	switch status["state"] {
	case "play":
		st.State = player.StatusPlay
	case "pause":
		st.State = player.StatusPause
	}

	if v, err := strconv.Atoi(status["volume"]); err == nil && v >= 0 {
		st.Volume = v
	}
	st.Position = parseSeconds(status["elapsed"])
	st.Duration = parseSeconds(status["duration"])
	if st.Duration == 0 {
		st.Duration = parseSeconds(song["Time"])
	}
	if st.State != player.StatusIdle {
		st.URL = song["file"]
	}
	return st
}

func parseSeconds(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
