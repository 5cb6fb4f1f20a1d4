package mpv

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/domain/player"
)

var _ player.Engine = (*Client)(nil)

// Play loads url, replacing whatever is loaded, and waits until mpv reports
// the file loaded or failed.
func (c *Client) Play(ctx context.Context, url string) error {
	wait := make(chan error, 1)
	c.mu.Lock()
	c.loadWait = wait
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		if c.loadWait == wait {
			c.loadWait = nil
		}
		c.mu.Unlock()
	}

	if err := c.setProperty(ctx, "pause", false); err != nil {
		abandon()
		return err
	}
	if _, err := c.call(ctx, "loadfile", url, "replace"); err != nil {
		abandon()
		return err
	}

	timer := time.NewTimer(c.cfg.LoadTimeout)
	defer timer.Stop()

	select {
	case err := <-wait:
		if err != nil {
			return err
		}
		log.Info().Str("url", url).Msg("mpv loaded media")
		return nil
	case <-timer.C:
		abandon()
		return player.ErrTimeout
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	}
}

func (c *Client) Pause(ctx context.Context) error {
	return c.setProperty(ctx, "pause", true)
}

func (c *Client) Resume(ctx context.Context) error {
	return c.setProperty(ctx, "pause", false)
}

func (c *Client) Stop(ctx context.Context) error {
	_, err := c.call(ctx, "stop")
	return err
}

func (c *Client) Seek(ctx context.Context, position float64) error {
	_, err := c.call(ctx, "seek", position, "absolute")
	return err
}

func (c *Client) SetVolume(ctx context.Context, level int) error {
	return c.setProperty(ctx, "volume", level)
}

func (c *Client) Volume(ctx context.Context) (int, error) {
	v, err := c.floatProperty(ctx, "volume")
	if err != nil {
		return 0, err
	}
	return int(math.Round(v)), nil
}

func (c *Client) Position(ctx context.Context) (float64, error) {
	return c.floatProperty(ctx, "time-pos")
}

func (c *Client) Duration(ctx context.Context) (float64, error) {
	return c.floatProperty(ctx, "duration")
}

// Status assembles a snapshot from several property reads.
func (c *Client) Status(ctx context.Context) (player.Status, error) {
	var st player.Status

	idle, err := c.boolProperty(ctx, "idle-active")
	if err != nil {
		return st, err
	}
	paused, err := c.boolProperty(ctx, "pause")
	if err != nil {
		return st, err
	}
	switch {
	case idle:
		st.State = player.StatusIdle
	case paused:
		st.State = player.StatusPause
	default:
		st.State = player.StatusPlay
	}

	if st.Volume, err = c.Volume(ctx); err != nil {
		return st, err
	}
	if idle {
		return st, nil
	}

	if st.URL, err = c.stringProperty(ctx, "path"); err != nil {
		return st, err
	}
	if st.Position, err = c.Position(ctx); err != nil {
		return st, err
	}
	if st.Duration, err = c.Duration(ctx); err != nil {
		return st, err
	}
	return st, nil
}

func (c *Client) Subscribe() (<-chan player.Event, func()) {
	return c.events.Subscribe()
}

func (c *Client) setProperty(ctx context.Context, name string, value any) error {
	_, err := c.call(ctx, "set_property", name, value)
	return err
}

func (c *Client) getProperty(ctx context.Context, name string, dst any) error {
	data, err := c.call(ctx, "get_property", name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode mpv property %s: %w", name, err)
	}
	return nil
}

// floatProperty reads a numeric property. Properties that do not exist while
// nothing is loaded read as 0.
func (c *Client) floatProperty(ctx context.Context, name string) (float64, error) {
	var v float64
	err := c.getProperty(ctx, name, &v)
	if isPropertyUnavailable(err) {
		return 0, nil
	}
	return v, err
}

func (c *Client) boolProperty(ctx context.Context, name string) (bool, error) {
	var v bool
	err := c.getProperty(ctx, name, &v)
	if isPropertyUnavailable(err) {
		return false, nil
	}
	return v, err
}

func (c *Client) stringProperty(ctx context.Context, name string) (string, error) {
	var v string
	err := c.getProperty(ctx, name, &v)
	if isPropertyUnavailable(err) {
		return "", nil
	}
	return v, err
}
