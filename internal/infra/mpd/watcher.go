package mpd

import (
	"context"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/domain/player"
)

const watchRetry = 2 * time.Second

// Run watches MPD's player subsystem and publishes engine events until ctx
// is done. Losing the idle connection is reported as a disconnect; getting it
// back as a reconnect.
func (c *Client) Run(ctx context.Context) {
	connected := true
	last := ""
	if st, err := c.Status(ctx); err == nil {
		last = st.State
	}

	for ctx.Err() == nil {
		watcher, err := mpd.NewWatcher("tcp", c.addr(), c.password, "player", "mixer")
		if err != nil {
			if connected {
				connected = false
				log.Error().Err(err).Msg("MPD watcher failed")
				c.events.Publish(player.Event{Type: player.EventDisconnected})
			}
			if !sleep(ctx, watchRetry) {
				return
			}
			continue
		}

		if !connected {
			connected = true
			log.Info().Msg("MPD watcher restored")
			c.events.Publish(player.Event{Type: player.EventReconnected})
		}

		last = c.consume(ctx, watcher, last)
		watcher.Close()

		if ctx.Err() == nil {
			connected = false
			c.events.Publish(player.Event{Type: player.EventDisconnected})
			if !sleep(ctx, watchRetry) {
				return
			}
		}
	}
}

// consume handles watcher events until an error or ctx is done. It returns
// the last observed player state.
func (c *Client) consume(ctx context.Context, w *mpd.Watcher, last string) string {
	for {
		select {
		case <-ctx.Done():
			return last
		case err := <-w.Error:
			log.Error().Err(err).Msg("MPD watcher error")
			return last
		case subsystem, ok := <-w.Event:
			if !ok {
				return last
			}
			if subsystem != "player" {
				log.Debug().Str("subsystem", subsystem).Msg("MPD change")
				continue
			}
			st, err := c.Status(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("MPD status after player change failed")
				continue
			}
			if ev, ok := c.transition(last, st.State); ok {
				c.events.Publish(ev)
			}
			last = st.State
		}
	}
}

// transition maps a player state change onto an engine event.
func (c *Client) transition(from, to string) (player.Event, bool) {
	switch {
	case from == to:
		if to == player.StatusPlay {
			c.expectStop.Store(false)
		}
		return player.Event{}, false
	case to == player.StatusPause:
		return player.Event{Type: player.EventPaused}, true
	case to == player.StatusPlay && from == player.StatusPause:
		return player.Event{Type: player.EventResumed}, true
	case to == player.StatusPlay:
		c.expectStop.Store(false)
		return player.Event{Type: player.EventPlaybackStarted}, true
	case from == player.StatusPlay || from == player.StatusPause:
		if c.expectStop.Swap(false) {
			return player.Event{}, false
		}
		return player.Event{Type: player.EventPlaybackEnded, Reason: "eof"}, true
	}
	return player.Event{}, false
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
