// Package mpv drives an mpv process over its JSON IPC socket and exposes it
// as a player.Engine.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/domain/player"
)

// maxMessage bounds one IPC line. Track metadata can be large.
const maxMessage = 1 << 20

// ConnState is the state of the IPC channel.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// CommandError is an error reported by mpv for a command.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return "mpv: " + e.Message
}

func isPropertyUnavailable(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce) && ce.Message == "property unavailable"
}

type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

type message struct {
	Event     string          `json:"event"`
	RequestID *int64          `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Name      string          `json:"name"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
}

type response struct {
	data json.RawMessage
	err  error
}

// Client is a supervised IPC connection to mpv. Commands are correlated with
// responses by request id; everything else on the socket is an event.
type Client struct {
	cfg Config

	mu       sync.Mutex
	conn     net.Conn
	state    ConnState
	pending  map[int64]chan response
	loadWait chan error
	proc     *process
	closed   bool

	writeMu sync.Mutex
	nextID  atomic.Int64

	events *player.Broadcaster
	lost   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a client. Nothing is started until Connect.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		pending: make(map[int64]chan response),
		events:  player.NewBroadcaster(),
		lost:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// State returns the current channel state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel, spawning mpv first when a binary is configured,
// and starts the supervisor that restores the channel after a crash.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.supervise()
	return nil
}

// dial brings up one connection, retrying with backoff.
func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return player.ErrUnavailable
	}
	c.state = Connecting
	c.mu.Unlock()

	if err := c.ensureProcess(); err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("%w: %v", player.ErrUnavailable, err)
	}

	var (
		conn    net.Conn
		err     error
		backoff = c.cfg.BackoffMin
	)
	for attempt := 1; attempt <= c.cfg.ConnectRetries; attempt++ {
		d := net.Dialer{Timeout: c.cfg.CommandTimeout}
		conn, err = d.DialContext(ctx, "unix", c.cfg.SocketPath)
		if err == nil {
			break
		}
		log.Debug().Err(err).Int("attempt", attempt).Str("socket", c.cfg.SocketPath).Msg("mpv socket not ready")

		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.cfg.BackoffMax {
			backoff = c.cfg.BackoffMax
		}
	}
	if err != nil {
		c.setState(Disconnected)
		log.Error().Err(err).Str("socket", c.cfg.SocketPath).Int("retries", c.cfg.ConnectRetries).Msg("Failed to connect to mpv")
		return fmt.Errorf("%w: %v", player.ErrUnavailable, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return player.ErrUnavailable
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.wg.Add(1)
	go c.read(conn)

	if _, err := c.call(ctx, "observe_property", 1, "pause"); err != nil {
		log.Warn().Err(err).Msg("Failed to observe mpv pause property")
	}

	log.Info().Str("socket", c.cfg.SocketPath).Msg("Connected to mpv")
	return nil
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// supervise reconnects whenever the reader reports the channel lost.
func (c *Client) supervise() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.lost:
		}

		log.Warn().Msg("mpv connection lost, recovering")
		for {
			err := c.dial(c.ctx)
			if err == nil {
				c.events.Publish(player.Event{Type: player.EventReconnected})
				log.Info().Msg("mpv connection restored")
				break
			}
			if c.ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("mpv recovery attempt failed")
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.cfg.BackoffMax):
			}
		}
	}
}

// read decodes messages until the connection closes.
func (c *Client) read(conn net.Conn) {
	defer c.wg.Done()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxMessage)
	for scanner.Scan() {
		c.dispatch(scanner.Bytes())
	}
	if err := scanner.Err(); err != nil {
		log.Debug().Err(err).Msg("mpv reader stopped")
	}
	c.connectionLost(conn)
}

func (c *Client) connectionLost(conn net.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	c.failPendingLocked(player.ErrDisconnected)
	closing := c.closed
	c.mu.Unlock()

	conn.Close()
	if closing {
		return
	}

	c.events.Publish(player.Event{Type: player.EventDisconnected})
	select {
	case c.lost <- struct{}{}:
	default:
	}
}

// failPendingLocked must be called with c.mu held.
func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		ch <- response{err: err}
		delete(c.pending, id)
	}
	if c.loadWait != nil {
		c.loadWait <- err
		c.loadWait = nil
	}
}

func (c *Client) dispatch(line []byte) {
	var m message
	if err := json.Unmarshal(line, &m); err != nil {
		log.Debug().Err(err).Str("line", string(line)).Msg("Ignoring undecodable mpv message")
		return
	}

	if m.Event != "" {
		c.handleEvent(m)
		return
	}
	if m.RequestID == nil {
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*m.RequestID]
	delete(c.pending, *m.RequestID)
	c.mu.Unlock()
	if !ok {
		return
	}

	if m.Error != "success" {
		ch <- response{err: &CommandError{Message: m.Error}}
		return
	}
	ch <- response{data: m.Data}
}

func (c *Client) handleEvent(m message) {
	switch m.Event {
	case "file-loaded":
		c.resolveLoad(nil)
		c.events.Publish(player.Event{Type: player.EventPlaybackStarted})
	case "end-file":
		switch m.Reason {
		case "eof":
			c.events.Publish(player.Event{Type: player.EventPlaybackEnded, Reason: m.Reason})
		case "error":
			c.resolveLoad(fmt.Errorf("mpv could not play media: %s", m.FileError))
			c.events.Publish(player.Event{Type: player.EventPlaybackEnded, Reason: m.Reason})
		}
	case "property-change":
		if m.Name != "pause" {
			return
		}
		var paused bool
		if err := json.Unmarshal(m.Data, &paused); err != nil {
			return
		}
		if paused {
			c.events.Publish(player.Event{Type: player.EventPaused})
		} else {
			c.events.Publish(player.Event{Type: player.EventResumed})
		}
	default:
		log.Debug().Str("event", m.Event).Msg("mpv event")
	}
}

func (c *Client) resolveLoad(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loadWait != nil {
		c.loadWait <- err
		c.loadWait = nil
	}
}

// call sends one command and waits for its response.
func (c *Client) call(ctx context.Context, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != Connected || c.conn == nil {
		c.mu.Unlock()
		return nil, player.ErrUnavailable
	}
	id := c.nextID.Add(1)
	ch := make(chan response, 1)
	c.pending[id] = ch
	conn := c.conn
	c.mu.Unlock()

	payload, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("encode mpv command: %w", err)
	}
	payload = append(payload, '\n')

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.CommandTimeout))
	_, err = conn.Write(payload)
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("%w: %v", player.ErrDisconnected, err)
	}

	timer := time.NewTimer(c.cfg.CommandTimeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.data, r.err
	case <-timer.C:
		c.removePending(id)
		log.Warn().Int64("request_id", id).Interface("command", args).Msg("mpv command timed out")
		return nil, player.ErrTimeout
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close stops the supervisor, closes the channel and terminates a spawned
// mpv process.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.failPendingLocked(player.ErrUnavailable)
	proc := c.proc
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()

	if proc != nil {
		proc.stop(c.cfg.StopGrace)
		removeSocket(c.cfg.SocketPath)
	}
	c.events.Close()
	log.Info().Msg("mpv client closed")
	return nil
}
