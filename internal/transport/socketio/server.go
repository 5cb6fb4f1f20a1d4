// Package socketio pushes renderer state to web clients over Socket.io and
// accepts simple transport commands from them.
package socketio

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/socket.io/servers/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/edumarques81/stellar-renderer/internal/domain/avtransport"
	"github.com/edumarques81/stellar-renderer/internal/soap"
)

const (
	// broadcastWindow collapses bursts of state changes into one push.
	broadcastWindow = 50 * time.Millisecond
	commandTimeout  = 10 * time.Second
)

// Transport is the subset of the transport service the web clients use.
type Transport interface {
	Snapshot() avtransport.Session
	PositionInfo(ctx context.Context) (avtransport.Session, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, unit, target string) error
}

// Rendering is the subset of the rendering service the web clients use.
type Rendering interface {
	Volume() int
	Muted() bool
	SetVolume(ctx context.Context, volume int) error
	SetMute(ctx context.Context, mute bool) error
}

// Options configures the server.
type Options struct {
	// MaxRemoteClients caps concurrent non-loopback clients; the oldest is
	// disconnected when a new one arrives. Zero means no limit.
	MaxRemoteClients int
}

// Server handles Socket.io connections and events.
type Server struct {
	io        *socket.Server
	transport Transport
	rendering Rendering
	debouncer *BroadcastDebouncer
	limiter   *ConnectionLimiter

	mu      sync.RWMutex
	clients map[string]*socket.Socket
}

// NewServer creates a new Socket.io server.
func NewServer(transport Transport, rendering Rendering, opts Options) *Server {
	sopts := socket.DefaultServerOptions()
	sopts.SetPingTimeout(20 * time.Second)
	sopts.SetPingInterval(25 * time.Second)
	sopts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})

	s := &Server{
		io:        socket.NewServer(nil, sopts),
		transport: transport,
		rendering: rendering,
		clients:   make(map[string]*socket.Socket),
	}
	if opts.MaxRemoteClients > 0 {
		s.limiter = NewConnectionLimiter(opts.MaxRemoteClients)
	}
	s.debouncer = NewBroadcastDebouncer(broadcastWindow, func(topics []string) {
		log.Debug().Strs("topics", topics).Msg("State changed")
		s.BroadcastState()
	})

	s.setupHandlers()
	return s
}

// Notify records a state change. Pushes are debounced.
func (s *Server) Notify(topic string) {
	s.debouncer.Notify(topic)
}

func (s *Server) setupHandlers() {
	s.io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		clientID := string(client.Id())
		remote := remoteIP(client)

		log.Info().Str("id", clientID).Str("remote", remote).Msg("Client connected")

		if s.limiter != nil {
			if evicted := s.limiter.Add(clientID, remote); evicted != "" {
				s.evict(evicted)
			}
		}

		s.mu.Lock()
		s.clients[clientID] = client
		s.mu.Unlock()

		// Send initial state after small delay
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.pushState(client)
		}()

		client.On("disconnect", func(args ...any) {
			reason := ""
			if len(args) > 0 {
				if r, ok := args[0].(string); ok {
					reason = r
				}
			}
			log.Info().Str("id", clientID).Str("reason", reason).Msg("Client disconnected")

			s.mu.Lock()
			delete(s.clients, clientID)
			s.mu.Unlock()
			if s.limiter != nil {
				s.limiter.Remove(clientID)
			}
		})

		client.On("getState", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("getState")
			s.pushState(client)
		})

		client.On("play", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("play")
			s.run("Play", s.transport.Play)
		})

		client.On("pause", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("pause")
			s.run("Pause", s.transport.Pause)
		})

		client.On("stop", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("stop")
			s.run("Stop", s.transport.Stop)
		})

		client.On("seek", func(args ...any) {
			pos, ok := numberArg(args)
			if !ok || pos < 0 {
				return
			}
			log.Debug().Str("id", clientID).Float64("pos", pos).Msg("seek")
			target := soap.FormatTime(int(pos))
			s.run("Seek", func(ctx context.Context) error {
				return s.transport.Seek(ctx, avtransport.UnitRelTime, target)
			})
		})

		client.On("volume", func(args ...any) {
			vol, ok := numberArg(args)
			if !ok {
				return
			}
			log.Debug().Str("id", clientID).Float64("vol", vol).Msg("volume")
			s.run("SetVolume", func(ctx context.Context) error {
				return s.rendering.SetVolume(ctx, int(vol))
			})
		})

		client.On("mute", func(args ...any) {
			mute := true
			if len(args) > 0 {
				if m, ok := args[0].(map[string]any); ok {
					if v, ok := m["value"].(bool); ok {
						mute = v
					}
				} else if v, ok := args[0].(bool); ok {
					mute = v
				}
			}
			log.Debug().Str("id", clientID).Bool("mute", mute).Msg("mute")
			s.run("SetMute", func(ctx context.Context) error {
				return s.rendering.SetMute(ctx, mute)
			})
		})

		client.On("unmute", func(args ...any) {
			log.Debug().Str("id", clientID).Msg("unmute")
			s.run("SetMute", func(ctx context.Context) error {
				return s.rendering.SetMute(ctx, false)
			})
		})
	})
}

// run executes a client command. Failures are logged; the state push that
// follows a successful change comes from the services' notifications.
func (s *Server) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("command", name).Msg("Client command failed")
	}
}

func (s *Server) evict(clientID string) {
	s.mu.Lock()
	client, ok := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()

	if ok {
		log.Info().Str("id", clientID).Msg("Evicting oldest remote client")
		client.Disconnect(true)
	}
}

// pushState sends current state to a client.
func (s *Server) pushState(client *socket.Socket) {
	client.Emit("pushState", s.CurrentState(context.Background()))
}

// CurrentState assembles the state pushed to clients.
func (s *Server) CurrentState(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	sess, err := s.transport.PositionInfo(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Live position unavailable")
		sess = s.transport.Snapshot()
	}
	return buildState(sess, s.rendering.Volume(), s.rendering.Muted())
}

// BroadcastState sends state to all connected clients.
func (s *Server) BroadcastState() {
	state := s.CurrentState(context.Background())
	s.io.Emit("pushState", state)

	if log.Debug().Enabled() {
		data, _ := json.Marshal(state)
		s.mu.RLock()
		clientCount := len(s.clients)
		s.mu.RUnlock()
		log.Debug().RawJSON("state", data).Int("clients", clientCount).Msg("Broadcast state")
	}
}

// ServeHTTP implements http.Handler for the Socket.io server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.io.ServeHandler(nil).ServeHTTP(w, r)
}

// Close closes the Socket.io server.
func (s *Server) Close() error {
	s.debouncer.Stop()
	s.io.Close(nil)
	return nil
}

func numberArg(args []any) (float64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	switch v := args[0].(type) {
	case float64:
		return v, true
	case map[string]any:
		f, ok := v["value"].(float64)
		return f, ok
	}
	return 0, false
}

func remoteIP(client *socket.Socket) string {
	hs := client.Handshake()
	if hs == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(hs.Address); err == nil {
		return host
	}
	return hs.Address
}
