// Package ssdp announces the renderer on the local network and answers
// discovery searches.
package ssdp

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/domain/device"
)

// GroupAddr is the SSDP multicast group and port.
const GroupAddr = "239.255.255.250:1900"

const (
	maxDatagram = 2048
	// maxPending caps the responses waiting out their MX delay.
	maxPending = 64
)

// PacketConn is the datagram socket the server runs on.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// Config configures announcements and responses.
type Config struct {
	Interface string
	Location  string
	Server    string
	MaxAge    int
	Interval  time.Duration
	// MaxMX clamps the requester's wait hint.
	MaxMX int
}

func (c Config) withDefaults() Config {
	if c.MaxAge <= 0 {
		c.MaxAge = 1800
	}
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxMX <= 0 {
		c.MaxMX = 5
	}
	return c
}

// Server is the discovery engine.
type Server struct {
	cfg      Config
	identity *device.Identity
	hdr      header

	conn    PacketConn
	group   net.Addr
	cancel  context.CancelFunc
	workers sync.WaitGroup // announcer and pending responders
	reader  sync.WaitGroup
	pending chan struct{}

	// mu orders workers.Add against Stop: once stopped is set no responder
	// is started.
	mu      sync.Mutex
	stopped bool
}

// New creates a server advertising identity.
func New(cfg Config, identity *device.Identity) *Server {
	cfg = cfg.withDefaults()
	return &Server{
		cfg:      cfg,
		identity: identity,
		hdr:      header{Location: cfg.Location, Server: cfg.Server, MaxAge: cfg.MaxAge},
		pending:  make(chan struct{}, maxPending),
	}
}

// Start joins the multicast group on the configured interface and starts
// the announcer and listener.
func (s *Server) Start(ctx context.Context) error {
	conn, err := listenMulticast(ctx, s.cfg.Interface)
	if err != nil {
		return err
	}
	group, err := net.ResolveUDPAddr("udp4", GroupAddr)
	if err != nil {
		conn.Close()
		return err
	}
	s.Serve(ctx, conn, group)
	return nil
}

// Serve runs the server on an already open socket. Announcements go to group.
func (s *Server) Serve(ctx context.Context, conn PacketConn, group net.Addr) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.conn = conn
	s.group = group

	s.workers.Add(1)
	go s.announce(ctx)

	s.reader.Add(1)
	go s.listen(ctx)

	log.Info().
		Str("group", GroupAddr).
		Str("location", s.cfg.Location).
		Dur("interval", s.cfg.Interval).
		Msg("SSDP discovery started")
}

// Stop sends byebye for every facet and releases the socket. If ctx expires
// first the socket is closed anyway and ctx's error returned.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()
	s.cancel = nil

	err := wait(ctx, &s.workers)
	for _, f := range s.identity.Facets() {
		s.send(s.hdr.notify(f, ByeBye), s.group)
	}
	s.conn.Close()
	if rerr := wait(ctx, &s.reader); err == nil {
		err = rerr
	}

	if err != nil {
		log.Warn().Err(err).Msg("SSDP shutdown exceeded grace period")
		return err
	}
	log.Info().Msg("SSDP discovery stopped")
	return nil
}

func wait(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) announce(ctx context.Context) {
	defer s.workers.Done()

	for {
		s.sendAlive()

		jitter := rand.N(s.cfg.Interval/10 + 1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Interval + jitter):
		}
	}
}

// sendAlive sends each facet twice to ride out packet loss.
func (s *Server) sendAlive() {
	for _, f := range s.identity.Facets() {
		msg := s.hdr.notify(f, Alive)
		s.send(msg, s.group)
		s.send(msg, s.group)
	}
	log.Debug().Msg("Sent SSDP alive")
}

// send writes one datagram, retrying once.
func (s *Server) send(msg []byte, addr net.Addr) {
	if _, err := s.conn.WriteTo(msg, addr); err == nil {
		return
	}
	if _, err := s.conn.WriteTo(msg, addr); err != nil {
		log.Warn().Err(err).Str("to", addr.String()).Msg("SSDP send failed")
	}
}

func (s *Server) listen(ctx context.Context) {
	defer s.reader.Done()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			log.Warn().Err(err).Msg("SSDP read failed")
			continue
		}

		search, err := ParseSearch(buf[:n])
		if err != nil {
			continue
		}
		facets := s.identity.Match(search.ST)
		if len(facets) == 0 {
			continue
		}

		log.Debug().Str("from", addr.String()).Str("st", search.ST).Int("mx", search.MX).Msg("M-SEARCH")
		s.spawnResponder(ctx, addr, search.MX, facets)
	}
}

// spawnResponder starts a responder unless the server is stopping or too
// many responses are already pending.
func (s *Server) spawnResponder(ctx context.Context, addr net.Addr, mx int, facets []device.Facet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	select {
	case s.pending <- struct{}{}:
	default:
		log.Debug().Str("from", addr.String()).Msg("Too many pending SSDP responses, dropping search")
		return
	}
	s.workers.Add(1)
	go s.respond(ctx, addr, mx, facets)
}

// respond waits a random share of the requester's MX, then answers once per
// facet.
func (s *Server) respond(ctx context.Context, addr net.Addr, mx int, facets []device.Facet) {
	defer s.workers.Done()
	defer func() { <-s.pending }()

	if bound := s.delayBound(mx); bound > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(rand.N(bound)):
		}
	}

	now := time.Now()
	for _, f := range facets {
		if ctx.Err() != nil {
			return
		}
		s.send(s.hdr.response(f, now), addr)
	}
}

// delayBound is the longest a response may be held back. It stays under
// the requester's MX so the answer lands inside its window.
func (s *Server) delayBound(mx int) time.Duration {
	if mx > s.cfg.MaxMX {
		mx = s.cfg.MaxMX
	}
	return time.Duration(mx) * time.Second * 9 / 10
}
