// Package mdns advertises the renderer over multicast DNS for control points
// that browse DNS-SD instead of issuing SSDP searches.
package mdns

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog/log"
)

// ServiceType is the DNS-SD service advertised.
const ServiceType = "_stellar-renderer._tcp"

// Config describes the advertised instance.
type Config struct {
	Instance  string // friendly name
	Interface string // empty means all interfaces
	IP        net.IP
	Port      int
	UUID      string
	Location  string // description URL
}

// Advertiser owns the mDNS responder.
type Advertiser struct {
	cfg Config

	mu     sync.Mutex
	server *mdns.Server
}

// NewAdvertiser creates an advertiser. Nothing is sent until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{cfg: cfg}
}

func (a *Advertiser) zone() (*mdns.MDNSService, error) {
	if a.cfg.Instance == "" {
		return nil, errors.New("mdns: instance name required")
	}
	if a.cfg.Port <= 0 {
		return nil, fmt.Errorf("mdns: invalid port %d", a.cfg.Port)
	}
	var ips []net.IP
	if a.cfg.IP != nil {
		ips = []net.IP{a.cfg.IP}
	}
	txt := []string{
		"uuid=" + a.cfg.UUID,
		"location=" + a.cfg.Location,
	}
	return mdns.NewMDNSService(a.cfg.Instance, ServiceType, "", "", a.cfg.Port, ips, txt)
}

// Start begins answering mDNS queries.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	service, err := a.zone()
	if err != nil {
		return err
	}

	mcfg := &mdns.Config{Zone: service}
	if a.cfg.Interface != "" {
		iface, err := net.InterfaceByName(a.cfg.Interface)
		if err != nil {
			return fmt.Errorf("mdns: interface %s: %w", a.cfg.Interface, err)
		}
		mcfg.Iface = iface
	}

	server, err := mdns.NewServer(mcfg)
	if err != nil {
		return fmt.Errorf("mdns: start responder: %w", err)
	}
	a.server = server

	log.Info().
		Str("instance", a.cfg.Instance).
		Str("type", ServiceType).
		Int("port", a.cfg.Port).
		Msg("Advertising mDNS service")
	return nil
}

// Stop shuts the responder down. Safe to call when not started.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server == nil {
		return nil
	}
	err := a.server.Shutdown()
	a.server = nil
	return err
}
