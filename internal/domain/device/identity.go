// Package device provides the renderer's identity: the record advertised
// over SSDP and described in the device description.
package device

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DeviceType is the UPnP MediaRenderer device URN.
	DeviceType = "urn:schemas-upnp-org:device:MediaRenderer:1"
	// RootDevice is the root-device notification type.
	RootDevice = "upnp:rootdevice"
)

// Options are the configured identity fields. An empty UUID means use the
// persisted one, generating it on first start.
type Options struct {
	UUID         string
	FriendlyName string
	Manufacturer string
	ModelName    string
	ModelNumber  string
	SerialNumber string
}

// Identity is immutable once loaded.
type Identity struct {
	UUID         string
	FriendlyName string
	DeviceType   string
	Manufacturer string
	ModelName    string
	ModelNumber  string
	SerialNumber string
	ServiceTypes []string
}

// Facet is one independently advertised aspect of the device.
type Facet struct {
	NT  string // notification / search target
	USN string // unique service name
}

// persistedIdentity is the format stored on disk.
type persistedIdentity struct {
	UUID string `json:"uuid"`
}

// Load builds the identity. When opts carries no UUID it is read from
// statePath, or generated and written there so the renderer keeps the same
// identity across restarts.
func Load(statePath string, opts Options, serviceTypes []string) (*Identity, error) {
	id := &Identity{
		UUID:         strings.TrimPrefix(opts.UUID, "uuid:"),
		FriendlyName: opts.FriendlyName,
		DeviceType:   DeviceType,
		Manufacturer: opts.Manufacturer,
		ModelName:    opts.ModelName,
		ModelNumber:  opts.ModelNumber,
		SerialNumber: opts.SerialNumber,
		ServiceTypes: append([]string(nil), serviceTypes...),
	}

	if id.FriendlyName == "" {
		id.FriendlyName = defaultFriendlyName()
	}

	if id.UUID == "" {
		u, err := loadOrCreateUUID(statePath)
		if err != nil {
			return nil, err
		}
		id.UUID = u
	} else if _, err := uuid.Parse(id.UUID); err != nil {
		return nil, fmt.Errorf("invalid device uuid %q: %w", opts.UUID, err)
	}

	if id.SerialNumber == "" {
		id.SerialNumber = id.UUID
	}

	log.Info().
		Str("uuid", id.UUID).
		Str("name", id.FriendlyName).
		Msg("Device identity initialized")

	return id, nil
}

func loadOrCreateUUID(statePath string) (string, error) {
	data, err := os.ReadFile(statePath)
	if err == nil {
		var p persistedIdentity
		if err := json.Unmarshal(data, &p); err == nil {
			if _, err := uuid.Parse(p.UUID); err == nil {
				return p.UUID, nil
			}
		}
		log.Warn().Str("path", statePath).Msg("Device state file unreadable, generating new identity")
	} else {
		log.Debug().Err(err).Msg("No existing device state, generating new identity")
	}

	id := uuid.New().String()

	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err = json.MarshalIndent(persistedIdentity{UUID: id}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(statePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save device state: %w", err)
	}
	return id, nil
}

// UDN returns the unique device name, "uuid:<uuid>".
func (id *Identity) UDN() string {
	return "uuid:" + id.UUID
}

// USN builds the unique service name for a notification type.
func (id *Identity) USN(nt string) string {
	if nt == id.UDN() {
		return nt
	}
	return id.UDN() + "::" + nt
}

// Facets returns every advertised facet in announcement order: root device,
// device instance, device type, then each service.
func (id *Identity) Facets() []Facet {
	nts := append([]string{RootDevice, id.UDN(), id.DeviceType}, id.ServiceTypes...)
	facets := make([]Facet, len(nts))
	for i, nt := range nts {
		facets[i] = Facet{NT: nt, USN: id.USN(nt)}
	}
	return facets
}

// Match returns the facets a search target selects. "ssdp:all" selects all.
func (id *Identity) Match(st string) []Facet {
	all := id.Facets()
	if st == "ssdp:all" {
		return all
	}
	for _, f := range all {
		if f.NT == st {
			return []Facet{f}
		}
	}
	return nil
}

func defaultFriendlyName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "Stellar Renderer"
	}
	return "Stellar Renderer (" + hostname + ")"
}
