// Package connmgr implements the ConnectionManager service. The renderer
// never allocates transport connections; it only answers capability queries.
package connmgr

import (
	"context"
	"strings"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/soap"
)

const (
	// ServiceType is the ConnectionManager service URN.
	ServiceType = "urn:schemas-upnp-org:service:ConnectionManager:1"
	// ServiceID is the ConnectionManager service id.
	ServiceID = "urn:upnp-org:serviceId:ConnectionManager"
)

// DefaultFormats are the MIME types the renderer accepts over HTTP.
var DefaultFormats = []string{
	"audio/mpeg",
	"audio/mp3",
	"audio/mp4",
	"audio/x-m4a",
	"audio/aac",
	"audio/flac",
	"audio/x-flac",
	"audio/ogg",
	"audio/vorbis",
	"audio/wav",
	"audio/x-wav",
	"audio/L16",
	"application/ogg",
}

// Service answers ConnectionManager queries from a fixed format list.
type Service struct {
	sink string
}

// NewService builds the sink protocol list from formats. Nil means
// DefaultFormats.
func NewService(formats []string) *Service {
	if formats == nil {
		formats = DefaultFormats
	}
	infos := make([]string, len(formats))
	for i, f := range formats {
		infos[i] = "http-get:*:" + f + ":*"
	}
	return &Service{sink: strings.Join(infos, ",")}
}

// Sink returns the comma-separated sink protocol info.
func (s *Service) Sink() string {
	return s.sink
}

var (
	varSourceInfo  = &control.Variable{Name: "SourceProtocolInfo", Type: control.String, SendEvents: true}
	varSinkInfo    = &control.Variable{Name: "SinkProtocolInfo", Type: control.String, SendEvents: true}
	varConnIDs     = &control.Variable{Name: "CurrentConnectionIDs", Type: control.String, SendEvents: true}
	varConnID      = &control.Variable{Name: "A_ARG_TYPE_ConnectionID", Type: control.I4}
	varRcsID       = &control.Variable{Name: "A_ARG_TYPE_RcsID", Type: control.I4}
	varAVTID       = &control.Variable{Name: "A_ARG_TYPE_AVTransportID", Type: control.I4}
	varProtoInfo   = &control.Variable{Name: "A_ARG_TYPE_ProtocolInfo", Type: control.String}
	varPeerManager = &control.Variable{Name: "A_ARG_TYPE_ConnectionManager", Type: control.String}
	varDirection   = &control.Variable{Name: "A_ARG_TYPE_Direction", Type: control.String, Allowed: []string{"Input", "Output"}}
	varConnStatus  = &control.Variable{
		Name:    "A_ARG_TYPE_ConnectionStatus",
		Type:    control.String,
		Allowed: []string{"OK", "ContentFormatMismatch", "InsufficientBandwidth", "UnreliableChannel", "Unknown"},
	}
)

// Definition declares the ConnectionManager actions.
func (s *Service) Definition() control.Service {
	return control.Service{
		Name: "ConnectionManager",
		Type: ServiceType,
		ID:   ServiceID,
		Actions: []control.Action{
			{
				Name: "GetProtocolInfo",
				Out: []control.Argument{
					{Name: "Source", Variable: varSourceInfo},
					{Name: "Sink", Variable: varSinkInfo},
				},
				Handler: s.handleGetProtocolInfo,
			},
			{
				Name:    "GetCurrentConnectionIDs",
				Out:     []control.Argument{{Name: "ConnectionIDs", Variable: varConnIDs}},
				Handler: s.handleGetCurrentConnectionIDs,
			},
			{
				Name: "GetCurrentConnectionInfo",
				In:   []control.Argument{{Name: "ConnectionID", Variable: varConnID}},
				Out: []control.Argument{
					{Name: "RcsID", Variable: varRcsID},
					{Name: "AVTransportID", Variable: varAVTID},
					{Name: "ProtocolInfo", Variable: varProtoInfo},
					{Name: "PeerConnectionManager", Variable: varPeerManager},
					{Name: "PeerConnectionID", Variable: varConnID},
					{Name: "Direction", Variable: varDirection},
					{Name: "Status", Variable: varConnStatus},
				},
				Handler: s.handleGetCurrentConnectionInfo,
			},
		},
	}
}

func (s *Service) handleGetProtocolInfo(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	return []soap.Argument{
		{Name: "Source", Value: ""},
		{Name: "Sink", Value: s.sink},
	}, nil
}

func (s *Service) handleGetCurrentConnectionIDs(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	return []soap.Argument{{Name: "ConnectionIDs", Value: "0"}}, nil
}

func (s *Service) handleGetCurrentConnectionInfo(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if id := in.Int("ConnectionID"); id != 0 {
		return nil, soap.InvalidConnectionReference(id)
	}
	return []soap.Argument{
		{Name: "RcsID", Value: "0"},
		{Name: "AVTransportID", Value: "0"},
		{Name: "ProtocolInfo", Value: ""},
		{Name: "PeerConnectionManager", Value: ""},
		{Name: "PeerConnectionID", Value: "-1"},
		{Name: "Direction", Value: "Input"},
		{Name: "Status", Value: "OK"},
	}, nil
}
