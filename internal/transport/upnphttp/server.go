// Package upnphttp serves the renderer's UPnP HTTP surface: control
// endpoints, device and service descriptions, eventing subscriptions and a
// small JSON API.
package upnphttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/domain/device"
	"github.com/edumarques81/stellar-renderer/internal/soap"
	"github.com/edumarques81/stellar-renderer/internal/version"
)

const (
	// DescriptionPath is where the device description is served.
	DescriptionPath = "/description.xml"

	controlPrefix = "/upnp/control/"
	scpdPrefix    = "/upnp/scpd/"
	eventPrefix   = "/upnp/event/"

	maxControlBody = 64 << 10
	contentTypeXML = `text/xml; charset="utf-8"`
)

// Options configures optional parts of the surface.
type Options struct {
	// Health reports whether the playback engine answers.
	Health func(ctx context.Context) error
	// State returns a JSON-encodable snapshot of the renderer.
	State func(ctx context.Context) any
	// Server is the SERVER header value.
	Server string
}

type Server struct {
	registry *control.Registry
	identity *device.Identity
	opts     Options
	subs     *subscriptions
}

// New creates the HTTP surface for the registered services.
func New(registry *control.Registry, identity *device.Identity, opts Options) *Server {
	if opts.Server == "" {
		opts.Server = version.ServerHeader()
	}
	return &Server{
		registry: registry,
		identity: identity,
		opts:     opts,
		subs:     newSubscriptions(),
	}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(DescriptionPath, s.handleDescription)
	mux.HandleFunc(controlPrefix+"{service}", s.handleControl)
	mux.HandleFunc(scpdPrefix+"{file}", s.handleSCPD)
	mux.HandleFunc(eventPrefix+"{service}", s.handleEvent)

	mux.Handle("/health", corsMiddleware(http.HandlerFunc(s.handleHealth)))
	mux.Handle("/api/v1/version", corsMiddleware(http.HandlerFunc(s.handleVersion)))
	if s.opts.State != nil {
		mux.Handle("/api/v1/state", corsMiddleware(http.HandlerFunc(s.handleState)))
	}
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.registry.Lookup(r.PathValue("service"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxControlBody+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxControlBody {
		http.Error(w, "request too large", http.StatusRequestEntityTooLarge)
		return
	}

	action, err := soap.Parse(body)
	if err != nil {
		log.Debug().Err(err).Str("service", svc.Name).Msg("Rejected control message")
		s.writeFault(w, err)
		return
	}
	if action.ServiceType != svc.Type {
		s.writeFault(w, soap.InvalidAction(action.Name))
		return
	}
	if err := checkSOAPAction(r.Header.Get("SOAPACTION"), action); err != nil {
		s.writeFault(w, err)
		return
	}

	results, err := s.registry.Dispatch(r.Context(), action)
	if err != nil {
		fault := soap.FaultFor(err)
		ev := log.Debug()
		if fault.Code == soap.CodeActionFailed {
			ev = log.Warn()
		}
		ev.Str("service", svc.Name).Str("action", action.Name).Int("code", fault.Code).Msg(fault.Description)
		s.writeFault(w, fault)
		return
	}

	log.Debug().Str("service", svc.Name).Str("action", action.Name).Msg("Control action")
	s.writeXML(w, http.StatusOK, soap.EncodeResult(action.ServiceType, action.Name, results))
}

// checkSOAPAction compares the SOAPACTION header, when sent, with the
// action in the body.
func checkSOAPAction(header string, action *soap.Action) error {
	header = strings.Trim(strings.TrimSpace(header), `"`)
	if header == "" {
		return nil
	}
	i := strings.LastIndex(header, "#")
	if i < 0 || header[:i] != action.ServiceType || header[i+1:] != action.Name {
		return soap.InvalidAction(header)
	}
	return nil
}

func (s *Server) writeFault(w http.ResponseWriter, err error) {
	fault := soap.FaultFor(err)
	s.writeXML(w, http.StatusInternalServerError, soap.EncodeFault(fault.Code, fault.Description))
}

func (s *Server) writeXML(w http.ResponseWriter, status int, body []byte) {
	h := w.Header()
	h.Set("Content-Type", contentTypeXML)
	h.Set("EXT", "")
	h.Set("Server", s.opts.Server)
	w.WriteHeader(status)
	w.Write(body)
}

func (s *Server) handleDescription(w http.ResponseWriter, r *http.Request) {
	body, err := deviceDescriptionXML(s.identity, s.registry.Services())
	if err != nil {
		log.Error().Err(err).Msg("Failed to build device description")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeXML(w, http.StatusOK, body)
}

func (s *Server) handleSCPD(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".xml")
	if !ok {
		http.NotFound(w, r)
		return
	}
	svc, ok := s.registry.Lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	body, err := scpdXML(svc)
	if err != nil {
		log.Error().Err(err).Str("service", name).Msg("Failed to build service description")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.writeXML(w, http.StatusOK, body)
}

// HealthResponse is the body of /health.
type HealthResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Engine: "connected"}
	status := http.StatusOK

	if s.opts.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Health(ctx); err != nil {
			resp = HealthResponse{Status: "error", Engine: "disconnected", Error: err.Error()}
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.GetInfo())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.State(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}
