package upnphttp

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const subscriptionTimeout = 1800 * time.Second

// subscriptions tracks GENA subscribers. Subscriptions are accepted and
// renewed but no event messages are delivered.
type subscriptions struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func newSubscriptions() *subscriptions {
	return &subscriptions{expires: make(map[string]time.Time), now: time.Now}
}

func (s *subscriptions) add() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	sid := "uuid:" + uuid.New().String()
	s.expires[sid] = s.now().Add(subscriptionTimeout)
	return sid
}

func (s *subscriptions) renew(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if _, ok := s.expires[sid]; !ok {
		return false
	}
	s.expires[sid] = s.now().Add(subscriptionTimeout)
	return true
}

func (s *subscriptions) remove(sid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	if _, ok := s.expires[sid]; !ok {
		return false
	}
	delete(s.expires, sid)
	return true
}

// prune drops expired subscriptions. Callers hold mu.
func (s *subscriptions) prune() {
	now := s.now()
	for sid, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, sid)
		}
	}
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("service")
	if _, ok := s.registry.Lookup(name); !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case "SUBSCRIBE":
		s.subscribe(w, r, name)
	case "UNSUBSCRIBE":
		sid := r.Header.Get("SID")
		if sid == "" || !s.subs.remove(sid) {
			http.Error(w, "precondition failed", http.StatusPreconditionFailed)
			return
		}
		log.Debug().Str("service", name).Str("sid", sid).Msg("UNSUBSCRIBE")
		w.WriteHeader(http.StatusOK)
	default:
		w.Header().Set("Allow", "SUBSCRIBE, UNSUBSCRIBE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) subscribe(w http.ResponseWriter, r *http.Request, name string) {
	sid := r.Header.Get("SID")
	callback := r.Header.Get("CALLBACK")
	nt := r.Header.Get("NT")

	switch {
	case sid != "":
		if callback != "" || nt != "" {
			http.Error(w, "incompatible header fields", http.StatusBadRequest)
			return
		}
		if !s.subs.renew(sid) {
			http.Error(w, "precondition failed", http.StatusPreconditionFailed)
			return
		}
	case nt != "upnp:event" || !strings.HasPrefix(callback, "<"):
		http.Error(w, "precondition failed", http.StatusPreconditionFailed)
		return
	default:
		sid = s.subs.add()
	}

	log.Debug().Str("service", name).Str("sid", sid).Str("callback", callback).Msg("SUBSCRIBE")

	h := w.Header()
	h.Set("SID", sid)
	h.Set("TIMEOUT", "Second-"+strconv.Itoa(int(subscriptionTimeout.Seconds())))
	h.Set("Server", s.opts.Server)
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusOK)
}
