package socketio

import (
	"net"
	"slices"
	"sync"
)

// ConnectionLimiter caps concurrent remote web clients. Loopback clients are
// never counted. When a new remote client exceeds the cap the oldest remote
// client is evicted.
type ConnectionLimiter struct {
	mu        sync.Mutex
	maxRemote int
	remote    []string // oldest first
	known     map[string]bool
}

// NewConnectionLimiter creates a limiter admitting up to maxRemote remote
// clients at once.
func NewConnectionLimiter(maxRemote int) *ConnectionLimiter {
	return &ConnectionLimiter{
		maxRemote: maxRemote,
		known:     make(map[string]bool),
	}
}

// Add registers a client and returns the ID of the client to evict, if any.
func (cl *ConnectionLimiter) Add(clientID, remoteIP string) (evicted string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.known[clientID] || isLoopback(remoteIP) {
		return ""
	}
	cl.known[clientID] = true
	cl.remote = append(cl.remote, clientID)

	if len(cl.remote) <= cl.maxRemote {
		return ""
	}
	evicted = cl.remote[0]
	cl.remote = cl.remote[1:]
	delete(cl.known, evicted)
	return evicted
}

// Remove unregisters a client when it disconnects.
func (cl *ConnectionLimiter) Remove(clientID string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if !cl.known[clientID] {
		return
	}
	delete(cl.known, clientID)
	if i := slices.Index(cl.remote, clientID); i >= 0 {
		cl.remote = slices.Delete(cl.remote, i, i+1)
	}
}

// Remote returns the number of remote clients currently admitted.
func (cl *ConnectionLimiter) Remote() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.remote)
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
