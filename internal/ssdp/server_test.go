package ssdp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-renderer/internal/domain/device"
)

type datagram struct {
	data []byte
	addr net.Addr
}

// fakeConn is an in-memory PacketConn.
type fakeConn struct {
	in     chan datagram
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	out        []datagram
	failWrites int
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan datagram, 16), closed: make(chan struct{})}
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-c.in:
		return copy(b, d.data), d.addr, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites > 0 {
		c.failWrites--
		return 0, errors.New("network unreachable")
	}
	c.out = append(c.out, datagram{data: append([]byte(nil), b...), addr: addr})
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentTo(addr net.Addr) []datagram {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []datagram
	for _, d := range c.out {
		if d.addr.String() == addr.String() {
			out = append(out, d)
		}
	}
	return out
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

var (
	group     = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: 1900}
	requester = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 50123}
)

func testIdentity() *device.Identity {
	return &device.Identity{
		UUID:       "2fac1234-31f8-11b4-a222-08002b34c003",
		DeviceType: device.DeviceType,
		ServiceTypes: []string{
			"urn:schemas-upnp-org:service:AVTransport:1",
			"urn:schemas-upnp-org:service:RenderingControl:1",
			"urn:schemas-upnp-org:service:ConnectionManager:1",
		},
	}
}

func startServer(t *testing.T) (*Server, *fakeConn) {
	t.Helper()
	s := New(Config{
		Location: "http://192.168.1.10:8000/description.xml",
		Server:   "Linux/6.1 UPnP/1.0 StellarRenderer/test",
		Interval: time.Hour,
	}, testIdentity())
	conn := newFakeConn()
	s.Serve(context.Background(), conn, group)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, conn
}

func search(st, mx string) datagram {
	var b strings.Builder
	b.WriteString("M-SEARCH * HTTP/1.1\r\n")
	b.WriteString("HOST: 239.255.255.250:1900\r\n")
	b.WriteString("MAN: \"ssdp:discover\"\r\n")
	if mx != "" {
		b.WriteString("MX: " + mx + "\r\n")
	}
	b.WriteString("ST: " + st + "\r\n\r\n")
	return datagram{data: []byte(b.String()), addr: requester}
}

func parseHeaders(t *testing.T, raw []byte) http.Header {
	t.Helper()
	if bytes.HasPrefix(raw, []byte("HTTP/")) {
		resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
		if err != nil {
			t.Fatalf("bad response %q: %v", raw, err)
		}
		return resp.Header
	}
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		t.Fatalf("bad request %q: %v", raw, err)
	}
	return req.Header
}

func TestStartupAnnouncesEveryFacetTwice(t *testing.T) {
	_, conn := startServer(t)

	if !waitFor(t, time.Second, func() bool { return len(conn.sentTo(group)) >= 12 }) {
		t.Fatalf("expected 12 alive messages, got %d", len(conn.sentTo(group)))
	}

	counts := map[string]int{}
	for _, d := range conn.sentTo(group) {
		h := parseHeaders(t, d.data)
		if h.Get("NTS") != Alive {
			t.Errorf("NTS = %q", h.Get("NTS"))
		}
		if h.Get("Cache-Control") != "max-age=1800" {
			t.Errorf("CACHE-CONTROL = %q", h.Get("Cache-Control"))
		}
		if h.Get("Location") != "http://192.168.1.10:8000/description.xml" {
			t.Errorf("LOCATION = %q", h.Get("Location"))
		}
		counts[h.Get("USN")]++
	}
	for _, f := range testIdentity().Facets() {
		if counts[f.USN] != 2 {
			t.Errorf("facet %s announced %d times, want 2", f.USN, counts[f.USN])
		}
	}
}

func TestSearchAllAnswersEveryFacet(t *testing.T) {
	_, conn := startServer(t)

	start := time.Now()
	conn.in <- search("ssdp:all", "3")

	if !waitFor(t, 3*time.Second, func() bool { return len(conn.sentTo(requester)) >= 6 }) {
		t.Fatalf("expected 6 responses within 3s, got %d", len(conn.sentTo(requester)))
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("responses took %v", elapsed)
	}

	time.Sleep(50 * time.Millisecond)
	responses := conn.sentTo(requester)
	if len(responses) != 6 {
		t.Fatalf("expected exactly 6 responses, got %d", len(responses))
	}
	for _, d := range responses {
		h := parseHeaders(t, d.data)
		if h.Get("St") == "" || h.Get("Usn") == "" || h.Get("Date") == "" {
			t.Errorf("incomplete response: %q", d.data)
		}
		if _, ok := h["Ext"]; !ok {
			t.Errorf("response lacks EXT: %q", d.data)
		}
	}
}

func TestSearchSpecificTarget(t *testing.T) {
	_, conn := startServer(t)

	const st = "urn:schemas-upnp-org:service:RenderingControl:1"
	conn.in <- search(st, "")

	if !waitFor(t, time.Second, func() bool { return len(conn.sentTo(requester)) == 1 }) {
		t.Fatalf("expected 1 response, got %d", len(conn.sentTo(requester)))
	}
	h := parseHeaders(t, conn.sentTo(requester)[0].data)
	if h.Get("ST") != st {
		t.Errorf("ST = %q, want %q", h.Get("ST"), st)
	}
	if h.Get("USN") != "uuid:2fac1234-31f8-11b4-a222-08002b34c003::"+st {
		t.Errorf("USN = %q", h.Get("USN"))
	}
}

func TestSearchIgnored(t *testing.T) {
	_, conn := startServer(t)

	conn.in <- search("urn:schemas-upnp-org:device:MediaServer:1", "0")
	conn.in <- search("ssdp:all", "abc")
	conn.in <- search("ssdp:all", "-1")
	conn.in <- datagram{data: []byte("garbage\r\n\r\n"), addr: requester}
	conn.in <- datagram{data: []byte("M-SEARCH * HTTP/1.1\r\nST: ssdp:all\r\n\r\n"), addr: requester}
	// A valid search afterwards proves the listener survived the junk.
	conn.in <- search("upnp:rootdevice", "0")

	if !waitFor(t, time.Second, func() bool { return len(conn.sentTo(requester)) >= 1 }) {
		t.Fatal("listener stopped answering")
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(conn.sentTo(requester)); got != 1 {
		t.Errorf("expected only the rootdevice response, got %d", got)
	}
}

func TestStopSendsByeBye(t *testing.T) {
	s, conn := startServer(t)
	waitFor(t, time.Second, func() bool { return len(conn.sentTo(group)) >= 12 })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	byes := map[string]bool{}
	for _, d := range conn.sentTo(group) {
		h := parseHeaders(t, d.data)
		if h.Get("NTS") == ByeBye {
			byes[h.Get("USN")] = true
		}
	}
	for _, f := range testIdentity().Facets() {
		if !byes[f.USN] {
			t.Errorf("no byebye for %s", f.USN)
		}
	}

	select {
	case <-conn.closed:
	default:
		t.Error("socket not closed")
	}
}

func TestSearchesDuringStop(t *testing.T) {
	for i := 0; i < 50; i++ {
		s, conn := startServer(t)

		feeding := make(chan struct{})
		go func() {
			defer close(feeding)
			for {
				select {
				case conn.in <- search("ssdp:all", "0"):
				case <-conn.closed:
					return
				}
			}
		}()
		waitFor(t, time.Second, func() bool { return len(conn.sentTo(requester)) > 0 })

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := s.Stop(ctx)
		cancel()
		if err != nil {
			t.Fatalf("run %d: Stop failed: %v", i, err)
		}
		<-feeding

		conn.mu.Lock()
		out := append([]datagram(nil), conn.out...)
		conn.mu.Unlock()

		byeSeen := false
		for _, d := range out {
			if d.addr.String() == group.String() && bytes.Contains(d.data, []byte("NTS: "+ByeBye)) {
				byeSeen = true
				continue
			}
			if byeSeen && d.addr.String() == requester.String() {
				t.Fatalf("run %d: search response sent after byebye", i)
			}
		}
		if !byeSeen {
			t.Fatalf("run %d: no byebye sent", i)
		}
	}
}

func TestSendRetriesOnce(t *testing.T) {
	s := New(Config{Location: "http://x/description.xml"}, testIdentity())
	conn := newFakeConn()
	s.conn = conn

	conn.failWrites = 1
	s.send([]byte("hello"), requester)
	if got := len(conn.sentTo(requester)); got != 1 {
		t.Errorf("expected retry to deliver, got %d", got)
	}

	conn.failWrites = 2
	s.send([]byte("hello"), requester)
	if got := len(conn.sentTo(requester)); got != 1 {
		t.Errorf("expected no further delivery after two failures, got %d", got)
	}
}

func TestDelayBound(t *testing.T) {
	s := New(Config{}, testIdentity())

	tests := []struct {
		mx   int
		want time.Duration
	}{
		{0, 0},
		{1, 900 * time.Millisecond},
		{3, 2700 * time.Millisecond},
		{5, 4500 * time.Millisecond},
		{120, 4500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := s.delayBound(tt.mx); got != tt.want {
			t.Errorf("delayBound(%d) = %v, want %v", tt.mx, got, tt.want)
		}
	}
}

func TestParseSearch(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Search
		wantErr bool
	}{
		{
			name: "full",
			raw:  "M-SEARCH * HTTP/1.1\r\nHOST: 239.255.255.250:1900\r\nMAN: \"ssdp:discover\"\r\nMX: 2\r\nST: ssdp:all\r\n\r\n",
			want: Search{ST: "ssdp:all", MX: 2},
		},
		{
			name: "lowercase headers",
			raw:  "M-SEARCH * HTTP/1.1\r\nman: \"ssdp:discover\"\r\nst: upnp:rootdevice\r\n\r\n",
			want: Search{ST: "upnp:rootdevice"},
		},
		{name: "notify", raw: "NOTIFY * HTTP/1.1\r\nNT: upnp:rootdevice\r\n\r\n", wantErr: true},
		{name: "wrong MAN", raw: "M-SEARCH * HTTP/1.1\r\nMAN: \"ssdp:update\"\r\nST: ssdp:all\r\n\r\n", wantErr: true},
		{name: "missing ST", raw: "M-SEARCH * HTTP/1.1\r\nMAN: \"ssdp:discover\"\r\n\r\n", wantErr: true},
		{name: "bad MX", raw: "M-SEARCH * HTTP/1.1\r\nMAN: \"ssdp:discover\"\r\nMX: soon\r\nST: ssdp:all\r\n\r\n", wantErr: true},
		{name: "not http", raw: "\x00\x01\x02", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSearch([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("expected ErrMalformed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseSearch() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestByeByeOmitsLocation(t *testing.T) {
	h := header{Location: "http://x/description.xml", Server: "s", MaxAge: 1800}
	f := device.Facet{NT: device.RootDevice, USN: "uuid:a::upnp:rootdevice"}

	msg := string(h.notify(f, ByeBye))
	if strings.Contains(msg, "LOCATION") {
		t.Errorf("byebye carries LOCATION: %q", msg)
	}
	if !strings.HasPrefix(msg, "NOTIFY * HTTP/1.1\r\n") || !strings.HasSuffix(msg, "\r\n\r\n") {
		t.Errorf("malformed notify: %q", msg)
	}
}
