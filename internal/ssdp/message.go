package ssdp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/edumarques81/stellar-renderer/internal/domain/device"
)

// Notification sub-types.
const (
	Alive  = "ssdp:alive"
	ByeBye = "ssdp:byebye"
)

// ErrMalformed marks a datagram that is not a usable search request.
var ErrMalformed = errors.New("malformed ssdp message")

// Search is a parsed M-SEARCH request.
type Search struct {
	ST string
	MX int
}

// ParseSearch parses an M-SEARCH datagram. A missing MX is taken as 0.
func ParseSearch(raw []byte) (Search, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return Search{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if req.Method != "M-SEARCH" {
		return Search{}, fmt.Errorf("%w: method %s", ErrMalformed, req.Method)
	}
	if man := strings.Trim(strings.TrimSpace(req.Header.Get("MAN")), `"`); man != "ssdp:discover" {
		return Search{}, fmt.Errorf("%w: MAN %q", ErrMalformed, man)
	}

	s := Search{ST: strings.TrimSpace(req.Header.Get("ST"))}
	if s.ST == "" {
		return Search{}, fmt.Errorf("%w: missing ST", ErrMalformed)
	}

	if mx := strings.TrimSpace(req.Header.Get("MX")); mx != "" {
		n, err := strconv.Atoi(mx)
		if err != nil || n < 0 {
			return Search{}, fmt.Errorf("%w: MX %q", ErrMalformed, mx)
		}
		s.MX = n
	}
	return s, nil
}

// header holds the fields shared by announcements and search responses.
type header struct {
	Location string
	Server   string
	MaxAge   int
}

func (h header) notify(f device.Facet, nts string) []byte {
	var b bytes.Buffer
	b.WriteString("NOTIFY * HTTP/1.1\r\n")
	fmt.Fprintf(&b, "HOST: %s\r\n", GroupAddr)
	if nts == Alive {
		fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", h.MaxAge)
		fmt.Fprintf(&b, "LOCATION: %s\r\n", h.Location)
		fmt.Fprintf(&b, "SERVER: %s\r\n", h.Server)
	}
	fmt.Fprintf(&b, "NT: %s\r\n", f.NT)
	fmt.Fprintf(&b, "NTS: %s\r\n", nts)
	fmt.Fprintf(&b, "USN: %s\r\n", f.USN)
	b.WriteString("\r\n")
	return b.Bytes()
}

func (h header) response(f device.Facet, now time.Time) []byte {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", h.MaxAge)
	fmt.Fprintf(&b, "DATE: %s\r\n", now.UTC().Format(http.TimeFormat))
	b.WriteString("EXT:\r\n")
	fmt.Fprintf(&b, "LOCATION: %s\r\n", h.Location)
	fmt.Fprintf(&b, "SERVER: %s\r\n", h.Server)
	fmt.Fprintf(&b, "ST: %s\r\n", f.NT)
	fmt.Fprintf(&b, "USN: %s\r\n", f.USN)
	b.WriteString("\r\n")
	return b.Bytes()
}
