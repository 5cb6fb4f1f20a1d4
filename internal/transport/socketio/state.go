package socketio

import (
	"encoding/xml"
	"strings"

	"github.com/edumarques81/stellar-renderer/internal/domain/avtransport"
)

// State is the payload of pushState. Field names follow the Volumio web
// client; TransportState carries the UPnP state as is.
type State struct {
	Status          string  `json:"status"` // play, pause or stop
	TransportState  string  `json:"transportState"`
	TransportStatus string  `json:"transportStatus"`
	URI             string  `json:"uri"`
	Title           string  `json:"title,omitempty"`
	Artist          string  `json:"artist,omitempty"`
	Album           string  `json:"album,omitempty"`
	AlbumArt        string  `json:"albumart,omitempty"`
	Seek            int64   `json:"seek"` // milliseconds
	Duration        float64 `json:"duration"`
	Volume          int     `json:"volume"`
	Mute            bool    `json:"mute"`
	Service         string  `json:"service"`
}

func buildState(sess avtransport.Session, volume int, muted bool) State {
	st := State{
		TransportState:  string(sess.State),
		TransportStatus: sess.Status,
		URI:             sess.URI,
		Seek:            int64(sess.Position * 1000),
		Duration:        sess.Duration,
		Volume:          volume,
		Mute:            muted,
		Service:         "upnp",
	}

	switch sess.State {
	case avtransport.Playing:
		st.Status = "play"
	case avtransport.Paused:
		st.Status = "pause"
	default:
		st.Status = "stop"
	}

	if md, ok := parseDIDL(sess.Metadata); ok {
		st.Title = md.Title
		st.Artist = md.Artist
		st.Album = md.Album
		st.AlbumArt = md.AlbumArt
	}
	if st.Title == "" && sess.URI != "" {
		st.Title = titleFromURI(sess.URI)
	}
	return st
}

// didlItem is the first item of a DIDL-Lite metadata document.
type didlItem struct {
	Title    string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creator  string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Artist   string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ artist"`
	Album    string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ album"`
	AlbumArt string `xml:"urn:schemas-upnp-org:metadata-1-0/upnp/ albumArtURI"`
}

type didlLite struct {
	Items []didlItem `xml:"item"`
}

// parseDIDL extracts display fields from CurrentURIMetaData.
func parseDIDL(metadata string) (didlItem, bool) {
	if strings.TrimSpace(metadata) == "" {
		return didlItem{}, false
	}
	var doc didlLite
	if err := xml.Unmarshal([]byte(metadata), &doc); err != nil || len(doc.Items) == 0 {
		return didlItem{}, false
	}
	item := doc.Items[0]
	if item.Artist == "" {
		item.Artist = item.Creator
	}
	return item, true
}

func titleFromURI(uri string) string {
	name := uri
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 && i < len(name)-1 {
		name = name[i+1:]
	}
	return name
}
