// Package soap implements the control-message codec used by the UPnP services:
// parsing action envelopes, encoding responses and faults, and the H:MM:SS
// time notation used by the transport service.
package soap

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// EnvelopeNS is the SOAP 1.1 envelope namespace.
	EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	// EncodingStyle is the SOAP encoding style UPnP requires on every envelope.
	EncodingStyle = "http://schemas.xmlsoap.org/soap/encoding/"
	// ControlNS is the namespace of the UPnPError fault detail.
	ControlNS = "urn:schemas-upnp-org:control-1-0"
)

// ErrProtocol is returned when a control message has no envelope, body or
// action element, or is not well-formed XML.
var ErrProtocol = errors.New("malformed control message")

// Argument is one named action argument or result value.
type Argument struct {
	Name  string
	Value string
}

// Action is a decoded control request.
// Args keeps the order in which the arguments appeared on the wire.
type Action struct {
	ServiceType string
	Name        string
	Args        []Argument
}

// Arg returns the value of the named argument.
func (a *Action) Arg(name string) (string, bool) {
	for _, arg := range a.Args {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return "", false
}

// Parse decodes a SOAP envelope into an Action. The first child of the body
// is the action element; its namespace is the service type and each of its
// children becomes one argument.
func Parse(raw []byte) (*Action, error) {
	d := xml.NewDecoder(bytes.NewReader(raw))

	root, err := nextStart(d)
	if err != nil {
		return nil, protocolError("missing envelope", err)
	}
	if root.Name.Local != "Envelope" {
		return nil, protocolError(fmt.Sprintf("unexpected root element %q", root.Name.Local), nil)
	}

	body, err := nextStart(d)
	if err != nil {
		return nil, protocolError("missing body", err)
	}
	// A SOAP header may precede the body.
	if body.Name.Local == "Header" {
		if err := d.Skip(); err != nil {
			return nil, protocolError("bad header", err)
		}
		if body, err = nextStart(d); err != nil {
			return nil, protocolError("missing body", err)
		}
	}
	if body.Name.Local != "Body" {
		return nil, protocolError(fmt.Sprintf("expected Body, got %q", body.Name.Local), nil)
	}

	actionElem, err := nextStart(d)
	if err != nil {
		return nil, protocolError("missing action element", err)
	}

	action := &Action{
		ServiceType: actionElem.Name.Space,
		Name:        actionElem.Name.Local,
	}
	if action.ServiceType == "" {
		return nil, protocolError("action element has no service namespace", nil)
	}

	seen := make(map[string]bool)
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, protocolError("unterminated action element", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v struct {
				Text string `xml:",chardata"`
			}
			if err := d.DecodeElement(&v, &t); err != nil {
				return nil, protocolError("bad argument "+t.Name.Local, err)
			}
			if seen[t.Name.Local] {
				return nil, protocolError("duplicate argument "+t.Name.Local, nil)
			}
			seen[t.Name.Local] = true
			action.Args = append(action.Args, Argument{Name: t.Name.Local, Value: v.Text})
		case xml.EndElement:
			// Drain the rest so trailing garbage is still reported.
			for {
				if _, err := d.Token(); err != nil {
					if errors.Is(err, io.EOF) {
						return action, nil
					}
					return nil, protocolError("envelope not well-formed", err)
				}
			}
		}
	}
}

func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.EndElement:
			return xml.StartElement{}, fmt.Errorf("unexpected end of %s", t.Name.Local)
		}
	}
}

func protocolError(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %v", ErrProtocol, msg, cause)
	}
	return fmt.Errorf("%w: %s", ErrProtocol, msg)
}

// EncodeResult wraps the ordered results in a <actionName>Response envelope.
func EncodeResult(serviceType, actionName string, results []Argument) []byte {
	var b bytes.Buffer
	writeEnvelopeStart(&b)
	fmt.Fprintf(&b, `<u:%sResponse xmlns:u="%s">`, actionName, escape(serviceType))
	for _, r := range results {
		fmt.Fprintf(&b, "<%s>%s</%s>", r.Name, escape(r.Value), r.Name)
	}
	fmt.Fprintf(&b, "</u:%sResponse>", actionName)
	writeEnvelopeEnd(&b)
	return b.Bytes()
}

// EncodeFault builds the standard UPnPError fault envelope.
func EncodeFault(code int, description string) []byte {
	var b bytes.Buffer
	writeEnvelopeStart(&b)
	b.WriteString("<s:Fault>")
	b.WriteString("<faultcode>s:Client</faultcode>")
	b.WriteString("<faultstring>UPnPError</faultstring>")
	b.WriteString("<detail>")
	fmt.Fprintf(&b, `<UPnPError xmlns="%s">`, ControlNS)
	fmt.Fprintf(&b, "<errorCode>%d</errorCode>", code)
	fmt.Fprintf(&b, "<errorDescription>%s</errorDescription>", escape(description))
	b.WriteString("</UPnPError>")
	b.WriteString("</detail>")
	b.WriteString("</s:Fault>")
	writeEnvelopeEnd(&b)
	return b.Bytes()
}

func writeEnvelopeStart(b *bytes.Buffer) {
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	fmt.Fprintf(b, `<s:Envelope xmlns:s="%s" s:encodingStyle="%s">`, EnvelopeNS, EncodingStyle)
	b.WriteString("<s:Body>")
}

func writeEnvelopeEnd(b *bytes.Buffer) {
	b.WriteString("</s:Body></s:Envelope>")
}

func escape(s string) string {
	var sb strings.Builder
	// EscapeText only fails when the writer does.
	_ = xml.EscapeText(&sb, []byte(s))
	return sb.String()
}
