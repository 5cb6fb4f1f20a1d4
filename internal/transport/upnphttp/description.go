package upnphttp

import (
	"bytes"
	"encoding/xml"
	"strconv"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/domain/device"
)

type specVersion struct {
	Major int `xml:"major"`
	Minor int `xml:"minor"`
}

type deviceRoot struct {
	XMLName     xml.Name      `xml:"urn:schemas-upnp-org:device-1-0 root"`
	SpecVersion specVersion   `xml:"specVersion"`
	Device      deviceElement `xml:"device"`
}

type deviceElement struct {
	DeviceType       string           `xml:"deviceType"`
	FriendlyName     string           `xml:"friendlyName"`
	Manufacturer     string           `xml:"manufacturer"`
	ModelDescription string           `xml:"modelDescription"`
	ModelName        string           `xml:"modelName"`
	ModelNumber      string           `xml:"modelNumber"`
	SerialNumber     string           `xml:"serialNumber"`
	UDN              string           `xml:"UDN"`
	DLNADoc          dlnaDoc          `xml:"urn:schemas-dlna-org:device-1-0 X_DLNADOC"`
	Services         []serviceElement `xml:"serviceList>service"`
}

type dlnaDoc struct {
	Value string `xml:",chardata"`
}

type serviceElement struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	SCPDURL     string `xml:"SCPDURL"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
}

// ControlURL returns the control path of a service.
func ControlURL(name string) string { return controlPrefix + name }

// SCPDURL returns the description path of a service.
func SCPDURL(name string) string { return scpdPrefix + name + ".xml" }

// EventURL returns the eventing path of a service.
func EventURL(name string) string { return eventPrefix + name }

func deviceDescriptionXML(id *device.Identity, services []control.Service) ([]byte, error) {
	root := deviceRoot{
		SpecVersion: specVersion{Major: 1, Minor: 0},
		Device: deviceElement{
			DeviceType:       id.DeviceType,
			FriendlyName:     id.FriendlyName,
			Manufacturer:     id.Manufacturer,
			ModelDescription: "DLNA/UPnP audio renderer",
			ModelName:        id.ModelName,
			ModelNumber:      id.ModelNumber,
			SerialNumber:     id.SerialNumber,
			UDN:              id.UDN(),
			DLNADoc:          dlnaDoc{Value: "DMR-1.50"},
		},
	}
	for _, svc := range services {
		root.Device.Services = append(root.Device.Services, serviceElement{
			ServiceType: svc.Type,
			ServiceID:   svc.ID,
			SCPDURL:     SCPDURL(svc.Name),
			ControlURL:  ControlURL(svc.Name),
			EventSubURL: EventURL(svc.Name),
		})
	}
	return marshalDocument(root)
}

type scpdRoot struct {
	XMLName     xml.Name       `xml:"urn:schemas-upnp-org:service-1-0 scpd"`
	SpecVersion specVersion    `xml:"specVersion"`
	Actions     []scpdAction   `xml:"actionList>action"`
	Variables   []scpdVariable `xml:"serviceStateTable>stateVariable"`
}

type scpdAction struct {
	Name      string         `xml:"name"`
	Arguments []scpdArgument `xml:"argumentList>argument"`
}

type scpdArgument struct {
	Name      string `xml:"name"`
	Direction string `xml:"direction"`
	Related   string `xml:"relatedStateVariable"`
}

type scpdVariable struct {
	SendEvents string     `xml:"sendEvents,attr"`
	Name       string     `xml:"name"`
	DataType   string     `xml:"dataType"`
	Default    string     `xml:"defaultValue,omitempty"`
	Allowed    []string   `xml:"allowedValueList>allowedValue"`
	Range      *scpdRange `xml:"allowedValueRange,omitempty"`
}

type scpdRange struct {
	Minimum int    `xml:"minimum"`
	Maximum int    `xml:"maximum"`
	Step    string `xml:"step,omitempty"`
}

func scpdXML(svc control.Service) ([]byte, error) {
	root := scpdRoot{SpecVersion: specVersion{Major: 1, Minor: 0}}

	for _, a := range svc.Actions {
		sa := scpdAction{Name: a.Name}
		for _, in := range a.In {
			sa.Arguments = append(sa.Arguments, scpdArgument{Name: in.Name, Direction: "in", Related: variableName(in)})
		}
		for _, out := range a.Out {
			sa.Arguments = append(sa.Arguments, scpdArgument{Name: out.Name, Direction: "out", Related: variableName(out)})
		}
		root.Actions = append(root.Actions, sa)
	}

	for _, v := range svc.Variables() {
		sv := scpdVariable{
			SendEvents: "no",
			Name:       v.Name,
			DataType:   string(v.Type),
			Default:    v.Default,
			Allowed:    v.Allowed,
		}
		if v.SendEvents {
			sv.SendEvents = "yes"
		}
		if v.Range != nil {
			sv.Range = &scpdRange{Minimum: v.Range.Min, Maximum: v.Range.Max}
			if v.Range.Step > 0 {
				sv.Range.Step = strconv.Itoa(v.Range.Step)
			}
		}
		root.Variables = append(root.Variables, sv)
	}
	return marshalDocument(root)
}

func variableName(a control.Argument) string {
	if a.Variable == nil {
		return ""
	}
	return a.Variable.Name
}

func marshalDocument(v any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	enc := xml.NewEncoder(&b)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
