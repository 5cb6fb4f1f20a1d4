package rendering

import (
	"context"
	"strconv"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/soap"
)

const (
	// ServiceType is the RenderingControl service URN.
	ServiceType = "urn:schemas-upnp-org:service:RenderingControl:1"
	// ServiceID is the RenderingControl service id.
	ServiceID = "urn:upnp-org:serviceId:RenderingControl"

	factoryDefaults = "FactoryDefaults"
)

var (
	varInstanceID = &control.Variable{Name: "A_ARG_TYPE_InstanceID", Type: control.UI4}
	varChannel    = &control.Variable{Name: "A_ARG_TYPE_Channel", Type: control.String, Allowed: []string{"Master"}}
	varVolume     = &control.Variable{Name: "Volume", Type: control.UI2, Range: &control.Range{Min: 0, Max: 100, Step: 1}}
	varMute       = &control.Variable{Name: "Mute", Type: control.Boolean}
	varPresetList = &control.Variable{Name: "PresetNameList", Type: control.String}
	varPresetName = &control.Variable{Name: "A_ARG_TYPE_PresetName", Type: control.String, Allowed: []string{factoryDefaults}}
	varLastChange = &control.Variable{Name: "LastChange", Type: control.String, SendEvents: true}
)

// Definition declares the RenderingControl actions backed by s.
func (s *Service) Definition() control.Service {
	instance := control.Argument{Name: "InstanceID", Variable: varInstanceID}
	channel := control.Argument{Name: "Channel", Variable: varChannel}

	return control.Service{
		Name: "RenderingControl",
		Type: ServiceType,
		ID:   ServiceID,
		Actions: []control.Action{
			{
				Name:    "ListPresets",
				In:      []control.Argument{instance},
				Out:     []control.Argument{{Name: "CurrentPresetNameList", Variable: varPresetList}},
				Handler: s.handleListPresets,
			},
			{
				Name:    "SelectPreset",
				In:      []control.Argument{instance, {Name: "PresetName", Variable: varPresetName}},
				Handler: s.handleSelectPreset,
			},
			{
				Name:    "GetMute",
				In:      []control.Argument{instance, channel},
				Out:     []control.Argument{{Name: "CurrentMute", Variable: varMute}},
				Handler: s.handleGetMute,
			},
			{
				Name:    "SetMute",
				In:      []control.Argument{instance, channel, {Name: "DesiredMute", Variable: varMute}},
				Handler: s.handleSetMute,
			},
			{
				Name:    "GetVolume",
				In:      []control.Argument{instance, channel},
				Out:     []control.Argument{{Name: "CurrentVolume", Variable: varVolume}},
				Handler: s.handleGetVolume,
			},
			{
				Name:    "SetVolume",
				In:      []control.Argument{instance, channel, {Name: "DesiredVolume", Variable: varVolume}},
				Handler: s.handleSetVolume,
			},
		},
		Extra: []*control.Variable{varLastChange},
	}
}

func checkInstance(in control.Args) error {
	if id := in.Int("InstanceID"); id != 0 {
		return soap.InvalidInstanceID(soap.CodeInvalidInstanceIDRCS, id)
	}
	return nil
}

func (s *Service) handleListPresets(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return []soap.Argument{{Name: "CurrentPresetNameList", Value: factoryDefaults}}, nil
}

func (s *Service) handleSelectPreset(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.Reset(ctx)
}

func (s *Service) handleGetMute(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return []soap.Argument{{Name: "CurrentMute", Value: control.FormatBool(s.Muted())}}, nil
}

func (s *Service) handleSetMute(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.SetMute(ctx, in.Bool("DesiredMute"))
}

func (s *Service) handleGetVolume(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return []soap.Argument{{Name: "CurrentVolume", Value: strconv.Itoa(s.Volume())}}, nil
}

func (s *Service) handleSetVolume(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.SetVolume(ctx, in.Int("DesiredVolume"))
}
