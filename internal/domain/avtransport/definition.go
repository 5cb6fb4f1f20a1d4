package avtransport

import (
	"context"
	"math"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/soap"
)

const (
	// ServiceType is the AVTransport service URN.
	ServiceType = "urn:schemas-upnp-org:service:AVTransport:1"
	// ServiceID is the AVTransport service id.
	ServiceID = "urn:upnp-org:serviceId:AVTransport"

	notImplemented = "NOT_IMPLEMENTED"
	network        = "NETWORK"
)

func strVar(name string, allowed ...string) *control.Variable {
	return &control.Variable{Name: name, Type: control.String, Allowed: allowed}
}

var (
	varInstanceID       = &control.Variable{Name: "A_ARG_TYPE_InstanceID", Type: control.UI4}
	varURI              = strVar("AVTransportURI")
	varURIMetaData      = strVar("AVTransportURIMetaData")
	varNextURI          = strVar("NextAVTransportURI")
	varNextURIMetaData  = strVar("NextAVTransportURIMetaData")
	varState            = strVar("TransportState", string(Stopped), string(Playing), string(Paused), string(Transitioning), string(NoMedia))
	varStatus           = strVar("TransportStatus", StatusOK, StatusError)
	varSpeed            = &control.Variable{Name: "TransportPlaySpeed", Type: control.String, Allowed: []string{"1"}, Default: "1"}
	varNumberOfTracks   = &control.Variable{Name: "NumberOfTracks", Type: control.UI4, Range: &control.Range{Min: 0, Max: 1, Step: 1}}
	varMediaDuration    = strVar("CurrentMediaDuration")
	varTrack            = &control.Variable{Name: "CurrentTrack", Type: control.UI4, Range: &control.Range{Min: 0, Max: 1, Step: 1}}
	varTrackDuration    = strVar("CurrentTrackDuration")
	varTrackMetaData    = strVar("CurrentTrackMetaData")
	varTrackURI         = strVar("CurrentTrackURI")
	varRelTime          = strVar("RelativeTimePosition")
	varAbsTime          = strVar("AbsoluteTimePosition")
	varRelCount         = &control.Variable{Name: "RelativeCounterPosition", Type: control.I4}
	varAbsCount         = &control.Variable{Name: "AbsoluteCounterPosition", Type: control.I4}
	varPlayMedium       = strVar("PlaybackStorageMedium", network, "NONE")
	varRecordMedium     = strVar("RecordStorageMedium", notImplemented)
	varWriteStatus      = strVar("RecordMediumWriteStatus", notImplemented)
	varPlayMode         = &control.Variable{Name: "CurrentPlayMode", Type: control.String, Allowed: []string{"NORMAL"}, Default: "NORMAL"}
	varRecQualityMode   = strVar("CurrentRecordQualityMode", notImplemented)
	varPlayMedia        = strVar("PossiblePlaybackStorageMedia")
	varRecMedia         = strVar("PossibleRecordStorageMedia")
	varRecQualityModes  = strVar("PossibleRecordQualityModes")
	varTransportActions = strVar("CurrentTransportActions")
	varSeekMode         = strVar("A_ARG_TYPE_SeekMode", UnitAbsTime, UnitRelTime, UnitTrackNr)
	varSeekTarget       = strVar("A_ARG_TYPE_SeekTarget")
	varLastChange       = &control.Variable{Name: "LastChange", Type: control.String, SendEvents: true}
)

func out(name string, v *control.Variable) control.Argument {
	return control.Argument{Name: name, Variable: v}
}

// Definition declares the AVTransport actions backed by s.
func (s *Service) Definition() control.Service {
	instance := control.Argument{Name: "InstanceID", Variable: varInstanceID}

	return control.Service{
		Name: "AVTransport",
		Type: ServiceType,
		ID:   ServiceID,
		Actions: []control.Action{
			{
				Name: "SetAVTransportURI",
				In: []control.Argument{
					instance,
					{Name: "CurrentURI", Variable: varURI},
					{Name: "CurrentURIMetaData", Variable: varURIMetaData},
				},
				Handler: s.handleSetURI,
			},
			{
				Name: "GetMediaInfo",
				In:   []control.Argument{instance},
				Out: []control.Argument{
					out("NrTracks", varNumberOfTracks),
					out("MediaDuration", varMediaDuration),
					out("CurrentURI", varURI),
					out("CurrentURIMetaData", varURIMetaData),
					out("NextURI", varNextURI),
					out("NextURIMetaData", varNextURIMetaData),
					out("PlayMedium", varPlayMedium),
					out("RecordMedium", varRecordMedium),
					out("WriteStatus", varWriteStatus),
				},
				Handler: s.handleGetMediaInfo,
			},
			{
				Name: "GetTransportInfo",
				In:   []control.Argument{instance},
				Out: []control.Argument{
					out("CurrentTransportState", varState),
					out("CurrentTransportStatus", varStatus),
					out("CurrentSpeed", varSpeed),
				},
				Handler: s.handleGetTransportInfo,
			},
			{
				Name: "GetPositionInfo",
				In:   []control.Argument{instance},
				Out: []control.Argument{
					out("Track", varTrack),
					out("TrackDuration", varTrackDuration),
					out("TrackMetaData", varTrackMetaData),
					out("TrackURI", varTrackURI),
					out("RelTime", varRelTime),
					out("AbsTime", varAbsTime),
					out("RelCount", varRelCount),
					out("AbsCount", varAbsCount),
				},
				Handler: s.handleGetPositionInfo,
			},
			{
				Name: "GetDeviceCapabilities",
				In:   []control.Argument{instance},
				Out: []control.Argument{
					out("PlayMedia", varPlayMedia),
					out("RecMedia", varRecMedia),
					out("RecQualityModes", varRecQualityModes),
				},
				Handler: s.handleGetDeviceCapabilities,
			},
			{
				Name: "GetTransportSettings",
				In:   []control.Argument{instance},
				Out: []control.Argument{
					out("PlayMode", varPlayMode),
					out("RecQualityMode", varRecQualityMode),
				},
				Handler: s.handleGetTransportSettings,
			},
			{
				Name:    "Stop",
				In:      []control.Argument{instance},
				Handler: s.handleStop,
			},
			{
				Name:    "Play",
				In:      []control.Argument{instance, {Name: "Speed", Variable: varSpeed}},
				Handler: s.handlePlay,
			},
			{
				Name:    "Pause",
				In:      []control.Argument{instance},
				Handler: s.handlePause,
			},
			{
				Name: "Seek",
				In: []control.Argument{
					instance,
					{Name: "Unit", Variable: varSeekMode},
					{Name: "Target", Variable: varSeekTarget},
				},
				Handler: s.handleSeek,
			},
			{
				Name:    "GetCurrentTransportActions",
				In:      []control.Argument{instance},
				Out:     []control.Argument{out("Actions", varTransportActions)},
				Handler: s.handleGetCurrentTransportActions,
			},
		},
		Extra: []*control.Variable{varLastChange},
	}
}

func checkInstance(in control.Args) error {
	if id := in.Int("InstanceID"); id != 0 {
		return soap.InvalidInstanceID(soap.CodeInvalidInstanceID, id)
	}
	return nil
}

func formatSeconds(sec float64) string {
	return soap.FormatTime(int(math.Floor(sec)))
}

func (s *Service) handleSetURI(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.SetURI(ctx, in.String("CurrentURI"), in.String("CurrentURIMetaData"))
}

func (s *Service) handleGetMediaInfo(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	sess, err := s.PositionInfo(ctx)
	if err != nil {
		return nil, err
	}

	tracks, medium := "0", "NONE"
	if sess.URI != "" {
		tracks, medium = "1", network
	}
	return []soap.Argument{
		{Name: "NrTracks", Value: tracks},
		{Name: "MediaDuration", Value: formatSeconds(sess.Duration)},
		{Name: "CurrentURI", Value: sess.URI},
		{Name: "CurrentURIMetaData", Value: sess.Metadata},
		{Name: "NextURI", Value: ""},
		{Name: "NextURIMetaData", Value: ""},
		{Name: "PlayMedium", Value: medium},
		{Name: "RecordMedium", Value: notImplemented},
		{Name: "WriteStatus", Value: notImplemented},
	}, nil
}

func (s *Service) handleGetTransportInfo(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	state, status := s.TransportInfo()
	return []soap.Argument{
		{Name: "CurrentTransportState", Value: string(state)},
		{Name: "CurrentTransportStatus", Value: status},
		{Name: "CurrentSpeed", Value: "1"},
	}, nil
}

func (s *Service) handleGetPositionInfo(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	sess, err := s.PositionInfo(ctx)
	if err != nil {
		return nil, err
	}

	track := "0"
	if sess.URI != "" {
		track = "1"
	}
	pos := formatSeconds(sess.Position)
	return []soap.Argument{
		{Name: "Track", Value: track},
		{Name: "TrackDuration", Value: formatSeconds(sess.Duration)},
		{Name: "TrackMetaData", Value: sess.Metadata},
		{Name: "TrackURI", Value: sess.URI},
		{Name: "RelTime", Value: pos},
		{Name: "AbsTime", Value: pos},
		{Name: "RelCount", Value: "0"},
		{Name: "AbsCount", Value: "0"},
	}, nil
}

func (s *Service) handleGetDeviceCapabilities(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return []soap.Argument{
		{Name: "PlayMedia", Value: network},
		{Name: "RecMedia", Value: notImplemented},
		{Name: "RecQualityModes", Value: notImplemented},
	}, nil
}

func (s *Service) handleGetTransportSettings(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return []soap.Argument{
		{Name: "PlayMode", Value: "NORMAL"},
		{Name: "RecQualityMode", Value: notImplemented},
	}, nil
}

func (s *Service) handleStop(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.Stop(ctx)
}

func (s *Service) handlePlay(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.Play(ctx)
}

func (s *Service) handlePause(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.Pause(ctx)
}

func (s *Service) handleSeek(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return nil, s.Seek(ctx, in.String("Unit"), in.String("Target"))
}

func (s *Service) handleGetCurrentTransportActions(ctx context.Context, in control.Args) ([]soap.Argument, error) {
	if err := checkInstance(in); err != nil {
		return nil, err
	}
	return []soap.Argument{{Name: "Actions", Value: s.Snapshot().Actions()}}, nil
}
