package avtransport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/edumarques81/stellar-renderer/internal/control"
	"github.com/edumarques81/stellar-renderer/internal/domain/player"
	"github.com/edumarques81/stellar-renderer/internal/domain/player/playertest"
	"github.com/edumarques81/stellar-renderer/internal/soap"
)

const testURI = "http://x/a.mp3"

func newLoaded(t *testing.T) (*Service, *playertest.Engine) {
	t.Helper()
	engine := playertest.New()
	svc := NewService(engine, nil)
	if err := svc.SetURI(context.Background(), testURI, "<DIDL-Lite/>"); err != nil {
		t.Fatalf("SetURI failed: %v", err)
	}
	return svc, engine
}

func setState(svc *Service, st State) {
	svc.mu.Lock()
	svc.session.State = st
	svc.mu.Unlock()
}

func TestPlaybackScenario(t *testing.T) {
	svc, engine := newLoaded(t)
	ctx := context.Background()

	if st, _ := svc.TransportInfo(); st != Stopped {
		t.Fatalf("after SetURI state = %s, want STOPPED", st)
	}
	if err := svc.Play(ctx); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if st, status := svc.TransportInfo(); st != Playing || status != StatusOK {
		t.Errorf("after Play state = %s/%s, want PLAYING/OK", st, status)
	}
	if engine.URL != testURI {
		t.Errorf("engine playing %q, want %q", engine.URL, testURI)
	}
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if st, _ := svc.TransportInfo(); st != Stopped {
		t.Errorf("after Stop state = %s, want STOPPED", st)
	}
}

func TestPlayValidity(t *testing.T) {
	tests := []struct {
		from    State
		want    State
		code    int
		engine  []string
	}{
		{NoMedia, NoMedia, soap.CodeTransitionNotAvailable, nil},
		{Transitioning, Transitioning, soap.CodeTransitionNotAvailable, nil},
		{Playing, Playing, 0, nil},
		{Stopped, Playing, 0, []string{"play"}},
		{Paused, Playing, 0, []string{"resume"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			svc, engine := newLoaded(t)
			engine.Calls = nil
			setState(svc, tt.from)

			err := svc.Play(context.Background())
			if code := soap.CodeOf(err); code != tt.code {
				t.Errorf("Play from %s: code %d, want %d", tt.from, code, tt.code)
			}
			if st, _ := svc.TransportInfo(); st != tt.want {
				t.Errorf("state = %s, want %s", st, tt.want)
			}
			if fmt.Sprint(engine.CallLog()) != fmt.Sprint(tt.engine) {
				t.Errorf("engine calls = %v, want %v", engine.CallLog(), tt.engine)
			}
		})
	}
}

func TestPauseOnlyFromPlaying(t *testing.T) {
	for _, from := range []State{NoMedia, Stopped, Paused, Transitioning} {
		svc, _ := newLoaded(t)
		setState(svc, from)
		err := svc.Pause(context.Background())
		if code := soap.CodeOf(err); code != soap.CodeTransitionNotAvailable {
			t.Errorf("Pause from %s: code %d, want %d", from, code, soap.CodeTransitionNotAvailable)
		}
	}

	svc, _ := newLoaded(t)
	_ = svc.Play(context.Background())
	if err := svc.Pause(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st, _ := svc.TransportInfo(); st != Paused {
		t.Errorf("state = %s, want PAUSED_PLAYBACK", st)
	}
}

func TestStopIdempotent(t *testing.T) {
	svc, engine := newLoaded(t)
	engine.Calls = nil

	for i := 0; i < 3; i++ {
		if err := svc.Stop(context.Background()); err != nil {
			t.Fatalf("Stop #%d failed: %v", i, err)
		}
	}
	if st, _ := svc.TransportInfo(); st != Stopped {
		t.Errorf("state = %s, want STOPPED", st)
	}
	if len(engine.CallLog()) != 0 {
		t.Errorf("engine should not be called, got %v", engine.CallLog())
	}

	empty := NewService(playertest.New(), nil)
	err := empty.Stop(context.Background())
	if code := soap.CodeOf(err); code != soap.CodeTransitionNotAvailable {
		t.Errorf("Stop from NO_MEDIA: code %d, want %d", code, soap.CodeTransitionNotAvailable)
	}
}

func TestSetURIValidation(t *testing.T) {
	svc := NewService(playertest.New(), nil)
	for _, uri := range []string{"", "   ", "no-scheme", "://bad"} {
		err := svc.SetURI(context.Background(), uri, "")
		if code := soap.CodeOf(err); code != soap.CodeInvalidArgs {
			t.Errorf("SetURI(%q): code %d, want %d", uri, code, soap.CodeInvalidArgs)
		}
	}
	if st, _ := svc.TransportInfo(); st != NoMedia {
		t.Errorf("state = %s, want NO_MEDIA_PRESENT", st)
	}
}

func TestSetURIStopsPlayback(t *testing.T) {
	svc, engine := newLoaded(t)
	ctx := context.Background()
	_ = svc.Play(ctx)
	engine.Calls = nil

	if err := svc.SetURI(ctx, "http://x/b.flac", ""); err != nil {
		t.Fatal(err)
	}
	if got := engine.CallLog(); len(got) != 1 || got[0] != "stop" {
		t.Errorf("engine calls = %v, want [stop]", got)
	}
	sess := svc.Snapshot()
	if sess.State != Stopped || sess.URI != "http://x/b.flac" || sess.Metadata != "" {
		t.Errorf("unexpected session %+v", sess)
	}
}

func TestSetURIFailureReportsError(t *testing.T) {
	svc, engine := newLoaded(t)
	_ = svc.Play(context.Background())
	engine.StopErr = errors.New("engine wedged")

	err := svc.SetURI(context.Background(), "http://x/b.flac", "")
	if code := soap.CodeOf(err); code != soap.CodeActionFailed {
		t.Errorf("code %d, want %d", code, soap.CodeActionFailed)
	}
	st, status := svc.TransportInfo()
	if st != NoMedia || status != StatusError {
		t.Errorf("state = %s/%s, want NO_MEDIA_PRESENT/ERROR_OCCURRED", st, status)
	}
}

func TestPlayFailureRestoresState(t *testing.T) {
	svc, engine := newLoaded(t)
	engine.PlayErr = errors.New("unsupported format")

	err := svc.Play(context.Background())
	if code := soap.CodeOf(err); code != soap.CodeActionFailed {
		t.Errorf("code %d, want %d", code, soap.CodeActionFailed)
	}
	st, status := svc.TransportInfo()
	if st != Stopped || status != StatusError {
		t.Errorf("state = %s/%s, want STOPPED/ERROR_OCCURRED", st, status)
	}
}

func TestPlayWhileEngineUnavailable(t *testing.T) {
	svc, engine := newLoaded(t)
	_ = svc.Play(context.Background())
	engine.PauseErr = player.ErrUnavailable

	err := svc.Pause(context.Background())
	if code := soap.CodeOf(err); code != soap.CodeActionFailed {
		t.Errorf("code %d, want %d", code, soap.CodeActionFailed)
	}
	if st, _ := svc.TransportInfo(); st != Stopped {
		t.Errorf("state = %s, want STOPPED after engine loss", st)
	}
}

func TestConcurrentTransitionRefused(t *testing.T) {
	svc, engine := newLoaded(t)
	engine.Block = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- svc.Play(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if st, _ := svc.TransportInfo(); st == Transitioning {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Play never entered TRANSITIONING")
		}
		time.Sleep(time.Millisecond)
	}

	for name, action := range map[string]func(context.Context) error{
		"Stop":  svc.Stop,
		"Pause": svc.Pause,
		"Play":  svc.Play,
		"SetURI": func(ctx context.Context) error {
			return svc.SetURI(ctx, "http://x/c.mp3", "")
		},
	} {
		if code := soap.CodeOf(action(context.Background())); code != soap.CodeTransitionNotAvailable {
			t.Errorf("%s during TRANSITIONING: code %d, want %d", name, code, soap.CodeTransitionNotAvailable)
		}
	}

	close(engine.Block)
	if err := <-done; err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if st, _ := svc.TransportInfo(); st != Playing {
		t.Errorf("state = %s, want PLAYING", st)
	}
}

func TestSeek(t *testing.T) {
	tests := []struct {
		name    string
		unit    string
		target  string
		current float64
		want    float64
		code    int
	}{
		{"absolute", UnitAbsTime, "0:01:00", 10, 60, 0},
		{"relative unit absolute target", UnitRelTime, "0:00:30", 10, 30, 0},
		{"forward", UnitRelTime, "+0:00:15", 10, 25, 0},
		{"backward", UnitAbsTime, "-0:00:05", 10, 5, 0},
		{"before start", UnitRelTime, "-0:00:20", 10, 0, soap.CodeSeekOutOfRange},
		{"past end", UnitAbsTime, "0:05:00", 10, 0, soap.CodeSeekOutOfRange},
		{"at end", UnitAbsTime, "0:03:00", 10, 180, 0},
		{"track number", UnitTrackNr, "1", 10, 0, soap.CodeSeekModeNotSupported},
		{"garbage", UnitAbsTime, "soon", 10, 0, soap.CodeInvalidArgs},
		{"overflowing hours", UnitRelTime, "-9223372036854775807:00:00", 10, 0, soap.CodeInvalidArgs},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, engine := newLoaded(t)
			_ = svc.Play(context.Background())
			engine.Pos = tt.current
			engine.Length = 180

			err := svc.Seek(context.Background(), tt.unit, tt.target)
			if code := soap.CodeOf(err); code != tt.code {
				t.Fatalf("code %d, want %d (%v)", code, tt.code, err)
			}
			if tt.code != 0 {
				if len(engine.Seeks) != 0 {
					t.Errorf("engine seeked on failure: %v", engine.Seeks)
				}
				return
			}
			if len(engine.Seeks) != 1 || engine.Seeks[0] != tt.want {
				t.Errorf("engine seeks = %v, want [%v]", engine.Seeks, tt.want)
			}
		})
	}
}

func TestSeekUnknownDurationIsUnbounded(t *testing.T) {
	svc, engine := newLoaded(t)
	_ = svc.Play(context.Background())
	engine.Length = 0

	if err := svc.Seek(context.Background(), UnitAbsTime, "10:00:00"); err != nil {
		t.Errorf("seek in live stream failed: %v", err)
	}
}

func TestSeekWhileStoppedIsDeferred(t *testing.T) {
	svc, engine := newLoaded(t)
	ctx := context.Background()

	if err := svc.Seek(ctx, UnitAbsTime, "0:00:42"); err != nil {
		t.Fatal(err)
	}
	if len(engine.Seeks) != 0 {
		t.Fatalf("engine seeked while stopped: %v", engine.Seeks)
	}
	info, err := svc.PositionInfo(ctx)
	if err != nil || info.Position != 42 {
		t.Errorf("PositionInfo position = %v (%v), want 42", info.Position, err)
	}

	if err := svc.Play(ctx); err != nil {
		t.Fatal(err)
	}
	if len(engine.Seeks) != 1 || engine.Seeks[0] != 42 {
		t.Errorf("pending seek not applied: %v", engine.Seeks)
	}
	if svc.Snapshot().PendingSeek != nil {
		t.Error("pending seek not cleared")
	}
}

func TestPendingSeekFailureReportsError(t *testing.T) {
	svc, engine := newLoaded(t)
	ctx := context.Background()

	if err := svc.Seek(ctx, UnitAbsTime, "0:00:42"); err != nil {
		t.Fatal(err)
	}
	engine.SeekErr = errors.New("seek rejected")

	if err := svc.Play(ctx); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	sess := svc.Snapshot()
	if sess.State != Playing {
		t.Errorf("state = %s, want %s", sess.State, Playing)
	}
	if sess.Status != StatusError {
		t.Errorf("status = %s, want %s", sess.Status, StatusError)
	}
	if sess.PendingSeek != nil {
		t.Error("pending seek not cleared")
	}
	if sess.Position != 0 {
		t.Errorf("position = %v, want 0", sess.Position)
	}
}

func TestSeekWithoutMedia(t *testing.T) {
	svc := NewService(playertest.New(), nil)
	err := svc.Seek(context.Background(), UnitAbsTime, "0:00:01")
	if code := soap.CodeOf(err); code != soap.CodeTransitionNotAvailable {
		t.Errorf("code %d, want %d", code, soap.CodeTransitionNotAvailable)
	}
}

func TestPositionInfoIsLive(t *testing.T) {
	svc, engine := newLoaded(t)
	ctx := context.Background()
	_ = svc.Play(ctx)

	engine.Pos, engine.Length = 12.7, 200
	info, err := svc.PositionInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Position != 12.7 || info.Duration != 200 {
		t.Errorf("position/duration = %v/%v, want 12.7/200", info.Position, info.Duration)
	}

	engine.Pos = 13.9
	info, _ = svc.PositionInfo(ctx)
	if info.Position != 13.9 {
		t.Errorf("position not re-polled: %v", info.Position)
	}
}

func TestEngineEvents(t *testing.T) {
	tests := []struct {
		name  string
		uri   string
		from  State
		event player.Event
		want  State
	}{
		{"ended while playing", testURI, Playing, player.Event{Type: player.EventPlaybackEnded, Reason: "eof"}, Stopped},
		{"ended while paused", testURI, Paused, player.Event{Type: player.EventPlaybackEnded, Reason: "eof"}, Stopped},
		{"ended while stopped", testURI, Stopped, player.Event{Type: player.EventPlaybackEnded}, Stopped},
		{"external pause", testURI, Playing, player.Event{Type: player.EventPaused}, Paused},
		{"external resume", testURI, Paused, player.Event{Type: player.EventResumed}, Playing},
		{"pause while transitioning", testURI, Transitioning, player.Event{Type: player.EventPaused}, Transitioning},
		{"disconnected with media", testURI, Playing, player.Event{Type: player.EventDisconnected}, Stopped},
		{"disconnected without media", "", Stopped, player.Event{Type: player.EventDisconnected}, NoMedia},
		{"disconnected while transitioning", testURI, Transitioning, player.Event{Type: player.EventDisconnected}, Transitioning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(playertest.New(), nil)
			svc.session = Session{State: tt.from, Status: StatusOK, URI: tt.uri}

			svc.handleEvent(tt.event)
			if st, _ := svc.TransportInfo(); st != tt.want {
				t.Errorf("state = %s, want %s", st, tt.want)
			}
		})
	}
}

func TestRunAppliesEvents(t *testing.T) {
	svc, engine := newLoaded(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = svc.Play(ctx)

	go svc.Run(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		engine.Emit(player.Event{Type: player.EventPlaybackEnded, Reason: "eof"})
		time.Sleep(10 * time.Millisecond)
		if st, _ := svc.TransportInfo(); st == Stopped {
			return
		}
	}
	t.Error("end of playback never reached the session")
}

func TestCurrentTransportActions(t *testing.T) {
	tests := map[State]string{
		NoMedia:       "",
		Stopped:       "Play,Seek",
		Playing:       "Pause,Stop,Seek",
		Paused:        "Play,Stop,Seek",
		Transitioning: "",
	}
	for st, want := range tests {
		if got := (Session{State: st}).Actions(); got != want {
			t.Errorf("%s actions = %q, want %q", st, got, want)
		}
	}
}

func TestDefinitionDispatch(t *testing.T) {
	engine := playertest.New()
	svc := NewService(engine, nil)
	reg := control.NewRegistry()
	if err := reg.Register(svc.Definition()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	instance := soap.Argument{Name: "InstanceID", Value: "0"}

	call := func(name string, args ...soap.Argument) ([]soap.Argument, error) {
		return reg.Dispatch(ctx, &soap.Action{ServiceType: ServiceType, Name: name, Args: args})
	}

	_, err := call("SetAVTransportURI", instance,
		soap.Argument{Name: "CurrentURI", Value: testURI},
		soap.Argument{Name: "CurrentURIMetaData", Value: "<DIDL-Lite/>"})
	if err != nil {
		t.Fatalf("SetAVTransportURI: %v", err)
	}
	if _, err := call("Play", instance, soap.Argument{Name: "Speed", Value: "1"}); err != nil {
		t.Fatalf("Play: %v", err)
	}

	res, err := call("GetTransportInfo", instance)
	if err != nil {
		t.Fatal(err)
	}
	if res[0].Value != "PLAYING" || res[1].Value != "OK" || res[2].Value != "1" {
		t.Errorf("GetTransportInfo = %+v", res)
	}

	engine.Pos, engine.Length = 75, 3725
	res, err = call("GetPositionInfo", instance)
	if err != nil {
		t.Fatal(err)
	}
	got := map[string]string{}
	for _, a := range res {
		got[a.Name] = a.Value
	}
	if got["RelTime"] != "0:01:15" || got["TrackDuration"] != "1:02:05" || got["TrackURI"] != testURI {
		t.Errorf("GetPositionInfo = %v", got)
	}

	res, err = call("GetMediaInfo", instance)
	if err != nil || len(res) != 9 || res[0].Value != "1" || res[2].Value != testURI {
		t.Errorf("GetMediaInfo = %+v, %v", res, err)
	}

	_, err = call("GetTransportInfo", soap.Argument{Name: "InstanceID", Value: "1"})
	if code := soap.CodeOf(err); code != soap.CodeInvalidInstanceID {
		t.Errorf("bad instance: code %d, want %d", code, soap.CodeInvalidInstanceID)
	}

	_, err = call("Seek", instance, soap.Argument{Name: "Unit", Value: "FRAME"}, soap.Argument{Name: "Target", Value: "1"})
	if code := soap.CodeOf(err); code != soap.CodeInvalidArgs {
		t.Errorf("bad unit: code %d, want %d", code, soap.CodeInvalidArgs)
	}

	res, err = call("GetCurrentTransportActions", instance)
	if err != nil || res[0].Value != "Pause,Stop,Seek" {
		t.Errorf("GetCurrentTransportActions = %+v, %v", res, err)
	}
}
