package talker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type managerFixture struct {
	m     *AudioManager
	clock *clockwork.FakeClock
	in    *fakeInput
	out   *fakeOutput
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		clock: clockwork.NewFakeClock(),
		in:    newFakeInput(),
		out:   newFakeOutput(),
	}
	f.m = NewAudioManager(ManagerOptions{
		Input:  f.in,
		Output: f.out,
		Clock:  f.clock,
		Logger: NopLogger(),
	})
	t.Cleanup(f.m.Close)
	return f
}

func (f *managerFixture) startRecording(t *testing.T) *fakeStream {
	t.Helper()
	if err := f.m.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	return f.in.last(t)
}

func TestAudioManager_InitialStateIsDefault(t *testing.T) {
	f := newManagerFixture(t)

	if got := f.m.RecordingState(); got != (RecordingState{}) {
		t.Fatalf("RecordingState() = %+v, want zero", got)
	}
	if got := f.m.PlaybackState(); got != idlePlayback() {
		t.Fatalf("PlaybackState() = %+v, want idle", got)
	}
}

func TestAudioManager_StartRecordingNotifies(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	f.startRecording(t)

	got := waitFor(t, sub, func(s RecordingState) bool { return true })
	if !got.IsRecording || got.IsPaused || got.Duration != 0 || got.AudioLevel != 0 {
		t.Fatalf("first notification = %+v, want recording at zero", got)
	}
	if !f.m.PermissionGranted() {
		t.Fatalf("PermissionGranted() = false after a successful start")
	}
	if n := f.in.openHandles(); n != 1 {
		t.Fatalf("open input handles = %d, want 1", n)
	}
}

func TestAudioManager_StartWhileRecordingFails(t *testing.T) {
	f := newManagerFixture(t)
	f.startRecording(t)

	err := f.m.StartRecording(context.Background())
	if !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second StartRecording() error = %v, want ALREADY_RECORDING", err)
	}
	if n := f.in.openHandles(); n != 1 {
		t.Fatalf("open input handles = %d, want 1", n)
	}
}

func TestAudioManager_RecordFor1200msThenStop(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	s := f.startRecording(t)
	s.feed(t, constantBlock(441, 0.25))
	f.clock.Advance(1200 * time.Millisecond)

	waitFor(t, sub, func(st RecordingState) bool { return approx(st.Duration, 1.2) })

	data, err := f.m.StopRecording()
	if err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if len(data) <= wavHeaderSize {
		t.Fatalf("StopRecording() returned %d bytes, want header plus samples", len(data))
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) {
		t.Fatalf("recording does not start with a RIFF header")
	}

	final := waitFor(t, sub, func(st RecordingState) bool { return !st.IsRecording })
	if final != (RecordingState{}) {
		t.Fatalf("final notification = %+v, want defaults", final)
	}
	if got := f.m.RecordingState(); got != (RecordingState{}) {
		t.Fatalf("RecordingState() = %+v after stop, want defaults", got)
	}
	if n := f.in.openHandles(); n != 0 {
		t.Fatalf("open input handles = %d after stop, want 0", n)
	}
}

func TestAudioManager_DurationFrozenWhilePaused(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	f.startRecording(t)
	f.clock.Advance(300 * time.Millisecond)
	waitFor(t, sub, func(st RecordingState) bool { return approx(st.Duration, 0.3) })

	f.m.PauseRecording()
	paused := waitFor(t, sub, func(st RecordingState) bool { return st.IsPaused })
	if !paused.IsRecording || !approx(paused.Duration, 0.3) || paused.AudioLevel != 0 {
		t.Fatalf("pause notification = %+v, want recording paused at 0.3s with level 0", paused)
	}

	f.clock.Advance(5 * time.Second)
	if extra := collect(sub, 50*time.Millisecond); len(extra) != 0 {
		t.Fatalf("got %d notifications while paused, want none: %+v", len(extra), extra)
	}
	if d := f.m.RecordingState().Duration; !approx(d, 0.3) {
		t.Fatalf("Duration while paused = %v, want 0.3", d)
	}

	f.m.ResumeRecording()
	resumed := waitFor(t, sub, func(st RecordingState) bool { return !st.IsPaused })
	if !approx(resumed.Duration, 0.3) {
		t.Fatalf("resume notification duration = %v, want 0.3", resumed.Duration)
	}

	f.clock.Advance(200 * time.Millisecond)
	waitFor(t, sub, func(st RecordingState) bool { return approx(st.Duration, 0.5) })
}

func TestAudioManager_PauseResumeOutsideRecordingAreNoops(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	f.m.PauseRecording()
	f.m.ResumeRecording()
	if got := collect(sub, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("got %d notifications, want none", len(got))
	}

	f.startRecording(t)
	waitFor(t, sub, func(st RecordingState) bool { return st.IsRecording })
	f.m.ResumeRecording()
	if got := collect(sub, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("ResumeRecording while recording notified %d times, want none", len(got))
	}
}

func TestAudioManager_LevelFollowsLastBlock(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	s := f.startRecording(t)
	s.feed(t, constantBlock(512, 0.5))
	f.clock.Advance(50 * time.Millisecond)

	got := waitFor(t, sub, func(st RecordingState) bool { return st.AudioLevel > 0 })
	if !approx(got.AudioLevel, 0.5) {
		t.Fatalf("AudioLevel = %v, want 0.5", got.AudioLevel)
	}
}

func TestAudioManager_StopWhenIdleReturnsNil(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	data, err := f.m.StopRecording()
	if data != nil || err != nil {
		t.Fatalf("StopRecording() = %v, %v; want nil, nil", data, err)
	}
	if got := collect(sub, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("got %d notifications, want none", len(got))
	}
}

func TestAudioManager_PermissionDeniedHoldsNoDevice(t *testing.T) {
	f := newManagerFixture(t)
	f.in.openErr = NewPermissionError("user refused")
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	err := f.m.StartRecording(context.Background())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("StartRecording() error = %v, want PERMISSION_DENIED", err)
	}
	if n := f.in.openHandles(); n != 0 {
		t.Fatalf("open input handles = %d, want 0", n)
	}
	if f.m.PermissionGranted() {
		t.Fatalf("PermissionGranted() = true after refusal")
	}
	if got := collect(sub, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("got %d notifications, want none", len(got))
	}
}

func TestAudioManager_RequestPermission(t *testing.T) {
	f := newManagerFixture(t)

	if !f.m.RequestPermission(context.Background()) {
		t.Fatalf("RequestPermission() = false, want true")
	}
	if n := f.in.openHandles(); n != 0 {
		t.Fatalf("permission check left %d handles open", n)
	}

	f.in.mu.Lock()
	f.in.openErr = NewDeviceError("no microphone")
	f.in.mu.Unlock()
	if f.m.RequestPermission(context.Background()) {
		t.Fatalf("RequestPermission() = true with a failing device")
	}
}

func TestAudioManager_StopDuringAcquisitionAborts(t *testing.T) {
	f := newManagerFixture(t)
	if !f.m.RequestPermission(context.Background()) {
		t.Fatalf("RequestPermission() = false")
	}
	<-f.in.entered

	sub := f.m.SubscribeRecording()
	defer sub.Close()

	gate := make(chan struct{})
	f.in.setGate(gate)

	result := make(chan error, 1)
	go func() { result <- f.m.StartRecording(context.Background()) }()

	select {
	case <-f.in.entered:
	case <-time.After(waitTimeout):
		t.Fatalf("device open never started")
	}

	data, err := f.m.StopRecording()
	if data != nil || err != nil {
		t.Fatalf("StopRecording() during acquisition = %v, %v; want nil, nil", data, err)
	}
	close(gate)

	select {
	case err := <-result:
		if !errors.Is(err, ErrRecordingAborted) {
			t.Fatalf("StartRecording() error = %v, want RECORDING_ABORTED", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("StartRecording never returned")
	}

	if n := f.in.openHandles(); n != 0 {
		t.Fatalf("open input handles = %d, want 0", n)
	}
	if got := f.m.RecordingState(); got != (RecordingState{}) {
		t.Fatalf("RecordingState() = %+v, want defaults", got)
	}
	for _, st := range collect(sub, 50*time.Millisecond) {
		if st.IsRecording {
			t.Fatalf("aborted start notified %+v", st)
		}
	}
}

func TestAudioManager_CaptureFailureResetsState(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()
	defer sub.Close()

	s := f.startRecording(t)
	waitFor(t, sub, func(st RecordingState) bool { return st.IsRecording })

	s.fail <- errors.New("device unplugged")

	got := waitFor(t, sub, func(st RecordingState) bool { return st.Err != nil })
	if got.IsRecording || got.IsPaused {
		t.Fatalf("failure notification = %+v, want not recording", got)
	}
	if !errors.Is(got.Err, ErrAudioDevice) {
		t.Fatalf("failure error = %v, want AUDIO_DEVICE_ERROR", got.Err)
	}
	if st := f.m.RecordingState(); st != (RecordingState{}) {
		t.Fatalf("RecordingState() = %+v, want defaults", st)
	}
	eventually(t, func() bool { return f.in.openHandles() == 0 }, "input released")

	data, err := f.m.StopRecording()
	if data != nil || err != nil {
		t.Fatalf("StopRecording() after failure = %v, %v; want nil, nil", data, err)
	}
}

type failingEncoder struct{}

func (failingEncoder) MIMEType() string { return "audio/test" }

func (failingEncoder) EncodeChunk(samples []float32) ([]byte, error) {
	return []byte{1, 2}, nil
}

func (failingEncoder) Finalize([][]byte) ([]byte, error) {
	return nil, errors.New("muxer exploded")
}

func TestAudioManager_FinalizeFailureReturnsRawChunks(t *testing.T) {
	in := newFakeInput()
	m := NewAudioManager(ManagerOptions{
		Input:      in,
		Output:     newFakeOutput(),
		Clock:      clockwork.NewFakeClock(),
		NewEncoder: func(*AudioConfig) Encoder { return failingEncoder{} },
		Logger:     NopLogger(),
	})
	defer m.Close()

	if err := m.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	in.last(t).feed(t, constantBlock(4, 0.1))

	data, err := m.StopRecording()
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("StopRecording() error = %v, want ENCODE_ERROR", err)
	}
	if !bytes.Equal(data, []byte{1, 2}) {
		t.Fatalf("StopRecording() data = %v, want raw chunk [1 2]", data)
	}
	if n := in.openHandles(); n != 0 {
		t.Fatalf("open input handles = %d, want 0", n)
	}
}

func TestAudioManager_PlaySupersedesLoadingTrack(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	gateA := f.out.gate("A")
	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); err != nil {
		t.Fatalf("PlayAudio(A) error = %v", err)
	}
	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("B")), "m2"); err != nil {
		t.Fatalf("PlayAudio(B) error = %v", err)
	}

	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePlaying && st.TrackID == "m2" })

	close(gateA)
	eventually(t, func() bool { return f.out.openHandles() == 1 }, "superseded track closed")

	for _, st := range collect(sub, 100*time.Millisecond) {
		if st.TrackID == "m1" {
			t.Fatalf("notification for superseded track after m2 started: %+v", st)
		}
	}
	if got := f.m.PlaybackState(); got.TrackID != "m2" || got.Phase != PhasePlaying {
		t.Fatalf("PlaybackState() = %+v, want m2 playing", got)
	}
}

func TestAudioManager_PlayStopsCurrentTrack(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); err != nil {
		t.Fatalf("PlayAudio(A) error = %v", err)
	}
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePlaying })

	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("B")), "m2"); err != nil {
		t.Fatalf("PlayAudio(B) error = %v", err)
	}
	idle := waitFor(t, sub, func(st PlaybackState) bool { return st.Phase != PhasePlaying || st.TrackID != "m1" })
	if idle.Phase != PhaseIdle {
		t.Fatalf("first notification after second play = %+v, want idle", idle)
	}
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePlaying && st.TrackID == "m2" })

	if n := f.out.openHandles(); n != 1 {
		t.Fatalf("open playbacks = %d, want 1", n)
	}
}

func TestAudioManager_UnplayableSourceReportsOneError(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("bad")), "m3"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}

	got := waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhaseError })
	if !errors.Is(got.Err, ErrPlayback) {
		t.Fatalf("error notification Err = %v, want PLAYBACK_ERROR", got.Err)
	}
	if got.IsPlaying || got.TrackID != "" {
		t.Fatalf("error notification = %+v, want not playing and no track", got)
	}
	for _, st := range collect(sub, 100*time.Millisecond) {
		if st.Phase == PhaseError {
			t.Fatalf("second error notification: %+v", st)
		}
	}
	if st := f.m.PlaybackState(); st != idlePlayback() {
		t.Fatalf("PlaybackState() = %+v, want idle", st)
	}
}

func TestAudioManager_EmptySourceFails(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	if err := f.m.PlayAudio(context.Background(), NewBytesSource(nil), "m4"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhaseError })

	if err := f.m.PlayAudio(context.Background(), nil, "m5"); err == nil {
		t.Fatalf("PlayAudio(nil) error = nil")
	}
}

func TestAudioManager_StopAudioTwice(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePlaying })

	f.m.StopAudio()
	first := waitFor(t, sub, func(PlaybackState) bool { return true })
	if first != idlePlayback() {
		t.Fatalf("StopAudio notification = %+v, want idle", first)
	}

	f.m.StopAudio()
	if got := collect(sub, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("second StopAudio notified %d times, want none", len(got))
	}
	if st := f.m.PlaybackState(); st != idlePlayback() {
		t.Fatalf("PlaybackState() = %+v, want idle", st)
	}
	if n := f.out.openHandles(); n != 0 {
		t.Fatalf("open playbacks = %d, want 0", n)
	}
}

func TestAudioManager_TrackEndNotifiesEndedThenIdle(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePlaying })

	f.out.playback(t, "A").finish()

	ended := waitFor(t, sub, func(PlaybackState) bool { return true })
	if ended.Phase != PhaseEnded || ended.TrackID != "m1" || !approx(ended.CurrentTime, 2) || !approx(ended.Duration, 2) {
		t.Fatalf("end notification = %+v, want ended at 2s", ended)
	}
	idle := waitFor(t, sub, func(PlaybackState) bool { return true })
	if idle != idlePlayback() {
		t.Fatalf("notification after end = %+v, want idle", idle)
	}
	if n := f.out.openHandles(); n != 0 {
		t.Fatalf("open playbacks = %d, want 0", n)
	}
}

func TestAudioManager_PositionUpdatesAndPause(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	loaded := waitFor(t, sub, func(st PlaybackState) bool { return st.Duration > 0 })
	if loaded.Phase != PhaseLoading || !approx(loaded.Duration, 2) {
		t.Fatalf("metadata notification = %+v, want loading with 2s duration", loaded)
	}
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePlaying })

	pb := f.out.playback(t, "A")
	pb.setPosition(500 * time.Millisecond)
	f.clock.Advance(250 * time.Millisecond)
	waitFor(t, sub, func(st PlaybackState) bool { return approx(st.CurrentTime, 0.5) })

	f.m.PauseAudio()
	paused := waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePaused })
	if paused.IsPlaying || !approx(paused.CurrentTime, 0.5) {
		t.Fatalf("pause notification = %+v, want paused at 0.5s", paused)
	}
	if !pb.isPaused() {
		t.Fatalf("output not paused")
	}

	f.m.ResumeAudio()
	resumed := waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhasePlaying })
	if !resumed.IsPlaying || !approx(resumed.CurrentTime, 0.5) {
		t.Fatalf("resume notification = %+v, want playing from 0.5s", resumed)
	}
}

func TestAudioManager_PlaybackErrorLeavesRecordingAlone(t *testing.T) {
	f := newManagerFixture(t)
	recSub := f.m.SubscribeRecording()
	defer recSub.Close()
	playSub := f.m.SubscribePlayback()
	defer playSub.Close()

	f.startRecording(t)
	waitFor(t, recSub, func(st RecordingState) bool { return st.IsRecording })

	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("bad")), "m1"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	waitFor(t, playSub, func(st PlaybackState) bool { return st.Phase == PhaseError })

	if got := collect(recSub, 50*time.Millisecond); len(got) != 0 {
		t.Fatalf("playback failure changed recording state: %+v", got)
	}
	if !f.m.RecordingState().IsRecording {
		t.Fatalf("recording stopped by playback failure")
	}
}

func TestAudioManager_CleanupResetsBothStates(t *testing.T) {
	f := newManagerFixture(t)
	playSub := f.m.SubscribePlayback()
	defer playSub.Close()

	f.startRecording(t)
	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	waitFor(t, playSub, func(st PlaybackState) bool { return st.Phase == PhasePlaying })

	for i := 0; i < 3; i++ {
		f.m.Cleanup()
		if got := f.m.RecordingState(); got != (RecordingState{}) {
			t.Fatalf("Cleanup #%d RecordingState() = %+v, want defaults", i+1, got)
		}
		if got := f.m.PlaybackState(); got != idlePlayback() {
			t.Fatalf("Cleanup #%d PlaybackState() = %+v, want idle", i+1, got)
		}
	}
	if n := f.in.openHandles(); n != 0 {
		t.Fatalf("open input handles = %d, want 0", n)
	}
	if n := f.out.openHandles(); n != 0 {
		t.Fatalf("open playbacks = %d, want 0", n)
	}
}

func TestAudioManager_ClosedManagerRejectsWork(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribeRecording()

	f.m.Close()
	f.m.Close()
	f.m.Cleanup()

	if err := f.m.StartRecording(context.Background()); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("StartRecording() after Close error = %v, want MANAGER_CLOSED", err)
	}
	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("PlayAudio() after Close error = %v, want MANAGER_CLOSED", err)
	}
	if _, ok := <-sub.C(); ok {
		t.Fatalf("subscription still open after Close")
	}
}

func TestAudioManager_OnRecordingStateChange(t *testing.T) {
	f := newManagerFixture(t)
	got := make(chan RecordingState, 8)
	off := f.m.OnRecordingStateChange(func(s RecordingState) { got <- s })
	defer off()

	f.startRecording(t)
	select {
	case s := <-got:
		if !s.IsRecording {
			t.Fatalf("callback state = %+v, want recording", s)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("callback never ran")
	}
}

// stuckInput opens streams whose Read ignores ctx and only returns on Close.
type stuckInput struct {
	reading chan struct{}
	closed  chan struct{}
}

func (in *stuckInput) Open(context.Context, *AudioConfig) (InputStream, error) {
	return in, nil
}

func (in *stuckInput) Read(context.Context) ([]float32, error) {
	select {
	case in.reading <- struct{}{}:
	default:
	}
	<-in.closed
	return nil, errors.New("stream closed")
}

func (in *stuckInput) Close() error {
	close(in.closed)
	return nil
}

func TestAudioManager_StopReleasesBlockedRead(t *testing.T) {
	in := &stuckInput{reading: make(chan struct{}, 1), closed: make(chan struct{})}
	m := NewAudioManager(ManagerOptions{
		Input:          in,
		Clock:          clockwork.NewFakeClock(),
		Logger:         NopLogger(),
		ReleaseTimeout: 20 * time.Millisecond,
	})
	defer m.Close()

	if err := m.StartRecording(context.Background()); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	select {
	case <-in.reading:
	case <-time.After(waitTimeout):
		t.Fatalf("capture never read")
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if _, err := m.StopRecording(); err != nil {
			t.Errorf("StopRecording() error = %v", err)
		}
	}()
	select {
	case <-stopped:
	case <-time.After(waitTimeout):
		t.Fatalf("StopRecording() blocked on a read that ignores ctx")
	}
	select {
	case <-in.closed:
	default:
		t.Fatalf("stream not closed")
	}
	if m.RecordingState().IsRecording {
		t.Fatalf("still recording after stop")
	}
}

func TestAudioManager_StopAudioDuringLoad(t *testing.T) {
	f := newManagerFixture(t)
	sub := f.m.SubscribePlayback()
	defer sub.Close()

	gate := f.out.gate("A")
	if err := f.m.PlayAudio(context.Background(), NewBytesSource([]byte("A")), "m1"); err != nil {
		t.Fatalf("PlayAudio() error = %v", err)
	}
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhaseLoading })

	f.m.StopAudio()
	waitFor(t, sub, func(st PlaybackState) bool { return st.Phase == PhaseIdle })

	close(gate)
	eventually(t, func() bool {
		f.out.mu.Lock()
		defer f.out.mu.Unlock()
		return f.out.playbacks["A"] != nil
	}, "late load finished")
	eventually(t, func() bool { return f.out.openHandles() == 0 }, "late track closed")

	for _, st := range collect(sub, 100*time.Millisecond) {
		t.Fatalf("notification after stop during load: %+v", st)
	}
	if got := f.m.PlaybackState(); got.Phase != PhaseIdle || got.TrackID != "" {
		t.Fatalf("PlaybackState() = %+v, want idle", got)
	}
}
