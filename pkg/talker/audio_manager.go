package talker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	permissionUnknown int32 = iota
	permissionGranted
	permissionDenied
)

// ManagerOptions configures an AudioManager. Zero values select the defaults:
// a real clock, WAV encoding, NewAudioConfig and the global logger. A nil
// Input or Output makes the corresponding operations fail with a device or
// playback error.
type ManagerOptions struct {
	Input      Input
	Output     Output
	NewEncoder EncoderFactory
	Clock      clockwork.Clock
	Config     *AudioConfig
	Logger     *Logger

	// ReleaseTimeout bounds how long stopping waits for a blocked input
	// read before closing the stream anyway. Defaults to 2s of wall time.
	ReleaseTimeout time.Duration
}

// AudioManager owns one recording lifecycle and one playback lifecycle.
//
// All state lives on a single loop goroutine. Exported methods hand closures
// to that loop and wait for them, so the two state machines never see
// concurrent mutation. Device work that can block (opening streams, reading
// samples, loading and decoding tracks) runs on helper goroutines which post
// their results back to the loop tagged with a generation number; results
// from a superseded generation are released and ignored.
type AudioManager struct {
	cfg        *AudioConfig
	input      Input
	output     Output
	newEncoder EncoderFactory
	clock      clockwork.Clock
	logger     *Logger

	releaseTimeout time.Duration

	calls     chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	permission atomic.Int32

	// loop owned
	rec  recorder
	play player

	recSubs  *broadcaster[RecordingState]
	playSubs *broadcaster[PlaybackState]

	mu       sync.RWMutex
	recSnap  RecordingState
	playSnap PlaybackState
}

func NewAudioManager(opts ManagerOptions) *AudioManager {
	m := &AudioManager{
		cfg:        opts.Config,
		input:      opts.Input,
		output:     opts.Output,
		newEncoder: opts.NewEncoder,
		clock:      opts.Clock,
		logger:     loggerOrGlobal(opts.Logger, "AudioManager"),

		releaseTimeout: opts.ReleaseTimeout,
		calls:      make(chan func()),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		recSubs:    newBroadcaster[RecordingState](),
		playSubs:   newBroadcaster[PlaybackState](),
		play:       player{state: idlePlayback()},
		playSnap:   idlePlayback(),
	}
	if m.cfg == nil {
		m.cfg = NewAudioConfig()
	}
	if m.input == nil {
		m.input = unavailableInput{reason: "no audio input device configured"}
	}
	if m.output == nil {
		m.output = unavailableOutput{reason: "no audio output device configured"}
	}
	if m.newEncoder == nil {
		m.newEncoder = NewWAVEncoder
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.releaseTimeout <= 0 {
		m.releaseTimeout = 2 * time.Second
	}

	go m.run()
	return m
}

func (m *AudioManager) run() {
	defer close(m.done)
	for {
		select {
		case fn := <-m.calls:
			fn()
		case <-tickerC(m.rec.sliceTicker):
			m.flushPending()
		case <-tickerC(m.rec.durationTicker):
			m.onDurationTick()
		case <-tickerC(m.rec.levelTicker):
			m.onLevelTick()
		case <-tickerC(m.play.positionTicker):
			m.onPositionTick()
		case <-m.play.done:
			m.onTrackEnded()
		case <-m.quit:
			m.cleanup()
			return
		}
	}
}

func tickerC(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

// do runs fn on the loop and waits for it. It reports false once the manager
// is closed.
func (m *AudioManager) do(fn func()) bool {
	ran := make(chan struct{})
	select {
	case m.calls <- func() { fn(); close(ran) }:
	case <-m.quit:
		return false
	}
	<-ran
	return true
}

// post hands fn to the loop without waiting for it to run.
func (m *AudioManager) post(ctx context.Context, fn func()) bool {
	select {
	case m.calls <- fn:
		return true
	case <-ctx.Done():
		return false
	case <-m.quit:
		return false
	}
}

// RequestPermission tests the input by opening and immediately closing a
// stream. It never fails; a refused or missing device yields false.
func (m *AudioManager) RequestPermission(ctx context.Context) bool {
	if m.RecordingState().IsRecording {
		return true
	}
	stream, err := m.input.Open(ctx, m.cfg)
	if err != nil {
		m.permission.Store(permissionDenied)
		m.logger.WithError(err).Warn("Microphone permission request failed")
		return false
	}
	if err := stream.Close(); err != nil {
		m.logger.WithError(err).Debug("Closing permission check stream failed")
	}
	m.permission.Store(permissionGranted)
	return true
}

// PermissionGranted reports the result of the last permission check.
func (m *AudioManager) PermissionGranted() bool {
	return m.permission.Load() == permissionGranted
}

// RecordingState returns the current recording snapshot.
func (m *AudioManager) RecordingState() RecordingState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recSnap
}

// PlaybackState returns the current playback snapshot.
func (m *AudioManager) PlaybackState() PlaybackState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playSnap
}

// SubscribeRecording returns an ordered stream of recording snapshots.
func (m *AudioManager) SubscribeRecording() *Subscription[RecordingState] {
	return m.recSubs.subscribe()
}

// SubscribePlayback returns an ordered stream of playback snapshots.
func (m *AudioManager) SubscribePlayback() *Subscription[PlaybackState] {
	return m.playSubs.subscribe()
}

// OnRecordingStateChange calls fn for every recording notification until the
// returned function is called.
func (m *AudioManager) OnRecordingStateChange(fn func(RecordingState)) func() {
	return watch(m.recSubs, fn)
}

// OnPlaybackStateChange calls fn for every playback notification until the
// returned function is called.
func (m *AudioManager) OnPlaybackStateChange(fn func(PlaybackState)) func() {
	return watch(m.playSubs, fn)
}

// Cleanup stops any recording (discarding its audio), cancels a pending
// device acquisition and stops playback. Safe to call repeatedly and after
// Close.
func (m *AudioManager) Cleanup() {
	m.do(m.cleanup)
}

// Close cleans up, stops the loop and closes all subscriptions.
func (m *AudioManager) Close() {
	m.closeOnce.Do(func() {
		close(m.quit)
		<-m.done
		m.recSubs.close()
		m.playSubs.close()
	})
}

func (m *AudioManager) cleanup() {
	switch m.rec.phase {
	case recAcquiring:
		m.rec.stopRequested = true
	case recRecording, recPaused:
		m.releaseInput()
		gen := m.rec.gen
		m.rec = recorder{gen: gen}
		m.setRecording(RecordingState{})
		m.logger.LogAudioEvent("recording_discarded", nil)
	}
	m.stopAudio()
}

func (m *AudioManager) setRecording(s RecordingState) {
	m.rec.state = s
	stored := s
	stored.Err = nil

	m.mu.Lock()
	m.recSnap = stored
	m.mu.Unlock()

	m.recSubs.publish(s)
}

func (m *AudioManager) setPlayback(s PlaybackState) {
	m.play.state = s
	m.publishPlayback(s, s)
}

// publishPlayback stores one state and notifies another. Used on failure,
// where observers see PhaseError while the stored state is already idle.
func (m *AudioManager) publishPlayback(stored, notified PlaybackState) {
	stored.Err = nil
	m.mu.Lock()
	m.playSnap = stored
	m.mu.Unlock()

	m.playSubs.publish(notified)
}

func closedError() error {
	return NewTalkerError(ErrManagerClosed.Message, ErrCodeManagerClosed)
}
