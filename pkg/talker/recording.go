package talker

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

type recPhase int

const (
	recIdle recPhase = iota
	recAcquiring
	recRecording
	recPaused
)

// recorder is the loop owned recording session.
type recorder struct {
	phase         recPhase
	gen           uint64
	stopRequested bool

	stream        InputStream
	cancelCapture context.CancelFunc
	captureDone   chan struct{}

	encoder   Encoder
	pending   []float32
	chunks    [][]byte
	encodeErr error
	lastBlock []float32

	elapsed      time.Duration // accumulated before the current segment
	segmentStart time.Time

	sliceTicker    clockwork.Ticker
	durationTicker clockwork.Ticker
	levelTicker    clockwork.Ticker

	state RecordingState
}

// StartRecording acquires the input device and begins a recording session.
// Permission is requested first when it has not been granted yet. If
// StopRecording is called while the device is still being acquired, the
// stream is released as soon as it opens and StartRecording returns a
// RECORDING_ABORTED error.
func (m *AudioManager) StartRecording(ctx context.Context) error {
	if !m.PermissionGranted() && !m.RequestPermission(ctx) {
		return NewPermissionError(ErrPermissionDenied.Message)
	}

	var gen uint64
	var err error
	if !m.do(func() { gen, err = m.beginAcquire() }) {
		return closedError()
	}
	if err != nil {
		return err
	}

	stream, openErr := m.input.Open(ctx, m.cfg)

	var result error
	if !m.do(func() { result = m.finishAcquire(ctx, gen, stream, openErr) }) {
		if stream != nil {
			_ = stream.Close()
		}
		return closedError()
	}
	return result
}

// PauseRecording freezes duration and metering. Samples captured while paused
// are discarded. No-op unless recording.
func (m *AudioManager) PauseRecording() {
	m.do(m.pauseRecording)
}

// ResumeRecording continues a paused session. No-op unless paused.
func (m *AudioManager) ResumeRecording() {
	m.do(m.resumeRecording)
}

// StopRecording ends the session and returns the encoded audio. It returns
// nil, nil when nothing is recording. The device is released on every path;
// if the encoder fails to finalize, the raw chunks are returned together with
// an ENCODE_ERROR.
func (m *AudioManager) StopRecording() ([]byte, error) {
	var data []byte
	var err error
	if !m.do(func() { data, err = m.stopRecording() }) {
		return nil, nil
	}
	return data, err
}

func (m *AudioManager) beginAcquire() (uint64, error) {
	if m.rec.phase != recIdle {
		return 0, NewTalkerError(ErrAlreadyRecording.Message, ErrCodeAlreadyRecording)
	}
	m.rec.gen++
	m.rec.phase = recAcquiring
	m.rec.stopRequested = false
	return m.rec.gen, nil
}

func (m *AudioManager) finishAcquire(ctx context.Context, gen uint64, stream InputStream, openErr error) error {
	release := func() {
		if stream != nil {
			if err := stream.Close(); err != nil {
				m.logger.WithError(err).Warn("Closing input stream failed")
			}
		}
	}

	if gen != m.rec.gen || m.rec.phase != recAcquiring {
		release()
		return NewTalkerError(ErrRecordingAborted.Message, ErrCodeRecordingAborted)
	}
	if m.rec.stopRequested {
		m.rec.phase = recIdle
		m.rec.stopRequested = false
		release()
		m.logger.LogAudioEvent("recording_aborted", map[string]interface{}{"reason": "stopped during acquisition"})
		return NewTalkerError(ErrRecordingAborted.Message, ErrCodeRecordingAborted)
	}
	if openErr != nil {
		m.rec.phase = recIdle
		release()
		switch {
		case errors.Is(openErr, ErrPermissionDenied):
			m.permission.Store(permissionDenied)
			return WrapError(openErr, ErrCodePermissionDenied)
		case ctx.Err() != nil:
			return WrapErrorf(openErr, ErrCodeRecordingAborted, "%s", ErrRecordingAborted.Message)
		}
		err := WrapErrorf(openErr, ErrCodeAudioDevice, "failed to open audio input")
		m.logger.LogError(err)
		return err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.rec = recorder{
		phase:         recRecording,
		gen:           gen,
		stream:        stream,
		cancelCapture: cancel,
		captureDone:   done,
		encoder:       m.newEncoder(m.cfg),
		segmentStart:  m.clock.Now(),
	}
	m.startRecordingTimers()
	go m.capture(captureCtx, gen, stream, done)

	m.setRecording(RecordingState{IsRecording: true})
	m.logger.LogAudioEvent("recording_started", map[string]interface{}{
		"sample_rate": m.cfg.SampleRate,
		"channels":    m.cfg.Channels,
	})
	return nil
}

func (m *AudioManager) capture(ctx context.Context, gen uint64, stream InputStream, done chan struct{}) {
	defer close(done)
	for {
		block, err := stream.Read(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			m.post(ctx, func() { m.onCaptureFailed(gen, err) })
			return
		}
		if len(block) == 0 {
			continue
		}
		if !m.post(ctx, func() { m.onBlock(gen, block) }) {
			return
		}
	}
}

func (m *AudioManager) onBlock(gen uint64, block []float32) {
	if gen != m.rec.gen || m.rec.phase != recRecording {
		return
	}
	m.rec.pending = append(m.rec.pending, block...)
	m.rec.lastBlock = block
}

func (m *AudioManager) onCaptureFailed(gen uint64, cause error) {
	if gen != m.rec.gen || (m.rec.phase != recRecording && m.rec.phase != recPaused) {
		return
	}
	err := WrapErrorf(cause, ErrCodeAudioDevice, "audio input failed while recording")
	m.logger.LogError(err)

	m.releaseInput()
	m.rec = recorder{gen: gen}
	m.setRecording(RecordingState{Err: err})
}

func (m *AudioManager) pauseRecording() {
	r := &m.rec
	if r.phase != recRecording {
		return
	}
	r.elapsed += m.clock.Since(r.segmentStart)
	m.flushPending()
	m.stopRecordingTimers()
	r.phase = recPaused
	r.lastBlock = nil

	m.setRecording(RecordingState{IsRecording: true, IsPaused: true, Duration: r.elapsed.Seconds()})
	m.logger.LogAudioEvent("recording_paused", map[string]interface{}{"duration": r.elapsed.Seconds()})
}

func (m *AudioManager) resumeRecording() {
	r := &m.rec
	if r.phase != recPaused {
		return
	}
	r.phase = recRecording
	r.segmentStart = m.clock.Now()
	m.startRecordingTimers()

	m.setRecording(RecordingState{IsRecording: true, Duration: r.elapsed.Seconds()})
	m.logger.LogAudioEvent("recording_resumed", nil)
}

func (m *AudioManager) stopRecording() ([]byte, error) {
	r := &m.rec
	switch r.phase {
	case recIdle:
		return nil, nil
	case recAcquiring:
		r.stopRequested = true
		return nil, nil
	case recRecording:
		r.elapsed += m.clock.Since(r.segmentStart)
	}

	m.releaseInput()
	m.flushPending()

	enc, chunks, encodeErr, elapsed := r.encoder, r.chunks, r.encodeErr, r.elapsed
	m.rec = recorder{gen: r.gen}
	m.setRecording(RecordingState{})

	data, err := enc.Finalize(chunks)
	if err != nil {
		raw := bytes.Join(chunks, nil)
		ferr := WrapErrorf(err, ErrCodeEncode, "failed to finalize recording").AddDetail("chunks", len(chunks))
		m.logger.LogError(ferr)
		return raw, ferr
	}

	m.logger.LogAudioEvent("recording_stopped", map[string]interface{}{
		"duration": elapsed.Seconds(),
		"chunks":   len(chunks),
		"bytes":    len(data),
		"mime":     enc.MIMEType(),
	})
	if encodeErr != nil {
		return data, WrapErrorf(encodeErr, ErrCodeEncode, "part of the recording could not be encoded")
	}
	return data, nil
}

// releaseInput stops timers and capture and closes the stream.
func (m *AudioManager) releaseInput() {
	r := &m.rec
	m.stopRecordingTimers()
	if r.cancelCapture != nil {
		r.cancelCapture()
	}
	if r.captureDone != nil {
		// The device read may not honor ctx. Closing the stream unblocks it.
		timer := time.NewTimer(m.releaseTimeout)
		select {
		case <-r.captureDone:
		case <-timer.C:
			m.logger.Warnf("Input read still blocked after %s, closing the stream", m.releaseTimeout)
		}
		timer.Stop()
	}
	if r.stream != nil {
		if err := r.stream.Close(); err != nil {
			m.logger.WithError(err).Warn("Closing input stream failed")
		}
	}
	r.cancelCapture, r.captureDone, r.stream = nil, nil, nil
}

func (m *AudioManager) flushPending() {
	r := &m.rec
	if len(r.pending) == 0 || r.encoder == nil {
		return
	}
	chunk, err := r.encoder.EncodeChunk(r.pending)
	r.pending = nil
	if err != nil {
		if r.encodeErr == nil {
			r.encodeErr = err
		}
		m.logger.WithError(err).Warn("Encoding audio chunk failed")
		return
	}
	r.chunks = append(r.chunks, chunk)
}

func (m *AudioManager) recordedDuration() time.Duration {
	d := m.rec.elapsed
	if m.rec.phase == recRecording {
		d += m.clock.Since(m.rec.segmentStart)
	}
	return d
}

func (m *AudioManager) onDurationTick() {
	if m.rec.phase != recRecording {
		return
	}
	s := m.rec.state
	s.Err = nil
	if d := m.recordedDuration().Seconds(); d != s.Duration {
		s.Duration = d
		m.setRecording(s)
	}
}

func (m *AudioManager) onLevelTick() {
	if m.rec.phase != recRecording {
		return
	}
	s := m.rec.state
	s.Err = nil
	if l := Level(m.rec.lastBlock); l != s.AudioLevel {
		s.AudioLevel = l
		m.setRecording(s)
	}
}

func (m *AudioManager) startRecordingTimers() {
	m.rec.sliceTicker = m.clock.NewTicker(m.cfg.Timeslice)
	m.rec.durationTicker = m.clock.NewTicker(m.cfg.DurationInterval)
	m.rec.levelTicker = m.clock.NewTicker(m.cfg.LevelInterval)
}

func (m *AudioManager) stopRecordingTimers() {
	for _, t := range []*clockwork.Ticker{&m.rec.sliceTicker, &m.rec.durationTicker, &m.rec.levelTicker} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}
