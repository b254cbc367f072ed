//go:build (linux && cgo) || windows || darwin

package talker

import (
	"context"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// SpeakerAvailable reports whether this build can drive a real output device.
const SpeakerAvailable = true

const speakerSampleRate = beep.SampleRate(44100)

var (
	speakerOnce sync.Once
	speakerErr  error
)

func initSpeaker() error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(speakerSampleRate, speakerSampleRate.N(time.Second/10))
	})
	return speakerErr
}

// SpeakerOutput plays decoded tracks on the default output device.
type SpeakerOutput struct {
	logger *Logger
}

func NewSpeakerOutput(logger *Logger) *SpeakerOutput {
	return &SpeakerOutput{logger: loggerOrGlobal(logger, "SpeakerOutput")}
}

func (o *SpeakerOutput) Open(ctx context.Context, data []byte) (Playback, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(err, ErrCodePlayback)
	}
	streamer, format, err := DecodeAudio(data)
	if err != nil {
		return nil, err
	}
	if err := initSpeaker(); err != nil {
		streamer.Close()
		return nil, WrapErrorf(err, ErrCodePlayback, "failed to initialize speaker")
	}
	o.logger.WithFields(map[string]interface{}{
		"sample_rate": int(format.SampleRate),
		"channels":    format.NumChannels,
		"samples":     streamer.Len(),
	}).Debug("Track decoded")
	return &speakerPlayback{streamer: streamer, format: format, done: make(chan struct{})}, nil
}

type speakerPlayback struct {
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func (p *speakerPlayback) Duration() time.Duration {
	return p.format.SampleRate.D(p.streamer.Len())
}

func (p *speakerPlayback) Position() time.Duration {
	speaker.Lock()
	pos := p.streamer.Position()
	speaker.Unlock()
	return p.format.SampleRate.D(pos)
}

func (p *speakerPlayback) Start() error {
	var s beep.Streamer = p.streamer
	if p.format.SampleRate != speakerSampleRate {
		s = beep.Resample(4, p.format.SampleRate, speakerSampleRate, s)
	}
	p.ctrl = &beep.Ctrl{Streamer: s}
	speaker.Play(beep.Seq(p.ctrl, beep.Callback(func() {
		p.doneOnce.Do(func() { close(p.done) })
	})))
	return nil
}

func (p *speakerPlayback) Pause() {
	if p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Paused = true
	speaker.Unlock()
}

func (p *speakerPlayback) Resume() {
	if p.ctrl == nil {
		return
	}
	speaker.Lock()
	p.ctrl.Paused = false
	speaker.Unlock()
}

func (p *speakerPlayback) Done() <-chan struct{} {
	return p.done
}

func (p *speakerPlayback) Close() error {
	var err error
	p.closeOnce.Do(func() {
		speaker.Lock()
		if p.ctrl != nil {
			p.ctrl.Paused = true
			p.ctrl.Streamer = nil
		}
		err = p.streamer.Close()
		speaker.Unlock()
	})
	return err
}
