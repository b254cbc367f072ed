package talker

import (
	"context"
	"time"
)

// Input opens capture streams on an audio input device. Opening a stream is
// also how microphone permission is checked.
type Input interface {
	Open(ctx context.Context, cfg *AudioConfig) (InputStream, error)
}

// InputStream delivers blocks of interleaved float32 samples. Read should
// return promptly once ctx is done; a Read that does not is released by Close.
// The returned slice is owned by the caller.
type InputStream interface {
	Read(ctx context.Context) ([]float32, error)
	Close() error
}

// Output turns encoded audio into a controllable playback.
type Output interface {
	Open(ctx context.Context, data []byte) (Playback, error)
}

// Playback is one decoded track on an output device. Done is closed when the
// track plays to the end.
type Playback interface {
	Duration() time.Duration
	Position() time.Duration
	Start() error
	Pause()
	Resume()
	Done() <-chan struct{}
	Close() error
}

type unavailableInput struct{ reason string }

func (u unavailableInput) Open(context.Context, *AudioConfig) (InputStream, error) {
	return nil, NewDeviceError(u.reason)
}

type unavailableOutput struct{ reason string }

func (u unavailableOutput) Open(context.Context, []byte) (Playback, error) {
	return nil, NewPlaybackError(u.reason)
}
