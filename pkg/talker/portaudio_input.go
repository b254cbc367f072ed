//go:build cgo

package talker

import (
	"context"
	"errors"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioInput captures from a portaudio device using blocking reads.
type PortAudioInput struct {
	// DeviceID selects a device by index from portaudio.Devices. Nil means
	// the host default input.
	DeviceID *int
	logger   *Logger
}

func NewPortAudioInput(deviceID *int, logger *Logger) *PortAudioInput {
	return &PortAudioInput{DeviceID: deviceID, logger: loggerOrGlobal(logger, "PortAudioInput")}
}

func (p *PortAudioInput) Open(ctx context.Context, cfg *AudioConfig) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, WrapErrorf(err, ErrCodeAudioDevice, "failed to initialize PortAudio")
	}

	buf := make([]float32, cfg.BufferSize*cfg.Channels)
	stream, err := p.openStream(cfg, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		_ = portaudio.Terminate()
		return nil, WrapErrorf(err, ErrCodeAudioDevice, "failed to start input stream")
	}

	p.logger.WithFields(map[string]interface{}{
		"sample_rate": cfg.SampleRate,
		"channels":    cfg.Channels,
		"buffer_size": cfg.BufferSize,
	}).Debug("Input stream opened")
	return &portAudioStream{stream: stream, buf: buf, logger: p.logger}, nil
}

func (p *PortAudioInput) openStream(cfg *AudioConfig, buf []float32) (*portaudio.Stream, error) {
	if p.DeviceID == nil {
		stream, err := portaudio.OpenDefaultStream(cfg.Channels, 0, float64(cfg.SampleRate), cfg.BufferSize, buf)
		if err != nil {
			return nil, WrapErrorf(err, ErrCodeAudioDevice, "failed to open default input")
		}
		return stream, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, WrapErrorf(err, ErrCodeAudioDevice, "failed to list audio devices")
	}
	id := *p.DeviceID
	if id < 0 || id >= len(devices) {
		return nil, NewDeviceError("audio device not found").AddDetail("device_id", id)
	}
	dev := devices[id]
	if dev.MaxInputChannels < cfg.Channels {
		return nil, NewDeviceError("device has too few input channels").
			AddDetail("device", dev.Name).
			AddDetail("max_input_channels", dev.MaxInputChannels)
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = cfg.BufferSize
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, WrapErrorf(err, ErrCodeAudioDevice, "failed to open input device").AddDetail("device", dev.Name)
	}
	return stream, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buf    []float32
	logger *Logger
	once   sync.Once
}

func (s *portAudioStream) Read(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.stream.Read(); err != nil && !errors.Is(err, portaudio.InputOverflowed) {
		return nil, err
	}
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *portAudioStream) Close() error {
	var err error
	s.once.Do(func() {
		if stopErr := s.stream.Stop(); stopErr != nil {
			s.logger.WithError(stopErr).Debug("Stopping input stream failed")
		}
		err = s.stream.Close()
		_ = portaudio.Terminate()
	})
	return err
}
