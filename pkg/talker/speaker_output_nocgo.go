//go:build !((linux && cgo) || windows || darwin)

package talker

import "context"

// SpeakerAvailable reports whether this build can drive a real output device.
// Audio output needs cgo on this platform.
const SpeakerAvailable = false

// SpeakerOutput validates and decodes tracks but cannot play them in this
// build.
type SpeakerOutput struct {
	logger *Logger
}

func NewSpeakerOutput(logger *Logger) *SpeakerOutput {
	return &SpeakerOutput{logger: loggerOrGlobal(logger, "SpeakerOutput")}
}

func (o *SpeakerOutput) Open(_ context.Context, data []byte) (Playback, error) {
	streamer, _, err := DecodeAudio(data)
	if err != nil {
		return nil, err
	}
	streamer.Close()
	return nil, NewPlaybackError("audio output is not available in this build (cgo disabled)")
}
