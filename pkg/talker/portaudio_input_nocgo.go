//go:build !cgo

package talker

import "context"

// PortAudioInput needs cgo; in this build every Open fails.
type PortAudioInput struct {
	DeviceID *int
	logger   *Logger
}

func NewPortAudioInput(deviceID *int, logger *Logger) *PortAudioInput {
	return &PortAudioInput{DeviceID: deviceID, logger: loggerOrGlobal(logger, "PortAudioInput")}
}

func (p *PortAudioInput) Open(context.Context, *AudioConfig) (InputStream, error) {
	return nil, NewDeviceError("audio input is not available in this build (cgo disabled)")
}
