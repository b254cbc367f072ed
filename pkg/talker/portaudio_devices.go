//go:build cgo

package talker

import "github.com/gordonklaus/portaudio"

// ListAudioDevices enumerates the host's portaudio devices.
func ListAudioDevices(logger *Logger) (DeviceList, error) {
	logger = loggerOrGlobal(logger, "AudioDevices")

	if err := portaudio.Initialize(); err != nil {
		return nil, WrapErrorf(err, ErrCodeAudioDevice, "failed to initialize PortAudio")
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			logger.WithError(err).Warn("Failed to terminate PortAudio")
		}
	}()

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		logger.WithError(err).Warn("No default input device")
	}
	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		logger.WithError(err).Warn("No default output device")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, WrapErrorf(err, ErrCodeAudioDevice, "failed to list audio devices")
	}

	list := make(DeviceList, 0, len(devices))
	for i, dev := range devices {
		hostAPI := "Unknown"
		if dev.HostApi != nil {
			hostAPI = dev.HostApi.Name
		}
		list = append(list, AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefaultInput:    defaultInput != nil && dev == defaultInput,
			IsDefaultOutput:   defaultOutput != nil && dev == defaultOutput,
			HostAPI:           hostAPI,
		})
	}
	logger.WithField("device_count", len(list)).Debug("Audio devices listed")
	return list, nil
}
