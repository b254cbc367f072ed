//go:build !cgo

package talker

// ListAudioDevices needs cgo; in this build it always fails.
func ListAudioDevices(logger *Logger) (DeviceList, error) {
	return nil, NewDeviceError("audio device listing is not available in this build (cgo disabled)")
}
