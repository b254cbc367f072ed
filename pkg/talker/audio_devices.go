package talker

import (
	"fmt"
	"strings"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int     `json:"id"`
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"maxInputChannels"`
	MaxOutputChannels int     `json:"maxOutputChannels"`
	DefaultSampleRate float64 `json:"defaultSampleRate"`
	IsDefaultInput    bool    `json:"isDefaultInput"`
	IsDefaultOutput   bool    `json:"isDefaultOutput"`
	HostAPI           string  `json:"hostApi"`
}

func (d AudioDevice) IsInput() bool  { return d.MaxInputChannels > 0 }
func (d AudioDevice) IsOutput() bool { return d.MaxOutputChannels > 0 }

// DeviceList is a snapshot of the host's devices.
type DeviceList []AudioDevice

func (l DeviceList) Inputs() DeviceList {
	out := DeviceList{}
	for _, d := range l {
		if d.IsInput() {
			out = append(out, d)
		}
	}
	return out
}

func (l DeviceList) Outputs() DeviceList {
	out := DeviceList{}
	for _, d := range l {
		if d.IsOutput() {
			out = append(out, d)
		}
	}
	return out
}

func (l DeviceList) DefaultInput() (*AudioDevice, error) {
	for i := range l {
		if l[i].IsDefaultInput {
			return &l[i], nil
		}
	}
	return nil, NewDeviceError("no default input device found")
}

func (l DeviceList) ByID(id int) (*AudioDevice, error) {
	for i := range l {
		if l[i].ID == id {
			return &l[i], nil
		}
	}
	return nil, NewDeviceError(fmt.Sprintf("device with ID %d not found", id)).AddDetail("device_id", id)
}

func (l DeviceList) ByName(name string) (*AudioDevice, error) {
	for i := range l {
		if l[i].Name == name {
			return &l[i], nil
		}
	}
	return nil, NewDeviceError(fmt.Sprintf("device with name '%s' not found", name))
}

// Validate checks that device id can capture (isInput) or play the given
// number of channels. A sample rate far from the device default is only a
// warning, returned as the second value.
func (l DeviceList) Validate(id int, isInput bool, channels int, sampleRate float64) (warning string, err error) {
	device, err := l.ByID(id)
	if err != nil {
		return "", err
	}

	if isInput {
		if !device.IsInput() {
			return "", NewDeviceError(fmt.Sprintf("device '%s' is not an input device", device.Name))
		}
		if device.MaxInputChannels < channels {
			return "", NewDeviceError(fmt.Sprintf("device '%s' supports max %d input channels, requested %d",
				device.Name, device.MaxInputChannels, channels))
		}
	} else {
		if !device.IsOutput() {
			return "", NewDeviceError(fmt.Sprintf("device '%s' is not an output device", device.Name))
		}
		if device.MaxOutputChannels < channels {
			return "", NewDeviceError(fmt.Sprintf("device '%s' supports max %d output channels, requested %d",
				device.Name, device.MaxOutputChannels, channels))
		}
	}

	if sampleRate > 0 && device.DefaultSampleRate > 0 {
		ratio := sampleRate / device.DefaultSampleRate
		if ratio < 0.5 || ratio > 2.0 {
			warning = fmt.Sprintf("sample rate %.0f Hz is far from the device default %.0f Hz", sampleRate, device.DefaultSampleRate)
		}
	}
	return warning, nil
}

// Describe formats one device for terminal output.
func (d AudioDevice) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Device: %s\n", d.Name)
	fmt.Fprintf(&sb, "  ID: %d\n", d.ID)
	fmt.Fprintf(&sb, "  Host API: %s\n", d.HostAPI)
	fmt.Fprintf(&sb, "  Input Channels: %d\n", d.MaxInputChannels)
	fmt.Fprintf(&sb, "  Output Channels: %d\n", d.MaxOutputChannels)
	fmt.Fprintf(&sb, "  Default Sample Rate: %.1f Hz\n", d.DefaultSampleRate)

	caps := []string{}
	if d.IsInput() {
		caps = append(caps, "Input")
	}
	if d.IsOutput() {
		caps = append(caps, "Output")
	}
	if len(caps) == 0 {
		caps = append(caps, "None")
	}
	if d.IsDefaultInput {
		caps = append(caps, "default input")
	}
	if d.IsDefaultOutput {
		caps = append(caps, "default output")
	}
	fmt.Fprintf(&sb, "  Capabilities: %s\n", strings.Join(caps, ", "))
	return sb.String()
}
