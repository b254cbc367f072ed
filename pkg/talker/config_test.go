package talker

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	SetConfigDefaults(v)
	return v
}

func TestConfigFromViper_Defaults(t *testing.T) {
	c := ConfigFromViper(newTestViper())

	if c.APIBaseURL != "http://localhost:8000/api" {
		t.Fatalf("APIBaseURL = %q", c.APIBaseURL)
	}
	if c.TokenEndpoint != "http://localhost:8000/api/ws/token" {
		t.Fatalf("TokenEndpoint = %q, want derived from API URL", c.TokenEndpoint)
	}
	if c.MaxReconnectAttempts != 5 || c.ReconnectDelay != 5*time.Second {
		t.Fatalf("reconnect = %d/%v, want 5/5s", c.MaxReconnectAttempts, c.ReconnectDelay)
	}
	if c.Audio.SampleRate != 44100 || c.Audio.Channels != 1 || c.Audio.DeviceID != nil {
		t.Fatalf("Audio = %+v", c.Audio)
	}
	if c.Audio.LevelInterval != 50*time.Millisecond {
		t.Fatalf("LevelInterval = %v, want 50ms", c.Audio.LevelInterval)
	}
	if issues := c.Validate(); len(issues) != 0 {
		t.Fatalf("Validate() = %v, want none", issues)
	}
}

func TestConfigFromViper_Environment(t *testing.T) {
	t.Setenv("TALKER_API_URL", "https://talk.example.com/api/")
	t.Setenv("TALKER_MAX_RECONNECT_ATTEMPTS", "9")
	t.Setenv("TALKER_AUDIO_SAMPLE_RATE", "16000")
	t.Setenv("TALKER_AUDIO_DEVICE_ID", "3")
	t.Setenv("TALKER_RECONNECT_DELAY", "250ms")

	c := ConfigFromViper(newTestViper())

	if c.APIBaseURL != "https://talk.example.com/api" {
		t.Fatalf("APIBaseURL = %q, want trailing slash trimmed", c.APIBaseURL)
	}
	if c.MaxReconnectAttempts != 9 {
		t.Fatalf("MaxReconnectAttempts = %d, want 9", c.MaxReconnectAttempts)
	}
	if c.ReconnectDelay != 250*time.Millisecond {
		t.Fatalf("ReconnectDelay = %v, want 250ms", c.ReconnectDelay)
	}
	if c.Audio.SampleRate != 16000 {
		t.Fatalf("SampleRate = %d, want 16000", c.Audio.SampleRate)
	}
	if c.Audio.DeviceID == nil || *c.Audio.DeviceID != 3 {
		t.Fatalf("DeviceID = %v, want 3", c.Audio.DeviceID)
	}
}

func TestConfig_ValidateReportsIssues(t *testing.T) {
	c := ConfigFromViper(newTestViper())
	c.APIBaseURL = "localhost:8000"
	c.WsEndpoint = "http://localhost/ws"
	c.LogLevel = "loud"
	c.Audio.Channels = 6

	issues := c.Validate()
	if len(issues) != 4 {
		t.Fatalf("Validate() = %v, want 4 issues", issues)
	}
	joined := strings.Join(issues, "\n")
	for _, want := range []string{"API base URL", "WebSocket endpoint", "log level", "channels"} {
		if !strings.Contains(joined, want) {
			t.Errorf("issues missing %q: %v", want, issues)
		}
	}
}

func TestAudioConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AudioConfig)
		ok     bool
	}{
		{"defaults", func(*AudioConfig) {}, true},
		{"zero rate", func(c *AudioConfig) { c.SampleRate = 0 }, false},
		{"stereo", func(c *AudioConfig) { c.Channels = 2 }, true},
		{"no buffer", func(c *AudioConfig) { c.BufferSize = 0 }, false},
		{"zero timer", func(c *AudioConfig) { c.PositionInterval = 0 }, false},
		{"slow meter", func(c *AudioConfig) { c.LevelInterval = 200 * time.Millisecond }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAudioConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err == nil) != tt.ok {
				t.Fatalf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestConfig_PrintConfig(t *testing.T) {
	var buf bytes.Buffer
	ConfigFromViper(newTestViper()).PrintConfig(&buf)
	out := buf.String()
	for _, want := range []string{"API Base URL: http://localhost:8000/api", "Audio Device: Default", "44100 Hz"} {
		if !strings.Contains(out, want) {
			t.Errorf("PrintConfig output missing %q", want)
		}
	}
}
