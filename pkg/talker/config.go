package talker

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. TALKER_API_URL.
const EnvPrefix = "TALKER"

// Config holds client side settings: where the backend lives, how the push
// channel reconnects and how audio is captured.
type Config struct {
	APIBaseURL           string
	WsEndpoint           string
	TokenEndpoint        string
	Headers              map[string]string
	AutoConnect          bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	TokenRefreshBuffer   time.Duration
	UseTokenAuth         bool
	LogLevel             string
	LogPretty            bool
	DebugWebsocket       bool
	DebugAudio           bool
	SettingsPath         string
	RecordingsDir        string
	Audio                *AudioConfig
}

// AudioConfig controls capture format and the manager's timer cadence.
type AudioConfig struct {
	SampleRate int
	Channels   int
	BufferSize int
	Format     string
	DeviceID   *int

	Timeslice        time.Duration // encoder chunk size
	DurationInterval time.Duration
	LevelInterval    time.Duration
	PositionInterval time.Duration
}

func NewAudioConfig() *AudioConfig {
	return &AudioConfig{
		SampleRate:       44100,
		Channels:         1,
		BufferSize:       1024,
		Format:           "wav",
		Timeslice:        100 * time.Millisecond,
		DurationInterval: 100 * time.Millisecond,
		LevelInterval:    50 * time.Millisecond,
		PositionInterval: 250 * time.Millisecond,
	}
}

func (c *AudioConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return NewConfigError("sample rate must be positive").AddDetail("sample_rate", c.SampleRate)
	case c.Channels < 1 || c.Channels > 2:
		return NewConfigError("channels must be 1 or 2").AddDetail("channels", c.Channels)
	case c.BufferSize <= 0:
		return NewConfigError("buffer size must be positive").AddDetail("buffer_size", c.BufferSize)
	case c.Timeslice <= 0 || c.DurationInterval <= 0 || c.LevelInterval <= 0 || c.PositionInterval <= 0:
		return NewConfigError("timer intervals must be positive")
	case c.LevelInterval > 100*time.Millisecond:
		return NewConfigError("level interval must be 100ms or faster").AddDetail("level_interval", c.LevelInterval.String())
	}
	return nil
}

// SetConfigDefaults registers every client key with its default on v and
// enables TALKER_* environment lookup.
func SetConfigDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_url", "http://localhost:8000/api")
	v.SetDefault("ws_url", "ws://localhost:8000/ws")
	v.SetDefault("token_endpoint", "")
	v.SetDefault("auto_connect", false)
	v.SetDefault("max_reconnect_attempts", 5)
	v.SetDefault("reconnect_delay", 5*time.Second)
	v.SetDefault("token_refresh_buffer", 60*time.Second)
	v.SetDefault("use_token_auth", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", true)
	v.SetDefault("debug_websocket", false)
	v.SetDefault("debug_audio", false)
	v.SetDefault("settings_path", DefaultSettingsPath())
	v.SetDefault("recordings_dir", "")

	a := NewAudioConfig()
	v.SetDefault("audio.sample_rate", a.SampleRate)
	v.SetDefault("audio.channels", a.Channels)
	v.SetDefault("audio.buffer_size", a.BufferSize)
	v.SetDefault("audio.format", a.Format)
	v.SetDefault("audio.device_id", -1)
	v.SetDefault("audio.timeslice", a.Timeslice)
	v.SetDefault("audio.duration_interval", a.DurationInterval)
	v.SetDefault("audio.level_interval", a.LevelInterval)
	v.SetDefault("audio.position_interval", a.PositionInterval)
}

// NewConfig loads .env (if present) and the environment into a Config.
func NewConfig() *Config {
	_ = godotenv.Load()
	v := viper.New()
	SetConfigDefaults(v)
	return ConfigFromViper(v)
}

// ConfigFromViper reads a Config from an already prepared viper instance, so
// the CLI can layer flags over the environment.
func ConfigFromViper(v *viper.Viper) *Config {
	c := &Config{
		APIBaseURL:           strings.TrimRight(v.GetString("api_url"), "/"),
		WsEndpoint:           v.GetString("ws_url"),
		TokenEndpoint:        v.GetString("token_endpoint"),
		Headers:              make(map[string]string),
		AutoConnect:          v.GetBool("auto_connect"),
		MaxReconnectAttempts: v.GetInt("max_reconnect_attempts"),
		ReconnectDelay:       v.GetDuration("reconnect_delay"),
		TokenRefreshBuffer:   v.GetDuration("token_refresh_buffer"),
		UseTokenAuth:         v.GetBool("use_token_auth"),
		LogLevel:             v.GetString("log_level"),
		LogPretty:            v.GetBool("log_pretty"),
		DebugWebsocket:       v.GetBool("debug_websocket"),
		DebugAudio:           v.GetBool("debug_audio"),
		SettingsPath:         v.GetString("settings_path"),
		RecordingsDir:        v.GetString("recordings_dir"),
	}
	if c.TokenEndpoint == "" {
		c.TokenEndpoint = c.APIBaseURL + "/ws/token"
	}

	c.Audio = &AudioConfig{
		SampleRate:       v.GetInt("audio.sample_rate"),
		Channels:         v.GetInt("audio.channels"),
		BufferSize:       v.GetInt("audio.buffer_size"),
		Format:           v.GetString("audio.format"),
		Timeslice:        v.GetDuration("audio.timeslice"),
		DurationInterval: v.GetDuration("audio.duration_interval"),
		LevelInterval:    v.GetDuration("audio.level_interval"),
		PositionInterval: v.GetDuration("audio.position_interval"),
	}
	if id := v.GetInt("audio.device_id"); id >= 0 {
		c.Audio.DeviceID = &id
	}
	return c
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}

	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		issues = append(issues, fmt.Sprintf("Invalid API base URL: %q", c.APIBaseURL))
	}
	if !strings.HasPrefix(c.WsEndpoint, "ws://") && !strings.HasPrefix(c.WsEndpoint, "wss://") {
		issues = append(issues, fmt.Sprintf("Invalid WebSocket endpoint format: %q", c.WsEndpoint))
	}
	if c.MaxReconnectAttempts < 0 {
		issues = append(issues, "max_reconnect_attempts must not be negative")
	}
	if c.ReconnectDelay < 0 {
		issues = append(issues, "reconnect_delay must not be negative")
	}

	validLevels := []string{"TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL", "OFF"}
	level := strings.ToUpper(c.LogLevel)
	found := false
	for _, l := range validLevels {
		if l == level {
			found = true
			break
		}
	}
	if !found {
		issues = append(issues, fmt.Sprintf("Invalid log level: %s", c.LogLevel))
	}

	if c.Audio == nil {
		issues = append(issues, "audio config missing")
	} else if err := c.Audio.Validate(); err != nil {
		issues = append(issues, err.Error())
	}

	return issues
}

// NewLogger builds the logger the config asks for.
func (c *Config) NewLogger(out io.Writer) *Logger {
	lc := DefaultLogConfig()
	lc.Level = ParseLogLevel(c.LogLevel)
	lc.Pretty = c.LogPretty
	if out != nil {
		lc.Output = out
	}
	return NewLogger(lc)
}

// PrintConfig writes a human readable summary of c to w.
func (c *Config) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Talker client configuration")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "API Base URL: %s\n", c.APIBaseURL)
	fmt.Fprintf(w, "WebSocket Endpoint: %s\n", c.WsEndpoint)
	fmt.Fprintf(w, "Token Endpoint: %s\n", c.TokenEndpoint)
	fmt.Fprintf(w, "Use Token Auth: %t\n", c.UseTokenAuth)
	fmt.Fprintf(w, "Max Reconnect Attempts: %d\n", c.MaxReconnectAttempts)
	fmt.Fprintf(w, "Reconnect Delay: %s\n", c.ReconnectDelay)
	fmt.Fprintf(w, "Token Refresh Buffer: %s\n", c.TokenRefreshBuffer)
	fmt.Fprintf(w, "Log Level: %s\n", c.LogLevel)
	fmt.Fprintf(w, "Debug WebSocket: %t\n", c.DebugWebsocket)
	fmt.Fprintf(w, "Debug Audio: %t\n", c.DebugAudio)
	fmt.Fprintf(w, "Settings Path: %s\n", c.SettingsPath)
	if c.Audio != nil {
		fmt.Fprintf(w, "Audio: %d Hz, %d ch, buffer %d, %s\n", c.Audio.SampleRate, c.Audio.Channels, c.Audio.BufferSize, c.Audio.Format)
		if c.Audio.DeviceID != nil {
			fmt.Fprintf(w, "Audio Device ID: %d\n", *c.Audio.DeviceID)
		} else {
			fmt.Fprintln(w, "Audio Device: Default")
		}
	}
}

// DefaultSettingsPath is $XDG_CONFIG_HOME/talker/settings.yaml or the
// platform equivalent.
func DefaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "talker", "settings.yaml")
}
