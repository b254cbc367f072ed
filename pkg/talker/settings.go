package talker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Settings is the user's preference blob.
type Settings struct {
	Language                 string  `yaml:"language" json:"language"`
	Voice                    string  `yaml:"voice" json:"voice"`
	Model                    string  `yaml:"model" json:"model"`
	Theme                    string  `yaml:"theme" json:"theme"`
	AutoPlayAudio            bool    `yaml:"autoPlayAudio" json:"autoPlayAudio"`
	MicrophoneEnabled        bool    `yaml:"microphoneEnabled" json:"microphoneEnabled"`
	VoiceActivation          bool    `yaml:"voiceActivation" json:"voiceActivation"`
	VoiceActivationThreshold float64 `yaml:"voiceActivationThreshold" json:"voiceActivationThreshold"`
}

func DefaultSettings() Settings {
	return Settings{
		Language:                 "en",
		Voice:                    "neural-female",
		Model:                    "llama-7b",
		Theme:                    "system",
		AutoPlayAudio:            true,
		MicrophoneEnabled:        true,
		VoiceActivation:          false,
		VoiceActivationThreshold: 0.5,
	}
}

// SettingKeys lists the keys Update accepts.
var SettingKeys = []string{
	"language", "voice", "model", "theme",
	"autoPlayAudio", "microphoneEnabled", "voiceActivation", "voiceActivationThreshold",
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Language) == "" {
		return NewConfigError("language must not be empty")
	}
	switch s.Theme {
	case "light", "dark", "system":
	default:
		return NewConfigError("theme must be light, dark or system").AddDetail("theme", s.Theme)
	}
	if s.VoiceActivationThreshold < 0 || s.VoiceActivationThreshold > 1 {
		return NewConfigError("voice activation threshold must be between 0 and 1").
			AddDetail("threshold", s.VoiceActivationThreshold)
	}
	return nil
}

// SettingsStore keeps Settings in a YAML file.
type SettingsStore struct {
	path   string
	logger *Logger

	mu      sync.RWMutex
	current Settings
}

func NewSettingsStore(path string, logger *Logger) *SettingsStore {
	if path == "" {
		path = DefaultSettingsPath()
	}
	return &SettingsStore{
		path:    filepath.Clean(path),
		logger:  loggerOrGlobal(logger, "Settings"),
		current: DefaultSettings(),
	}
}

func (s *SettingsStore) Path() string { return s.path }

// Get returns the settings last loaded or saved.
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Load reads the file, with defaults filling any key it lacks. A missing file
// yields the defaults. An unreadable file also yields the defaults, together
// with the error.
func (s *SettingsStore) Load() (Settings, error) {
	loaded, err := s.read()
	s.mu.Lock()
	s.current = loaded
	s.mu.Unlock()
	return loaded, err
}

func (s *SettingsStore) read() (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return settings, nil
	}
	if err != nil {
		return DefaultSettings(), WrapErrorf(err, ErrCodeConfigInvalid, "failed to read settings").AddDetail("path", s.path)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), WrapErrorf(err, ErrCodeConfigInvalid, "failed to parse settings").AddDetail("path", s.path)
	}
	return settings, nil
}

// Save validates and writes settings.
func (s *SettingsStore) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return WrapErrorf(err, ErrCodeConfigInvalid, "failed to encode settings")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return WrapErrorf(err, ErrCodeConfigInvalid, "failed to create settings directory")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return WrapErrorf(err, ErrCodeConfigInvalid, "failed to write settings").AddDetail("path", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return WrapErrorf(err, ErrCodeConfigInvalid, "failed to write settings").AddDetail("path", s.path)
	}
	s.current = settings
	return nil
}

// Update sets one key from its string form and saves.
func (s *SettingsStore) Update(key, value string) (Settings, error) {
	next := s.Get()
	if err := next.set(key, value); err != nil {
		return s.Get(), err
	}
	if err := s.Save(next); err != nil {
		return s.Get(), err
	}
	s.logger.WithFields(map[string]interface{}{"key": key, "value": value}).Debug("Setting updated")
	return next, nil
}

func (s *Settings) set(key, value string) error {
	parseBool := func() (bool, error) {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return false, NewConfigError(fmt.Sprintf("%s must be true or false", key)).AddDetail("value", value)
		}
		return b, nil
	}

	var err error
	switch key {
	case "language":
		s.Language = value
	case "voice":
		s.Voice = value
	case "model":
		s.Model = value
	case "theme":
		s.Theme = value
	case "autoPlayAudio":
		s.AutoPlayAudio, err = parseBool()
	case "microphoneEnabled":
		s.MicrophoneEnabled, err = parseBool()
	case "voiceActivation":
		s.VoiceActivation, err = parseBool()
	case "voiceActivationThreshold":
		f, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			return NewConfigError("voiceActivationThreshold must be a number").AddDetail("value", value)
		}
		s.VoiceActivationThreshold = f
	default:
		return NewConfigError("unknown setting").AddDetail("key", key)
	}
	return err
}

// Reset deletes the file and returns to the defaults.
func (s *SettingsStore) Reset() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return s.current, WrapErrorf(err, ErrCodeConfigInvalid, "failed to remove settings").AddDetail("path", s.path)
	}
	s.current = DefaultSettings()
	return s.current, nil
}

// Watch reloads the settings whenever another process rewrites the file and
// calls fn with the new value. It blocks until ctx is done.
func (s *SettingsStore) Watch(ctx context.Context, fn func(Settings)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapErrorf(err, ErrCodeConfigInvalid, "failed to create settings directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return WrapErrorf(err, ErrCodeConfigInvalid, "failed to create settings watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return WrapErrorf(err, ErrCodeConfigInvalid, "failed to watch settings directory").AddDetail("dir", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.reload(fn)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Warn("Settings watcher error")
		}
	}
}

func (s *SettingsStore) reload(fn func(Settings)) {
	loaded, err := s.read()
	if err != nil {
		// Partially written file; the next event reloads it.
		s.logger.WithError(err).Debug("Settings reload skipped")
		return
	}

	s.mu.Lock()
	changed := loaded != s.current
	s.current = loaded
	s.mu.Unlock()

	if changed && fn != nil {
		fn(loaded)
	}
}
