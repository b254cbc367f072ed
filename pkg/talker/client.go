package talker

import (
	"context"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

// ClientOptions configures NewClient. Nil devices select the portaudio input
// and the speaker output.
type ClientOptions struct {
	Config *Config
	Input  Input
	Output Output
	Clock  clockwork.Clock
	Logger *Logger
}

// Client owns every client side component. Build one with NewClient and tear
// it down with Cleanup.
type Client struct {
	config *Config
	logger *Logger

	Audio    *AudioManager
	API      *APIClient
	Push     *PushClient
	Chat     *Chat
	Voice    *VoiceInput
	Settings *SettingsStore
	Archive  *RecordingArchive

	cleanupOnce sync.Once
}

func NewClient(opts ClientOptions) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = NewConfig()
	}
	if issues := cfg.Validate(); len(issues) > 0 {
		return nil, NewConfigError("invalid configuration: " + strings.Join(issues, "; ")).AddDetail("issues", issues)
	}

	logger := opts.Logger
	if logger == nil {
		logger = cfg.NewLogger(nil)
	}

	settings := NewSettingsStore(cfg.SettingsPath, logger)
	if _, err := settings.Load(); err != nil {
		logger.WithError(err).Warn("Using default settings")
	}

	input := opts.Input
	if input == nil {
		input = NewPortAudioInput(cfg.Audio.DeviceID, logger)
	}
	output := opts.Output
	if output == nil {
		output = NewSpeakerOutput(logger)
	}

	c := &Client{config: cfg, logger: logger.WithComponent("Client"), Settings: settings}
	c.Audio = NewAudioManager(ManagerOptions{
		Input:  input,
		Output: output,
		Clock:  opts.Clock,
		Config: cfg.Audio,
		Logger: logger,
	})
	c.API = NewAPIClientFromConfig(cfg, logger)
	c.Push = NewPushClient(cfg, logger)
	c.Chat = NewChat(c.API, c.Push, logger)
	c.Chat.SetLanguage(settings.Get().Language)
	c.Archive = NewRecordingArchive(cfg.RecordingsDir, 20, logger)
	c.Voice = NewVoiceInput(VoiceInputOptions{
		Manager:     c.Audio,
		Transcriber: c.API,
		Chat:        c.Chat,
		Archive:     c.Archive,
		Settings:    settings.Get,
		SourceFor:   c.API.AudioSource,
		Clock:       opts.Clock,
		Logger:      logger,
	})

	if cfg.AutoConnect {
		go func() {
			if err := c.Connect(context.Background()); err != nil {
				c.logger.WithError(err).Warn("Auto-connect failed")
			}
		}()
	}
	return c, nil
}

func (c *Client) Config() *Config { return c.config }

// Connect opens the push channel.
func (c *Client) Connect(ctx context.Context) error {
	return c.Push.Connect(ctx)
}

// Start connects the push channel (failures are retried in the background)
// and loads the session list.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		c.logger.WithError(err).Warn("Push channel unavailable, replies will come over REST")
	}
	return c.Chat.LoadSessions(ctx)
}

// WatchSettings applies settings written by other processes until ctx ends.
func (c *Client) WatchSettings(ctx context.Context) error {
	return c.Settings.Watch(ctx, func(s Settings) {
		c.Chat.SetLanguage(s.Language)
		c.logger.WithField("language", s.Language).Info("Settings reloaded")
	})
}

// Cleanup releases the audio devices, closes the push channel and ends all
// subscriptions. Safe to call more than once.
func (c *Client) Cleanup() {
	c.cleanupOnce.Do(func() {
		c.Voice.Close()
		c.Audio.Cleanup()
		c.Audio.Close()
		c.Push.Disconnect()
		c.Chat.Close()
		c.logger.Debug("Client cleaned up")
	})
}
