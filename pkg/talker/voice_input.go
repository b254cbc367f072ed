package talker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ConversationSink is what VoiceInput sends transcripts to and takes replies from.
type ConversationSink interface {
	SendMessage(ctx context.Context, content string) error
	OnAIMessage(fn func(Message)) func()
}

// VoiceInputOptions configures a VoiceInput. Manager, Transcriber and Chat
// are required.
type VoiceInputOptions struct {
	Manager     *AudioManager
	Transcriber Transcriber
	Chat        ConversationSink
	Archive     *RecordingArchive

	// Settings is read on every operation so changes apply immediately.
	Settings func() Settings
	// SourceFor turns a reply's audio URL into a playable source.
	SourceFor func(audioURL string) Source

	SilenceTimeout time.Duration
	// OnAutoStop receives the outcome of a voice activated stop.
	OnAutoStop func(transcript string, err error)

	Clock  clockwork.Clock
	Logger *Logger
}

// VoiceInput drives one voice turn: record, transcribe, send. It also plays
// AI replies that carry audio when auto-play is on.
type VoiceInput struct {
	opts   VoiceInputOptions
	logger *Logger

	mu           sync.Mutex
	pending      *RecordingEntry
	transcribing bool
	detach       func()
	offReplies   func()
}

func NewVoiceInput(opts VoiceInputOptions) *VoiceInput {
	if opts.Settings == nil {
		opts.Settings = DefaultSettings
	}
	if opts.SourceFor == nil {
		opts.SourceFor = func(u string) Source { return URLSource{URL: u} }
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = 1500 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Archive == nil {
		opts.Archive = NewRecordingArchive("", 10, opts.Logger)
	}

	v := &VoiceInput{opts: opts, logger: loggerOrGlobal(opts.Logger, "VoiceInput")}
	if opts.Chat != nil {
		v.offReplies = opts.Chat.OnAIMessage(v.onReply)
	}
	return v
}

// Start begins recording. It fails when the microphone is disabled in
// settings, and attaches the silence detector when voice activation is on.
func (v *VoiceInput) Start(ctx context.Context) error {
	settings := v.opts.Settings()
	if !settings.MicrophoneEnabled {
		return NewPermissionError("microphone is disabled in settings")
	}
	if v.IsTranscribing() {
		return NewTalkerError("a recording is still being transcribed", ErrCodeAlreadyRecording)
	}

	if err := v.opts.Manager.StartRecording(ctx); err != nil {
		return err
	}

	if settings.VoiceActivation {
		detector := CreateSilenceDetector(v.opts.Clock, settings.VoiceActivationThreshold, v.opts.SilenceTimeout, v.autoStop)
		off := v.opts.Manager.OnRecordingStateChange(detector)
		v.mu.Lock()
		v.detach = off
		v.mu.Unlock()
	}
	return nil
}

func (v *VoiceInput) autoStop() {
	go func() {
		v.logger.Debug("Silence detected, stopping recording")
		text, err := v.Stop(context.Background())
		if v.opts.OnAutoStop != nil {
			v.opts.OnAutoStop(text, err)
		}
	}()
}

// Stop ends the recording, transcribes it and sends the transcript to the
// chat. It returns the transcript. When transcription or sending fails the
// recording stays pending for Retry. Audio returned with an encode error is
// still archived and sent. Stopping while idle returns "", nil.
func (v *VoiceInput) Stop(ctx context.Context) (string, error) {
	duration := v.opts.Manager.RecordingState().Duration
	data, err := v.opts.Manager.StopRecording()

	v.mu.Lock()
	if v.detach != nil {
		v.detach()
		v.detach = nil
	}
	v.mu.Unlock()

	if len(data) == 0 {
		return "", err
	}
	if err != nil {
		if !errors.Is(err, ErrEncode) {
			return "", err
		}
		v.logger.WithError(err).Warn("Sending a partly encoded recording")
	}

	entry, saveErr := v.opts.Archive.Add(RecordingEntry{
		Data:     data,
		MIMEType: "audio/wav",
		Duration: duration,
	})
	if saveErr != nil {
		v.logger.WithError(saveErr).Warn("Recording kept in memory only")
	}

	v.mu.Lock()
	v.pending = &entry
	v.mu.Unlock()
	return v.submit(ctx)
}

// Retry resubmits the pending recording without recording again. A recording
// that was already transcribed is not transcribed twice.
func (v *VoiceInput) Retry(ctx context.Context) (string, error) {
	if v.Pending() == nil {
		return "", NewTalkerError("no recording to retry", ErrCodeNotFound)
	}
	return v.submit(ctx)
}

// Pending returns the recording waiting for a retry, if any.
func (v *VoiceInput) Pending() *RecordingEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pending == nil {
		return nil
	}
	p := *v.pending
	return &p
}

// Discard drops the pending recording.
func (v *VoiceInput) Discard() {
	v.mu.Lock()
	v.pending = nil
	v.mu.Unlock()
}

func (v *VoiceInput) IsTranscribing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.transcribing
}

func (v *VoiceInput) submit(ctx context.Context) (string, error) {
	v.mu.Lock()
	if v.pending == nil {
		v.mu.Unlock()
		return "", nil
	}
	if v.transcribing {
		v.mu.Unlock()
		return "", NewTalkerError("transcription already in progress", ErrCodeAlreadyRecording)
	}
	v.transcribing = true
	entry := *v.pending
	v.mu.Unlock()

	defer func() {
		v.mu.Lock()
		v.transcribing = false
		v.mu.Unlock()
	}()

	text := entry.Transcript
	if text == "" {
		raw, err := v.opts.Transcriber.Transcribe(ctx, entry.Data, entry.MIMEType, v.opts.Settings().Language)
		if err != nil {
			werr := WrapError(err, ErrCodeTranscriptionFailed).AddDetail("recording_id", entry.ID)
			v.logger.LogError(werr)
			return "", werr
		}
		text = strings.TrimSpace(raw)
		if text == "" {
			v.Discard()
			v.logger.WithField("recording_id", entry.ID).Info("Transcript was empty, nothing sent")
			return "", nil
		}
		v.opts.Archive.SetTranscript(entry.ID, text)
		v.mu.Lock()
		if v.pending != nil && v.pending.ID == entry.ID {
			v.pending.Transcript = text
		}
		v.mu.Unlock()
	}

	if err := v.opts.Chat.SendMessage(ctx, text); err != nil {
		return text, err
	}
	v.mu.Lock()
	if v.pending != nil && v.pending.ID == entry.ID {
		v.pending = nil
	}
	v.mu.Unlock()
	return text, nil
}

func (v *VoiceInput) onReply(msg Message) {
	if msg.AudioURL == "" || !v.opts.Settings().AutoPlayAudio {
		return
	}
	if err := v.opts.Manager.PlayAudio(context.Background(), v.opts.SourceFor(msg.AudioURL), msg.ID); err != nil {
		v.logger.WithError(err).WithField("message_id", msg.ID).Warn("Auto-play failed")
	}
}

// Close detaches from the chat and any running detector.
func (v *VoiceInput) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detach != nil {
		v.detach()
		v.detach = nil
	}
	if v.offReplies != nil {
		v.offReplies()
		v.offReplies = nil
	}
}
