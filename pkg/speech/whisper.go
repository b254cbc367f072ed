package speech

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rojolang/talker-go/pkg/talker"
)

const (
	DefaultWhisperCommand = "whisper-cli -m {model} -f {input} -l {language} --no-timestamps"
	DefaultWhisperModel   = "models/ggml-small.bin"
	DefaultFFmpegCommand  = "ffmpeg -hide_banner -loglevel error -y -i {input} -ar 16000 -ac 1 {output}"
)

var timestampPrefix = regexp.MustCompile(`^\[[0-9:.]+ --> [0-9:.]+\]\s*`)

// WhisperTranscriber shells out to a whisper.cpp CLI. Uploads that are not
// WAV are converted with FFmpeg first when an FFmpeg command is set.
type WhisperTranscriber struct {
	Command string
	Model   string
	FFmpeg  string
	TempDir string
	logger  *talker.Logger
}

func NewWhisperTranscriber(command, model, ffmpeg string, logger *talker.Logger) *WhisperTranscriber {
	if command == "" {
		command = DefaultWhisperCommand
	}
	if model == "" {
		model = DefaultWhisperModel
	}
	if logger == nil {
		logger = talker.GetGlobalLogger()
	}
	return &WhisperTranscriber{
		Command: command,
		Model:   model,
		FFmpeg:  ffmpeg,
		logger:  logger.WithComponent("Whisper"),
	}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	if len(audio) == 0 {
		return "", talker.NewTranscriptionError("no audio to transcribe")
	}
	dir, err := os.MkdirTemp(w.TempDir, "talker-stt-")
	if err != nil {
		return "", talker.WrapErrorf(err, talker.ErrCodeTranscriptionFailed, "failed to create temp dir")
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input"+audioExtension(mimeType))
	if err := os.WriteFile(input, audio, 0o600); err != nil {
		return "", talker.WrapErrorf(err, talker.ErrCodeTranscriptionFailed, "failed to write upload")
	}

	if w.FFmpeg != "" && !strings.HasSuffix(input, ".wav") {
		converted := filepath.Join(dir, "input.wav")
		argv, err := command(w.FFmpeg).expand(map[string]string{"input": input, "output": converted})
		if err != nil {
			return "", err
		}
		if _, err := run(ctx, w.logger, argv, nil); err != nil {
			return "", talker.WrapErrorf(err, talker.ErrCodeTranscriptionFailed, "audio conversion failed")
		}
		input = converted
	}

	if language == "" {
		language = "auto"
	}
	argv, err := command(w.Command).expand(map[string]string{
		"input":    input,
		"model":    w.Model,
		"language": language,
	})
	if err != nil {
		return "", err
	}
	out, err := run(ctx, w.logger, argv, nil)
	if err != nil {
		return "", talker.WrapErrorf(err, talker.ErrCodeTranscriptionFailed, "whisper failed")
	}

	text := cleanTranscript(string(out))
	w.logger.LogAudioEvent("transcribed", map[string]interface{}{
		"bytes":    len(audio),
		"language": language,
		"chars":    len(text),
	})
	return text, nil
}

// cleanTranscript joins whisper's output lines, dropping segment timestamps.
func cleanTranscript(out string) string {
	var parts []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(timestampPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}

func audioExtension(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	}
	return ".bin"
}
