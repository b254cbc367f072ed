package speech

import (
	"context"
	"strconv"
	"strings"

	"github.com/rojolang/talker-go/pkg/talker"
)

const (
	DefaultTTSCommand     = "espeak-ng --stdout -v {voice} -s {rate}"
	DefaultTTSContentType = "audio/wav"
	defaultVoice          = "en"
	defaultRate           = 175
)

// emotionRates maps an emotion hint to words per minute.
var emotionRates = map[string]int{
	"happy":   185,
	"excited": 200,
	"angry":   190,
	"sad":     140,
	"calm":    155,
}

// CommandSynthesizer pipes text to a TTS process on stdin and returns what it
// writes to stdout. Voices of the client settings ("neural-female") are
// mapped through Voices; unknown names are passed through unchanged.
type CommandSynthesizer struct {
	Command     string
	ContentType string
	Voices      map[string]string
	logger      *talker.Logger
}

func NewCommandSynthesizer(command string, logger *talker.Logger) *CommandSynthesizer {
	if command == "" {
		command = DefaultTTSCommand
	}
	if logger == nil {
		logger = talker.GetGlobalLogger()
	}
	return &CommandSynthesizer{
		Command:     command,
		ContentType: DefaultTTSContentType,
		Voices: map[string]string{
			"neural-female": "en+f3",
			"neural-male":   "en+m3",
		},
		logger: logger.WithComponent("TTS"),
	}
}

func (s *CommandSynthesizer) Synthesize(ctx context.Context, text, voice, emotion string) ([]byte, string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, "", talker.NewSynthesisError("text cannot be empty")
	}

	argv, err := command(s.Command).expand(map[string]string{
		"voice": s.voice(voice),
		"rate":  strconv.Itoa(rateFor(emotion)),
	})
	if err != nil {
		return nil, "", err
	}
	out, err := run(ctx, s.logger, argv, []byte(text))
	if err != nil {
		return nil, "", talker.WrapErrorf(err, talker.ErrCodeSynthesisFailed, "tts failed")
	}
	if len(out) == 0 {
		return nil, "", talker.NewSynthesisError("tts produced no audio")
	}
	return out, s.ContentType, nil
}

func (s *CommandSynthesizer) voice(name string) string {
	if name == "" {
		return defaultVoice
	}
	if v, ok := s.Voices[name]; ok {
		return v
	}
	return name
}

func rateFor(emotion string) int {
	if r, ok := emotionRates[strings.ToLower(emotion)]; ok {
		return r
	}
	return defaultRate
}
