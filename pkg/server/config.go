package server

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rojolang/talker-go/pkg/speech"
	"github.com/rojolang/talker-go/pkg/store"
	"github.com/rojolang/talker-go/pkg/talker"
)

const DefaultTokenTTL = 10 * time.Minute

// Config holds the backend service settings. Keys live under "server." so
// they share a viper instance with the client keys, e.g.
// TALKER_SERVER_ADDR or TALKER_SERVER_JWT_SECRET.
type Config struct {
	Addr           string
	StoreBackend   string
	RedisURL       string
	JWTSecret      string
	TokenTTL       time.Duration
	WhisperCommand string
	WhisperModel   string
	FFmpegCommand  string
	TTSCommand     string
	LLMBackend     string
	OllamaHost     string
	OllamaModel    string
	SystemPrompt   string
	CORSOrigins    []string
	MaxUploadBytes int64
	LogLevel       string
	LogPretty      bool
}

func SetConfigDefaults(v *viper.Viper) {
	v.SetEnvPrefix(talker.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.store", store.BackendMemory)
	v.SetDefault("server.redis_url", "redis://localhost:6379/0")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.token_ttl", DefaultTokenTTL)
	v.SetDefault("server.whisper_command", speech.DefaultWhisperCommand)
	v.SetDefault("server.whisper_model", speech.DefaultWhisperModel)
	v.SetDefault("server.ffmpeg_command", speech.DefaultFFmpegCommand)
	v.SetDefault("server.tts_command", speech.DefaultTTSCommand)
	v.SetDefault("server.llm", "ollama")
	v.SetDefault("server.ollama_host", speech.DefaultOllamaHost)
	v.SetDefault("server.ollama_model", speech.DefaultOllamaModel)
	v.SetDefault("server.system_prompt", "You are a friendly language tutor. Keep answers short.")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_bytes", 25<<20)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", true)
}

func NewConfig() *Config {
	_ = godotenv.Load()
	v := viper.New()
	SetConfigDefaults(v)
	return ConfigFromViper(v)
}

func ConfigFromViper(v *viper.Viper) *Config {
	return &Config{
		Addr:           v.GetString("server.addr"),
		StoreBackend:   strings.ToLower(v.GetString("server.store")),
		RedisURL:       v.GetString("server.redis_url"),
		JWTSecret:      v.GetString("server.jwt_secret"),
		TokenTTL:       v.GetDuration("server.token_ttl"),
		WhisperCommand: v.GetString("server.whisper_command"),
		WhisperModel:   v.GetString("server.whisper_model"),
		FFmpegCommand:  v.GetString("server.ffmpeg_command"),
		TTSCommand:     v.GetString("server.tts_command"),
		LLMBackend:     strings.ToLower(v.GetString("server.llm")),
		OllamaHost:     v.GetString("server.ollama_host"),
		OllamaModel:    v.GetString("server.ollama_model"),
		SystemPrompt:   v.GetString("server.system_prompt"),
		CORSOrigins:    v.GetStringSlice("server.cors_origins"),
		MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
		LogLevel:       v.GetString("log_level"),
		LogPretty:      v.GetBool("log_pretty"),
	}
}

// Validate returns list of issues
func (c *Config) Validate() []string {
	issues := []string{}
	if c.Addr == "" {
		issues = append(issues, "server address is empty")
	}
	switch c.StoreBackend {
	case store.BackendMemory:
	case store.BackendRedis:
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			issues = append(issues, fmt.Sprintf("Invalid redis URL: %q", c.RedisURL))
		}
	default:
		issues = append(issues, fmt.Sprintf("Unknown store backend: %s", c.StoreBackend))
	}
	switch c.LLMBackend {
	case "ollama", "echo":
	default:
		issues = append(issues, fmt.Sprintf("Unknown llm backend: %s", c.LLMBackend))
	}
	if c.JWTSecret != "" && c.TokenTTL <= 0 {
		issues = append(issues, "token_ttl must be positive when a jwt secret is set")
	}
	if c.MaxUploadBytes <= 0 {
		issues = append(issues, "max_upload_bytes must be positive")
	}
	return issues
}

func (c *Config) NewLogger(out io.Writer) *talker.Logger {
	lc := talker.DefaultLogConfig()
	lc.Level = talker.ParseLogLevel(c.LogLevel)
	lc.Pretty = c.LogPretty
	if out != nil {
		lc.Output = out
	}
	return talker.NewLogger(lc)
}

func (c *Config) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Talker server configuration")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintf(w, "Address: %s\n", c.Addr)
	fmt.Fprintf(w, "Store: %s\n", c.StoreBackend)
	if c.StoreBackend == store.BackendRedis {
		fmt.Fprintf(w, "Redis URL: %s\n", c.RedisURL)
	}
	fmt.Fprintf(w, "WebSocket Tokens: %t (ttl %s)\n", c.JWTSecret != "", c.TokenTTL)
	fmt.Fprintf(w, "Whisper: %s (model %s)\n", c.WhisperCommand, c.WhisperModel)
	fmt.Fprintf(w, "TTS: %s\n", c.TTSCommand)
	fmt.Fprintf(w, "LLM: %s", c.LLMBackend)
	if c.LLMBackend == "ollama" {
		fmt.Fprintf(w, " (%s, model %s)", c.OllamaHost, c.OllamaModel)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "CORS Origins: %s\n", strings.Join(c.CORSOrigins, ", "))
}
