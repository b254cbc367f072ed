package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rojolang/talker-go/pkg/talker"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "phi"
	maxHistory         = 20
)

// Responder produces the assistant reply to prompt. history holds the earlier
// messages of the session, oldest first, without prompt itself.
type Responder interface {
	Respond(ctx context.Context, history []talker.Message, prompt string) (string, error)
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error,omitempty"`
}

// OllamaResponder calls a local Ollama server's /api/chat.
type OllamaResponder struct {
	Host         string
	Model        string
	SystemPrompt string
	client       *http.Client
	logger       *talker.Logger
}

func NewOllamaResponder(host, model string, logger *talker.Logger) *OllamaResponder {
	if host == "" {
		host = DefaultOllamaHost
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	if logger == nil {
		logger = talker.GetGlobalLogger()
	}
	return &OllamaResponder{
		Host:   strings.TrimRight(host, "/"),
		Model:  model,
		client: &http.Client{Timeout: 2 * time.Minute},
		logger: logger.WithComponent("Ollama"),
	}
}

func (o *OllamaResponder) Respond(ctx context.Context, history []talker.Message, prompt string) (string, error) {
	req := ollamaChatRequest{Model: o.Model, Messages: o.messages(history, prompt)}
	body, err := json.Marshal(req)
	if err != nil {
		return "", talker.WrapError(err, talker.ErrCodeJSONParse)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.Host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", talker.WrapError(err, talker.ErrCodeConfigInvalid)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", talker.WrapErrorf(err, talker.ErrCodeConnectionFailed, "ollama request failed").AddDetail("host", o.Host)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", talker.WrapErrorf(err, talker.ErrCodeConnectionFailed, "reading ollama response failed")
	}
	var out ollamaChatResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 400 {
		return "", talker.WrapError(err, talker.ErrCodeJSONParse).AddDetail("body", string(raw))
	}
	if resp.StatusCode >= 400 {
		reason := out.Error
		if reason == "" {
			reason = strings.TrimSpace(string(raw))
		}
		return "", talker.NewTalkerError(reason, fmt.Sprintf("HTTP_%d", resp.StatusCode)).
			AddDetail("status_code", resp.StatusCode).
			AddDetail("model", o.Model)
	}

	o.logger.LogMessageEvent("llm_reply", map[string]interface{}{
		"model":   o.Model,
		"history": len(history),
		"latency": time.Since(start).String(),
	})
	return strings.TrimSpace(out.Message.Content), nil
}

func (o *OllamaResponder) messages(history []talker.Message, prompt string) []ollamaMessage {
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	msgs := make([]ollamaMessage, 0, len(history)+2)
	if o.SystemPrompt != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: o.SystemPrompt})
	}
	for _, m := range history {
		role := "user"
		if m.Type == talker.AIMessage {
			role = "assistant"
		}
		msgs = append(msgs, ollamaMessage{Role: role, Content: m.Content})
	}
	return append(msgs, ollamaMessage{Role: "user", Content: prompt})
}

// EchoResponder answers without a model. Used when no LLM is configured.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, _ []talker.Message, prompt string) (string, error) {
	return "You said: " + prompt, nil
}
