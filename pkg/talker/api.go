package talker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"time"
)

// ClientVersion is sent as X-Client-Version on every request.
const ClientVersion = "1.0.0"

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error)
}

// Synthesizer turns text into audio bytes and their content type.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, emotion string) ([]byte, string, error)
}

// ChatBackend is the part of the REST API the chat state needs.
type ChatBackend interface {
	CreateSession(ctx context.Context, title, language string) (*ChatSession, error)
	ListSessions(ctx context.Context, page, limit int) (*SessionList, error)
	GetSessionMessages(ctx context.Context, sessionID string, page, limit int) (*MessageList, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SendMessage(ctx context.Context, req CreateChatRequest) (*ChatResponse, error)
}

// HealthStatus is the /health response.
type HealthStatus struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Sessions int    `json:"sessions"`
}

type apiError struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

type APIClient struct {
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
	logger     *Logger
}

func NewAPIClient(baseURL string, headers map[string]string, logger *Logger) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:8000/api"
	}
	return &APIClient{
		baseURL: baseURL,
		headers: headers,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     30 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		logger: loggerOrGlobal(logger, "APIClient"),
	}
}

// NewAPIClientFromConfig builds a client for cfg.APIBaseURL.
func NewAPIClientFromConfig(cfg *Config, logger *Logger) *APIClient {
	return NewAPIClient(cfg.APIBaseURL, cfg.Headers, logger)
}

func (ac *APIClient) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, ac.baseURL+endpoint, body)
	if err != nil {
		return nil, WrapErrorf(err, ErrCodeConfigInvalid, "invalid request").AddDetail("endpoint", endpoint)
	}
	req.Header.Set("User-Agent", "TalkerGo/"+ClientVersion)
	req.Header.Set("X-Client-Version", ClientVersion)
	for k, v := range ac.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (ac *APIClient) do(req *http.Request) ([]byte, http.Header, error) {
	start := time.Now()
	resp, err := ac.httpClient.Do(req)
	if err != nil {
		return nil, nil, WrapErrorf(err, ErrCodeConnectionFailed, "request failed").AddDetail("path", req.URL.Path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, WrapErrorf(err, ErrCodeUnknown, "failed to read response")
	}

	ac.logger.WithFields(map[string]interface{}{
		"method":      req.Method,
		"path":        req.URL.Path,
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("API request")

	if resp.StatusCode >= 400 {
		errMsg := http.StatusText(resp.StatusCode)
		var ae apiError
		if json.Unmarshal(respBody, &ae) == nil && ae.Reason != "" {
			errMsg = ae.Reason
		} else if len(respBody) > 0 {
			errMsg = string(bytes.TrimSpace(respBody))
		}
		return nil, nil, NewTalkerError(errMsg, fmt.Sprintf("HTTP_%d", resp.StatusCode)).
			AddDetail("status_code", resp.StatusCode).
			AddDetail("path", req.URL.Path)
	}
	return respBody, resp.Header, nil
}

func (ac *APIClient) request(ctx context.Context, method, endpoint string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return WrapError(err, ErrCodeJSONParse)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := ac.newRequest(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, _, err := ac.do(req)
	if err != nil {
		return err
	}
	if out == nil || len(resp) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return WrapError(err, ErrCodeJSONParse).AddDetail("endpoint", endpoint)
	}
	return nil
}

func pageQuery(page, limit int) string {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// Session operations

func (ac *APIClient) CreateSession(ctx context.Context, title, language string) (*ChatSession, error) {
	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	if language != "" {
		body["language"] = language
	}
	var session ChatSession
	if err := ac.request(ctx, http.MethodPost, "/sessions", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (ac *APIClient) ListSessions(ctx context.Context, page, limit int) (*SessionList, error) {
	var list SessionList
	if err := ac.request(ctx, http.MethodGet, "/sessions"+pageQuery(page, limit), nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (ac *APIClient) GetSession(ctx context.Context, sessionID string) (*ChatSession, error) {
	if sessionID == "" {
		return nil, NewConfigError("session ID cannot be empty")
	}
	var session ChatSession
	if err := ac.request(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (ac *APIClient) GetSessionMessages(ctx context.Context, sessionID string, page, limit int) (*MessageList, error) {
	if sessionID == "" {
		return nil, NewConfigError("session ID cannot be empty")
	}
	var list MessageList
	endpoint := "/sessions/" + url.PathEscape(sessionID) + "/messages" + pageQuery(page, limit)
	if err := ac.request(ctx, http.MethodGet, endpoint, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (ac *APIClient) UpdateSessionTitle(ctx context.Context, sessionID, title string) error {
	if sessionID == "" {
		return NewConfigError("session ID cannot be empty")
	}
	return ac.request(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(sessionID), map[string]string{"title": title}, nil)
}

func (ac *APIClient) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return NewConfigError("session ID cannot be empty")
	}
	return ac.request(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

// Chat operations

func (ac *APIClient) SendMessage(ctx context.Context, req CreateChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := ac.request(ctx, http.MethodPost, "/chat/message", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveConversation stores one prompt/response pair.
func (ac *APIClient) SaveConversation(ctx context.Context, conv Conversation) error {
	return ac.request(ctx, http.MethodPost, "/conversations", conv, nil)
}

func (ac *APIClient) ListConversations(ctx context.Context) ([]Conversation, error) {
	var convs []Conversation
	if err := ac.request(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// Voice operations

// Transcribe uploads audio as multipart form field "audio".
func (ac *APIClient) Transcribe(ctx context.Context, audio []byte, mimeType, language string) (string, error) {
	if len(audio) == 0 {
		return "", NewTranscriptionError("no audio to transcribe")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {`form-data; name="audio"; filename="recording` + extensionFor(mimeType) + `"`},
		"Content-Type":        {mimeType},
	})
	if err != nil {
		return "", WrapErrorf(err, ErrCodeTranscriptionFailed, "failed to build upload")
	}
	if _, err := part.Write(audio); err != nil {
		return "", WrapErrorf(err, ErrCodeTranscriptionFailed, "failed to build upload")
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", WrapErrorf(err, ErrCodeTranscriptionFailed, "failed to build upload")
		}
	}
	if err := mw.Close(); err != nil {
		return "", WrapErrorf(err, ErrCodeTranscriptionFailed, "failed to build upload")
	}

	req, err := ac.newRequest(ctx, http.MethodPost, "/voice/transcribe", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, _, err := ac.do(req)
	if err != nil {
		return "", WrapErrorf(err, ErrCodeTranscriptionFailed, "transcription request failed")
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", WrapErrorf(err, ErrCodeTranscriptionFailed, "invalid transcription response")
	}
	return out.Text, nil
}

func (ac *APIClient) Synthesize(ctx context.Context, text, voice, emotion string) ([]byte, string, error) {
	if text == "" {
		return nil, "", NewSynthesisError("no text to synthesize")
	}
	raw, err := json.Marshal(map[string]string{"text": text, "voice": voice, "emotion": emotion})
	if err != nil {
		return nil, "", WrapError(err, ErrCodeJSONParse)
	}
	req, err := ac.newRequest(ctx, http.MethodPost, "/voice/synthesize", bytes.NewReader(raw))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	audio, header, err := ac.do(req)
	if err != nil {
		return nil, "", WrapErrorf(err, ErrCodeSynthesisFailed, "synthesis request failed")
	}
	if len(audio) == 0 {
		return nil, "", NewSynthesisError("empty synthesis response")
	}
	return audio, header.Get("Content-Type"), nil
}

func (ac *APIClient) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := ac.request(ctx, http.MethodGet, "/health", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ResolveURL turns a server relative path such as /api/messages/x/audio into
// an absolute URL on the API host. Absolute URLs are returned unchanged.
func (ac *APIClient) ResolveURL(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.IsAbs() {
		return ref
	}
	base, err := url.Parse(ac.baseURL)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// AudioSource returns a playable source for a message audio URL.
func (ac *APIClient) AudioSource(ref string) Source {
	header := http.Header{}
	header.Set("X-Client-Version", ClientVersion)
	for k, v := range ac.headers {
		header.Set(k, v)
	}
	return URLSource{URL: ac.ResolveURL(ref), Client: ac.httpClient, Header: header}
}

func (ac *APIClient) SetTimeout(timeout time.Duration) {
	ac.httpClient.Timeout = timeout
}

func extensionFor(mimeType string) string {
	switch mimeType {
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
