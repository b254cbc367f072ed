package talker

import (
	"encoding/json"
	"time"
)

// RecordingState is the observable state of the recording lifecycle.
type RecordingState struct {
	IsRecording bool    `json:"isRecording"`
	IsPaused    bool    `json:"isPaused"`
	Duration    float64 `json:"duration"`   // seconds
	AudioLevel  float64 `json:"audioLevel"` // 0..1

	// Err is set only on the notification reporting a device failure that
	// aborted the recording.
	Err error `json:"-"`
}

// PlaybackPhase enum
type PlaybackPhase string

const (
	PhaseIdle    PlaybackPhase = "idle"
	PhaseLoading PlaybackPhase = "loading"
	PhasePlaying PlaybackPhase = "playing"
	PhasePaused  PlaybackPhase = "paused"
	PhaseEnded   PlaybackPhase = "ended"
	PhaseError   PlaybackPhase = "error"
)

// PlaybackState is the observable state of the playback lifecycle.
type PlaybackState struct {
	Phase       PlaybackPhase `json:"phase"`
	IsPlaying   bool          `json:"isPlaying"`
	CurrentTime float64       `json:"currentTime"` // seconds
	Duration    float64       `json:"duration"`    // seconds
	TrackID     string        `json:"trackId,omitempty"`

	// Err is set only on the PhaseError notification.
	Err error `json:"-"`
}

func idlePlayback() PlaybackState {
	return PlaybackState{Phase: PhaseIdle}
}

// ConnectionState enum
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
	Reconnecting ConnectionState = "reconnecting"
	ErrorState   ConnectionState = "error"
)

// Message author
type MessageType string

const (
	UserMessage MessageType = "user"
	AIMessage   MessageType = "ai"
)

type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Emotion   string      `json:"emotion,omitempty"`
	AudioURL  string      `json:"audioUrl,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
}

type ChatSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastMessage  string    `json:"lastMessage"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	Language     string    `json:"language,omitempty"`
}

// Conversation is a single prompt/response record kept for analytics.
type Conversation struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Word      string    `json:"word,omitempty"`
	Language  string    `json:"language,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type ChatResponse struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	SessionID string    `json:"sessionId"`
	Emotion   string    `json:"emotion,omitempty"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type SessionList struct {
	Sessions []ChatSession `json:"sessions"`
	Total    int           `json:"total"`
}

type MessageList struct {
	Messages []Message `json:"messages"`
	Total    int       `json:"total"`
}

// Push envelope types
const (
	EventMessage      = "message"
	EventTyping       = "typing"
	EventError        = "error"
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventSubscribe    = "subscribe"
)

// WebSocketMessage is the push channel envelope.
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewWebSocketMessage marshals payload into an envelope stamped with now.
func NewWebSocketMessage(eventType string, payload interface{}) (*WebSocketMessage, error) {
	msg := &WebSocketMessage{Type: eventType, Timestamp: time.Now().UTC()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, WrapError(err, ErrCodeJSONParse)
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m *WebSocketMessage) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return NewJSONError("empty payload").AddDetail("type", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return WrapError(err, ErrCodeJSONParse).AddDetail("type", m.Type)
	}
	return nil
}

type TypingIndicator struct {
	IsTyping  bool   `json:"isTyping"`
	SessionID string `json:"sessionId,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type DisconnectPayload struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

type SubscribePayload struct {
	SessionID string `json:"sessionId"`
}

// WSToken struct
type WSToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // Unix timestamp in milliseconds
}

// Handler types
type EventHandler func(*WebSocketMessage)
type ConnectionHandler func(ConnectionState)
type ErrorHandler func(error)
