package talker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodePermissionDenied    = "PERMISSION_DENIED"
	ErrCodeAudioDevice         = "AUDIO_DEVICE_ERROR"
	ErrCodeEncode              = "ENCODE_ERROR"
	ErrCodePlayback            = "PLAYBACK_ERROR"
	ErrCodeTranscriptionFailed = "TRANSCRIPTION_FAILED"
	ErrCodeSynthesisFailed     = "SYNTHESIS_FAILED"
	ErrCodeAlreadyRecording    = "ALREADY_RECORDING"
	ErrCodeRecordingAborted    = "RECORDING_ABORTED"
	ErrCodeManagerClosed       = "MANAGER_CLOSED"
	ErrCodeConnectionFailed    = "CONNECTION_FAILED"
	ErrCodeReconnectFailed     = "RECONNECT_FAILED"
	ErrCodeTokenExpired        = "TOKEN_EXPIRED"
	ErrCodeWebSocket           = "WEBSOCKET_ERROR"
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeJSONParse           = "JSON_PARSE_ERROR"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeDuplicate           = "DUPLICATE"
	ErrCodeUnknown             = "UNKNOWN_ERROR"
	ErrCodeTimeout             = "TIMEOUT_ERROR"
	ErrCodeAuthFailed          = "AUTH_FAILED"
)

// Sentinels for errors.Is. Matching is by code, so any *TalkerError carrying
// the same code satisfies errors.Is(err, ErrPermissionDenied).
var (
	ErrPermissionDenied = &TalkerError{Code: ErrCodePermissionDenied, Message: "microphone permission denied"}
	ErrAudioDevice      = &TalkerError{Code: ErrCodeAudioDevice, Message: "audio device error"}
	ErrEncode           = &TalkerError{Code: ErrCodeEncode, Message: "encode error"}
	ErrPlayback         = &TalkerError{Code: ErrCodePlayback, Message: "playback error"}
	ErrTranscription    = &TalkerError{Code: ErrCodeTranscriptionFailed, Message: "transcription failed"}
	ErrSynthesis        = &TalkerError{Code: ErrCodeSynthesisFailed, Message: "synthesis failed"}
	ErrAlreadyRecording = &TalkerError{Code: ErrCodeAlreadyRecording, Message: "recording already in progress"}
	ErrRecordingAborted = &TalkerError{Code: ErrCodeRecordingAborted, Message: "recording stopped before the device was ready"}
	ErrManagerClosed    = &TalkerError{Code: ErrCodeManagerClosed, Message: "audio manager is closed"}
	ErrNotFound         = &TalkerError{Code: ErrCodeNotFound, Message: "not found"}
	ErrDuplicate        = &TalkerError{Code: ErrCodeDuplicate, Message: "already exists"}
)

// TalkerError is an error with a machine readable code and optional details.
type TalkerError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func NewTalkerError(message, code string) *TalkerError {
	return &TalkerError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func (e *TalkerError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.err != nil && e.err.Error() != e.Message {
		sb.WriteString(": ")
		sb.WriteString(e.err.Error())
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Details[k]))
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func (e *TalkerError) Unwrap() error {
	return e.err
}

// Is reports whether target is a *TalkerError with the same code.
func (e *TalkerError) Is(target error) bool {
	t, ok := target.(*TalkerError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Helper to add details to existing TalkerError
func (e *TalkerError) AddDetail(key string, value interface{}) *TalkerError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Helper to get error details
func (e *TalkerError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// Specific error creators with common codes
func NewPermissionError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodePermissionDenied)
}

func NewDeviceError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeAudioDevice)
}

func NewEncodeError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeEncode)
}

func NewPlaybackError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodePlayback)
}

func NewTranscriptionError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeTranscriptionFailed)
}

func NewSynthesisError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeSynthesisFailed)
}

func NewConnectionError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeConnectionFailed)
}

func NewReconnectError(message string, attempts, maxAttempts int) *TalkerError {
	return NewTalkerError(message, ErrCodeReconnectFailed).
		AddDetail("attempts", attempts).
		AddDetail("max_attempts", maxAttempts)
}

func NewWebSocketError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeWebSocket)
}

func NewTokenError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeTokenExpired)
}

func NewConfigError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeConfigInvalid)
}

func NewJSONError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeJSONParse)
}

func NewAuthError(message string) *TalkerError {
	return NewTalkerError(message, ErrCodeAuthFailed)
}

// WrapError wraps err as a TalkerError with the given code. The original error
// stays reachable through errors.Unwrap.
func WrapError(err error, code string) *TalkerError {
	if err == nil {
		return nil
	}
	var te *TalkerError
	if errors.As(err, &te) && te.Code == code {
		return te
	}
	e := NewTalkerError(err.Error(), code)
	e.err = err
	return e
}

// WrapErrorf wraps err under a new message.
func WrapErrorf(err error, code, format string, args ...interface{}) *TalkerError {
	e := NewTalkerError(fmt.Sprintf(format, args...), code)
	e.err = err
	return e
}

// ErrorCode returns the code of the first TalkerError in err's chain, or "".
func ErrorCode(err error) string {
	var te *TalkerError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// Helper to check if error has specific code
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// Helper to check if error is retryable
func IsRetryableError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeConnectionFailed,
		ErrCodeReconnectFailed,
		ErrCodeWebSocket,
		ErrCodeTimeout,
		ErrCodeTranscriptionFailed,
		ErrCodeSynthesisFailed,
		ErrCodePermissionDenied:
		return true
	}
	return false
}

// Helper to check if error is critical
func IsCriticalError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeAuthFailed, ErrCodeTokenExpired, ErrCodeConfigInvalid, ErrCodeManagerClosed:
		return true
	}
	return false
}
