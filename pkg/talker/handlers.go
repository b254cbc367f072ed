package talker

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RecordingStateHandler consumes recording notifications, e.g. through
// AudioManager.OnRecordingStateChange.
type RecordingStateHandler func(RecordingState)

// PlaybackStateHandler consumes playback notifications.
type PlaybackStateHandler func(PlaybackState)

// Factory functions for common push handlers

func CreateLoggingEventHandler(logger *Logger, verbose bool) EventHandler {
	logger = loggerOrGlobal(logger, "Push")
	return func(msg *WebSocketMessage) {
		fields := map[string]interface{}{"timestamp": msg.Timestamp.Format(time.RFC3339)}
		if verbose {
			fields["payload"] = string(msg.Payload)
		}
		logger.LogMessageEvent(msg.Type, fields)
	}
}

// CreateReplyHandler decodes message pushes into AI messages.
func CreateReplyHandler(callback func(Message)) EventHandler {
	return func(msg *WebSocketMessage) {
		if msg.Type != EventMessage {
			return
		}
		var resp ChatResponse
		if err := msg.Decode(&resp); err != nil {
			GetGlobalLogger().WithError(err).Warn("Invalid message payload")
			return
		}
		callback(replyMessage(&resp))
	}
}

func CreateTypingHandler(callback func(TypingIndicator)) EventHandler {
	return func(msg *WebSocketMessage) {
		if msg.Type != EventTyping {
			return
		}
		var ti TypingIndicator
		if err := msg.Decode(&ti); err != nil {
			GetGlobalLogger().WithError(err).Warn("Invalid typing payload")
			return
		}
		callback(ti)
	}
}

func CreateServerErrorHandler(callback func(ErrorPayload)) EventHandler {
	return func(msg *WebSocketMessage) {
		if msg.Type != EventError {
			return
		}
		var ep ErrorPayload
		if err := msg.Decode(&ep); err != nil {
			ep.Error = "server error"
		}
		callback(ep)
	}
}

func CreateErrorLoggingHandler(logger *Logger, prefix string) ErrorHandler {
	logger = loggerOrGlobal(logger, prefix)
	return func(err error) {
		if err != nil {
			logger.LogError(err)
		}
	}
}

func CreateConnectionStatusHandler(logger *Logger, callback func(ConnectionState)) ConnectionHandler {
	logger = loggerOrGlobal(logger, "Push")
	return func(state ConnectionState) {
		logger.LogConnectionEvent("state_changed", state, nil)
		if callback != nil {
			callback(state)
		}
	}
}

func SequentialEventHandlers(handlers ...EventHandler) EventHandler {
	return func(msg *WebSocketMessage) {
		for _, h := range handlers {
			if h != nil {
				h(msg)
			}
		}
	}
}

// Recording handlers

// CreateSilenceDetector calls onSilence once the level has stayed below
// threshold for silence, but only after the level first reached threshold in
// the current session. Paused notifications are ignored, and the detector
// rearms when a recording ends.
func CreateSilenceDetector(clock clockwork.Clock, threshold float64, silence time.Duration, onSilence func()) RecordingStateHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	var mu sync.Mutex
	var heardSpeech, fired bool
	var silenceStart time.Time

	return func(s RecordingState) {
		mu.Lock()
		if !s.IsRecording {
			heardSpeech, fired = false, false
			silenceStart = time.Time{}
			mu.Unlock()
			return
		}
		if s.IsPaused || fired {
			silenceStart = time.Time{}
			mu.Unlock()
			return
		}

		if s.AudioLevel >= threshold {
			heardSpeech = true
			silenceStart = time.Time{}
			mu.Unlock()
			return
		}
		if !heardSpeech {
			mu.Unlock()
			return
		}
		if silenceStart.IsZero() {
			silenceStart = clock.Now()
			mu.Unlock()
			return
		}
		trigger := clock.Since(silenceStart) >= silence
		if trigger {
			fired = true
		}
		mu.Unlock()

		if trigger {
			onSilence()
		}
	}
}

// CreateLevelMonitor reports the current level and the session peak.
func CreateLevelMonitor(callback func(level, peak float64)) RecordingStateHandler {
	var mu sync.Mutex
	var peak float64
	return func(s RecordingState) {
		mu.Lock()
		if !s.IsRecording {
			peak = 0
			mu.Unlock()
			return
		}
		if s.AudioLevel > peak {
			peak = s.AudioLevel
		}
		p := peak
		mu.Unlock()
		callback(s.AudioLevel, p)
	}
}

// CreateDurationLimit calls onLimit once when a recording reaches max seconds.
func CreateDurationLimit(max time.Duration, onLimit func()) RecordingStateHandler {
	var mu sync.Mutex
	var fired bool
	return func(s RecordingState) {
		mu.Lock()
		if !s.IsRecording {
			fired = false
			mu.Unlock()
			return
		}
		trigger := !fired && s.Duration >= max.Seconds()
		if trigger {
			fired = true
		}
		mu.Unlock()
		if trigger {
			onLimit()
		}
	}
}

func SequentialRecordingHandlers(handlers ...RecordingStateHandler) RecordingStateHandler {
	return func(s RecordingState) {
		for _, h := range handlers {
			if h != nil {
				h(s)
			}
		}
	}
}
