package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/xid"

	"github.com/rojolang/talker-go/pkg/talker"
)

const titleLength = 50

type createSessionRequest struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
	Language  string `json:"language"`
}

type updateSessionRequest struct {
	Title string `json:"title"`
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice"`
	Emotion string `json:"emotion"`
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.SessionCount(r.Context())
	if err != nil {
		s.logger.WithError(err).Warn("Health check could not reach the store")
		RespondWithJSON(talker.HealthStatus{Status: "degraded", Store: s.store.Name()}, http.StatusServiceUnavailable, w)
		return
	}
	RespondWithJSON(talker.HealthStatus{Status: "ok", Store: s.store.Name(), Sessions: n}, http.StatusOK, w)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.respondWithErr(err, w)
			return
		}
	}
	session, err := s.newSession(r.Context(), req.SessionID, req.Title, req.Language)
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	RespondWithJSON(session, http.StatusCreated, w)
}

func (s *Server) newSession(ctx context.Context, id, title, language string) (talker.ChatSession, error) {
	if id == "" {
		id = xid.New().String()
	}
	if strings.TrimSpace(title) == "" {
		title = "New Chat"
	}
	now := s.clock.Now().UTC()
	session := talker.ChatSession{
		ID:        id,
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
		Language:  language,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return talker.ChatSession{}, err
	}
	s.logger.WithField("session_id", id).Info("Session created")
	return session, nil
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	sessions, total, err := s.store.ListSessions(r.Context(), offset, limit)
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	if sessions == nil {
		sessions = []talker.ChatSession{}
	}
	RespondWithJSON(talker.SessionList{Sessions: sessions, Total: total}, http.StatusOK, w)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	RespondWithJSON(session, http.StatusOK, w)
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithErr(err, w)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		RespondWithError("title cannot be empty", http.StatusBadRequest, w)
		return
	}
	if err := s.store.UpdateSessionTitle(r.Context(), mux.Vars(r)["id"], title); err != nil {
		s.respondWithErr(err, w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.store.DeleteSession(r.Context(), id); err != nil {
		s.respondWithErr(err, w)
		return
	}
	s.logger.WithField("session_id", id).Info("Session deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	msgs, total, err := s.store.ListMessages(r.Context(), mux.Vars(r)["id"], offset, limit)
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	RespondWithJSON(talker.MessageList{Messages: msgs, Total: total}, http.StatusOK, w)
}

func (s *Server) saveConversation(w http.ResponseWriter, r *http.Request) {
	var c talker.Conversation
	if err := decodeJSON(w, r, &c); err != nil {
		s.respondWithErr(err, w)
		return
	}
	if c.SessionID == "" {
		RespondWithError("Invalid session_id", http.StatusBadRequest, w)
		return
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.clock.Now().UTC()
	}
	if err := s.store.SaveConversation(r.Context(), c); err != nil {
		if errors.Is(err, talker.ErrNotFound) {
			RespondWithError("Invalid session_id", http.StatusBadRequest, w)
			return
		}
		s.respondWithErr(err, w)
		return
	}
	RespondWithJSON(map[string]string{"message": "Conversation saved successfully", "id": c.ID}, http.StatusCreated, w)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations(r.Context())
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	RespondWithJSON(convs, http.StatusOK, w)
}

// chatMessage stores the user message, asks the responder for a reply and
// pushes typing and message events to the session's subscribers.
func (s *Server) chatMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req talker.CreateChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithErr(err, w)
		return
	}
	content := strings.TrimSpace(req.Message)
	if content == "" {
		RespondWithError("message cannot be empty", http.StatusBadRequest, w)
		return
	}

	session, err := s.sessionFor(ctx, req.SessionID, content)
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	history, _, err := s.store.ListMessages(ctx, session.ID, 0, 0)
	if err != nil {
		s.respondWithErr(err, w)
		return
	}

	user := talker.Message{
		ID:        uuid.NewString(),
		Type:      talker.UserMessage,
		Content:   content,
		Timestamp: s.clock.Now().UTC(),
		SessionID: session.ID,
	}
	if err := s.store.AppendMessage(ctx, user); err != nil {
		s.respondWithErr(err, w)
		return
	}

	s.push(ctx, session.ID, talker.EventTyping, talker.TypingIndicator{IsTyping: true, SessionID: session.ID})
	reply, err := s.llm.Respond(ctx, history, content)
	if err != nil {
		s.logger.LogError(err)
		s.push(ctx, session.ID, talker.EventTyping, talker.TypingIndicator{IsTyping: false, SessionID: session.ID})
		s.push(ctx, session.ID, talker.EventError, talker.ErrorPayload{Error: "assistant unavailable", Code: talker.ErrorCode(err)})
		RespondWithError("assistant unavailable", http.StatusBadGateway, w)
		return
	}

	ai := talker.Message{
		ID:        uuid.NewString(),
		Type:      talker.AIMessage,
		Content:   reply,
		Timestamp: s.clock.Now().UTC(),
		SessionID: session.ID,
	}
	if s.tts != nil {
		ai.AudioURL = "/api/messages/" + ai.ID + "/audio"
	}
	if err := s.store.AppendMessage(ctx, ai); err != nil {
		s.respondWithErr(err, w)
		return
	}
	conv := talker.Conversation{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Prompt:    content,
		Response:  reply,
		Language:  session.Language,
		CreatedAt: ai.Timestamp,
	}
	if err := s.store.SaveConversation(ctx, conv); err != nil {
		s.logger.WithError(err).Warn("Saving conversation failed")
	}

	s.push(ctx, session.ID, talker.EventTyping, talker.TypingIndicator{IsTyping: false, SessionID: session.ID})
	s.push(ctx, session.ID, talker.EventMessage, ai)

	RespondWithJSON(talker.ChatResponse{
		ID:        ai.ID,
		Message:   ai.Content,
		SessionID: session.ID,
		AudioURL:  ai.AudioURL,
		Timestamp: ai.Timestamp,
	}, http.StatusOK, w)
}

// sessionFor returns the named session, or a new one titled after the first
// message when id is empty.
func (s *Server) sessionFor(ctx context.Context, id, firstMessage string) (talker.ChatSession, error) {
	if id != "" {
		return s.store.GetSession(ctx, id)
	}
	title := []rune(firstMessage)
	if len(title) > titleLength {
		title = append(title[:titleLength], '…')
	}
	return s.newSession(ctx, "", string(title), "")
}

func (s *Server) push(ctx context.Context, sessionID, eventType string, payload interface{}) {
	if err := s.hub.Push(ctx, sessionID, eventType, payload); err != nil {
		s.logger.WithError(err).Debugf("Push of %s dropped", eventType)
	}
}

func (s *Server) messageAudio(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		RespondWithError("synthesis disabled", http.StatusServiceUnavailable, w)
		return
	}
	m, err := s.store.GetMessage(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	s.writeSpeech(w, r, m.Content, r.URL.Query().Get("voice"), m.Emotion)
}

func (s *Server) synthesize(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		RespondWithError("synthesis disabled", http.StatusServiceUnavailable, w)
		return
	}
	var req synthesizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondWithErr(err, w)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		RespondWithError("Text cannot be empty", http.StatusBadRequest, w)
		return
	}
	s.writeSpeech(w, r, req.Text, req.Voice, req.Emotion)
}

func (s *Server) writeSpeech(w http.ResponseWriter, r *http.Request, text, voice, emotion string) {
	audio, contentType, err := s.tts.Synthesize(r.Context(), text, voice, emotion)
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	if s.stt == nil {
		RespondWithError("transcription disabled", http.StatusServiceUnavailable, w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		RespondWithError("invalid upload: "+err.Error(), http.StatusBadRequest, w)
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		RespondWithError("missing audio file", http.StatusBadRequest, w)
		return
	}
	defer file.Close()
	audio, err := io.ReadAll(file)
	if err != nil {
		RespondWithError("failed to read upload", http.StatusBadRequest, w)
		return
	}

	text, err := s.stt.Transcribe(r.Context(), audio, header.Header.Get("Content-Type"), r.FormValue("language"))
	if err != nil {
		s.respondWithErr(err, w)
		return
	}
	RespondWithJSON(map[string]string{"text": text}, http.StatusOK, w)
}
