package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/rojolang/talker-go/pkg/talker"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func RespondWithJSON(m interface{}, statusCode int, w http.ResponseWriter) {
	payload, _ := json.Marshal(m)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(payload)
}

func RespondWithError(reason string, statusCode int, w http.ResponseWriter) {
	RespondWithJSON(map[string]interface{}{
		"ok":     false,
		"reason": reason,
	}, statusCode, w)
}

// respondWithErr maps a store or speech error onto a status code.
func (s *Server) respondWithErr(err error, w http.ResponseWriter) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, talker.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, talker.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, talker.ErrTranscription), errors.Is(err, talker.ErrSynthesis):
		status = http.StatusBadGateway
	case talker.IsErrorCode(err, talker.ErrCodeConfigInvalid), talker.IsErrorCode(err, talker.ErrCodeJSONParse):
		status = http.StatusBadRequest
	}
	if status >= 500 {
		s.logger.LogError(err)
	}
	reason := err.Error()
	var te *talker.TalkerError
	if errors.As(err, &te) {
		reason = te.Message
	}
	RespondWithError(reason, status, w)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return talker.WrapErrorf(err, talker.ErrCodeJSONParse, "invalid request body")
	}
	return nil
}

// pageParams turns ?page&limit (1 based) into an offset and limit.
func pageParams(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return (page - 1) * limit, limit
}

// NewRouter makes the REST and WebSocket routes of s, wrapped in CORS.
func NewRouter(s *Server) http.Handler {
	r := mux.NewRouter().StrictSlash(true)
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.getHealth).Methods("GET")

	api.HandleFunc("/sessions", s.createSession).Methods("POST")
	api.HandleFunc("/sessions", s.listSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.getSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.updateSession).Methods("PATCH", "PUT")
	api.HandleFunc("/sessions/{id}", s.deleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/messages", s.listMessages).Methods("GET")

	api.HandleFunc("/conversations", s.saveConversation).Methods("POST")
	api.HandleFunc("/conversations", s.listConversations).Methods("GET")

	api.HandleFunc("/chat/message", s.chatMessage).Methods("POST")
	api.HandleFunc("/messages/{id}/audio", s.messageAudio).Methods("GET")

	api.HandleFunc("/voice/transcribe", s.transcribe).Methods("POST")
	api.HandleFunc("/voice/synthesize", s.synthesize).Methods("POST")

	api.HandleFunc("/ws/token", s.issueToken).Methods("POST")
	r.HandleFunc("/ws", s.serveWS)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		RespondWithError("not found", http.StatusNotFound, w)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Client-Version"},
	})
	return s.logRequests(c.Handler(r))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			next.ServeHTTP(w, r)
			return
		}
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": s.clock.Since(start).Milliseconds(),
			"client":      r.Header.Get("X-Client-Version"),
		}).Debug("HTTP request")
	})
}
