// Package server is the talker backend: session and conversation CRUD over a
// pluggable store, chat relay to an LLM responder, transcription and
// synthesis endpoints and a WebSocket push channel.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rojolang/talker-go/pkg/speech"
	"github.com/rojolang/talker-go/pkg/store"
	"github.com/rojolang/talker-go/pkg/talker"
)

const shutdownTimeout = 10 * time.Second

// Options carries the collaborators of a Server. Store and Responder are
// required; a nil Transcriber or Synthesizer disables the matching routes.
type Options struct {
	Store       store.Store
	Transcriber talker.Transcriber
	Synthesizer talker.Synthesizer
	Responder   speech.Responder
	Clock       clockwork.Clock
	Logger      *talker.Logger
}

type Server struct {
	cfg    *Config
	store  store.Store
	stt    talker.Transcriber
	tts    talker.Synthesizer
	llm    speech.Responder
	hub    *Hub
	tokens *TokenIssuer
	clock  clockwork.Clock
	logger *talker.Logger
}

func New(cfg *Config, opts Options) (*Server, error) {
	if cfg == nil {
		return nil, talker.NewConfigError("server config is nil")
	}
	if opts.Store == nil || opts.Responder == nil {
		return nil, talker.NewConfigError("server needs a store and a responder")
	}
	logger := opts.Logger
	if logger == nil {
		logger = talker.GetGlobalLogger()
	}
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Server{
		cfg:    cfg,
		store:  opts.Store,
		stt:    opts.Transcriber,
		tts:    opts.Synthesizer,
		llm:    opts.Responder,
		clock:  clock,
		logger: logger.WithComponent("Server"),
	}
	s.hub = NewHub(logger)
	if cfg.JWTSecret != "" {
		s.tokens = NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	}
	return s, nil
}

// NewFromConfig wires the store and speech backends named by cfg.
func NewFromConfig(ctx context.Context, cfg *Config, logger *talker.Logger) (*Server, error) {
	if issues := cfg.Validate(); len(issues) > 0 {
		err := talker.NewConfigError("invalid server configuration")
		for i, issue := range issues {
			err.AddDetail(fmt.Sprintf("issue_%d", i+1), issue)
		}
		return nil, err
	}
	st, err := store.New(ctx, cfg.StoreBackend, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}

	var llm speech.Responder = speech.EchoResponder{}
	if cfg.LLMBackend == "ollama" {
		o := speech.NewOllamaResponder(cfg.OllamaHost, cfg.OllamaModel, logger)
		o.SystemPrompt = cfg.SystemPrompt
		llm = o
	}

	return New(cfg, Options{
		Store:       st,
		Transcriber: speech.NewWhisperTranscriber(cfg.WhisperCommand, cfg.WhisperModel, cfg.FFmpegCommand, logger),
		Synthesizer: speech.NewCommandSynthesizer(cfg.TTSCommand, logger),
		Responder:   llm,
		Logger:      logger,
	})
}

// Handler returns the routed HTTP handler. The hub must be running for pushes
// to be delivered; Run starts it.
func (s *Server) Handler() http.Handler {
	return NewRouter(s)
}

func (s *Server) Hub() *Hub { return s.hub }

// Run serves on cfg.Addr until ctx is cancelled, then shuts down gracefully
// and closes the store.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Listening on %s (store %s)", s.cfg.Addr, s.store.Name())
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		s.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	stopHub()
	if cerr := s.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
