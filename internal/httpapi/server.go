package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"mailping/internal/domain"
	"mailping/internal/messaging"
	"mailping/pkg/logx"
)

// Config controls the JSON API listener.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// API is what the HTTP layer needs from the message lifecycle controller.
// messaging.Service satisfies it; tests substitute a stub.
type API interface {
	CreateMessage(ctx context.Context, senderID, recipientID, body string) (*messaging.CreateResult, error)
	MarkRead(ctx context.Context, messageID string) (*messaging.MarkReadResult, error)
	ListMessages(ctx context.Context) ([]domain.Message, error)
	CreateUser(ctx context.Context, u *domain.User) error
	SetNotificationDelay(ctx context.Context, userID string, minutes int) error
}

type Server struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	api API

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, api API, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &Server{cfg: cfg, log: log, api: api}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.ln = ln
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server stopped", logx.Err(err))
		}
	}()

	s.log.Info("http api listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		_ = srv.Close()
	}
	s.log.Info("http api stopped")
}

// Addr returns the bound listen address (useful when Addr was ":0").
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /messages", s.handleCreateMessage)
	mux.HandleFunc("GET /messages", s.handleListMessages)
	mux.HandleFunc("POST /messages/{id}/read", s.handleMarkRead)
	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("PATCH /users/{id}/delay", s.handleSetDelay)
	return mux
}
