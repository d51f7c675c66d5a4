package server

import (
	"AssistantRelay/internal/ai"
	"AssistantRelay/internal/config"
	"AssistantRelay/internal/service/relay"
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type TurnHandler interface {
	Handle(ctx context.Context, t relay.Turn) (relay.Response, error)
	GenerateImage(ctx context.Context, req relay.ImageRequest) (string, error)
}

type FileFetcher interface {
	FileContent(ctx context.Context, fileID string) ([]byte, string, error)
}

type Completer interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (*openai.ChatCompletion, error)
}

// Deps сервисы, которые обслуживает HTTP-граница.
type Deps struct {
	Relay TurnHandler
	Files FileFetcher
	Chat  Completer
}

// Server HTTP/WebSocket граница реле.
type Server struct {
	cfg     config.ServerConfig
	creds   config.OpenAIConfig
	deps    Deps
	limiter *rateLimiter
	srv     *http.Server
	logger  *zap.SugaredLogger
	running atomic.Bool

	mu sync.Mutex
	ln net.Listener
}

func New(cfg config.ServerConfig, creds config.OpenAIConfig, deps Deps, logger *zap.SugaredLogger) *Server {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8888"
	}
	if cfg.AllowedOrigin == "" {
		cfg.AllowedOrigin = "*"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 25 << 20
	}
	s := &Server{
		cfg:     cfg,
		creds:   creds,
		deps:    deps,
		limiter: newRateLimiter(cfg.RatePerMinute),
		logger:  logger,
	}
	s.srv = &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Реплика может ждать Run до 30 проверок плюс генерацию картинки
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler возвращает маршруты реле со всеми middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/assistant", s.route(http.MethodPost, s.handleAssistant))
	mux.Handle("/api/generate-image", s.route(http.MethodPost, s.handleGenerateImage))
	mux.Handle("/api/image", s.route(http.MethodGet, s.handleImage))
	mux.Handle("/api/chat", s.route(http.MethodPost, s.handleChat))
	mux.Handle("/api/ws", s.route(http.MethodGet, s.handleWS))
	return s.withRequestID(mux)
}

// Start открывает слушатель и обслуживает запросы в отдельной горутине.
// При отмене контекста сервер останавливается.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	go func() {
		s.logger.Infow("Relay listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("Relay stopped with error", "error", err)
		} else {
			s.logger.Infow("Relay stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("relay shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

// Run запускает сервер и чистку лимитера и блокируется до отмены контекста.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.limiter.run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.Stop(context.WithoutCancel(ctx))
	})
	return g.Wait()
}

// Addr возвращает фактический адрес слушателя (после Start) или адрес из конфигурации.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.BindAddr
}
