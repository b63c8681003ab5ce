// Package httpapi exposes the REST surface of the daemon: conversation
// reads, chat creation, outbound sends, media upload/serving and the
// websocket endpoint.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"wabridge/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string
	// MediaDir is served read-only under /media/.
	MediaDir string
}

// Server is the daemon's HTTP front.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// New assembles the router. wsHandler serves GET /ws; pass nil to disable the
// websocket endpoint (tests).
func New(opts Options, st *store.Store, sender Dispatcher, media MediaSaver, wsHandler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &handlers{
		store:    st,
		sender:   sender,
		media:    media,
		validate: validator.New(),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/chats", h.handleChats)
	r.Post("/chat", h.handleCreateChat)
	r.Post("/send-message", h.handleSendMessage)
	r.Post("/upload-media", h.handleUploadMedia)

	if opts.MediaDir != "" {
		fs := http.StripPrefix("/media/", http.FileServer(http.Dir(opts.MediaDir)))
		r.Get("/media/*", fs.ServeHTTP)
	}
	if wsHandler != nil {
		r.Get("/ws", wsHandler.ServeHTTP)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown. Blocks; run it on its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
