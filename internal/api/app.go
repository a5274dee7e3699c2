package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-watchparty/internal/config"
	"github.com/npezzotti/go-watchparty/internal/database"
	"github.com/npezzotti/go-watchparty/internal/server"
	"github.com/npezzotti/go-watchparty/internal/stats"
	"github.com/rs/zerolog"
)

type WatchPartyApp struct {
	log            zerolog.Logger
	db             database.WatchPartyRepository
	srv            *http.Server
	coord          *server.Coordinator
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
	frontendURL    string
}

func NewWatchPartyApp(mux *http.ServeMux, logger zerolog.Logger, coord *server.Coordinator, db database.WatchPartyRepository, su stats.StatsProvider, cfg *config.Config) *WatchPartyApp {
	s := &WatchPartyApp{
		log:            logger.With().Str("module", "api").Logger(),
		db:             db,
		coord:          coord,
		stats:          su,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		frontendURL:    cfg.FrontendURL,
	}

	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms/{roomCode}", s.authMiddleware(s.getRoom))
	mux.Handle("POST /api/rooms/{roomCode}/join", s.authMiddleware(s.joinRoom))
	mux.Handle("GET /api/rooms/{roomCode}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = handlers.CustomLoggingHandler(io.Discard, h, s.logRequest)
	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *WatchPartyApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *WatchPartyApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
