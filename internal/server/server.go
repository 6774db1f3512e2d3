package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/birdnest/apiserver/config"
	"github.com/birdnest/apiserver/internal/auth"
	"github.com/birdnest/apiserver/internal/db"
	"github.com/birdnest/apiserver/internal/handlers"
	"github.com/birdnest/apiserver/internal/mq"
	"github.com/birdnest/apiserver/internal/oauth"
	"github.com/birdnest/apiserver/internal/password"
	"github.com/birdnest/apiserver/internal/services"
	"github.com/birdnest/apiserver/internal/storage"
	"github.com/birdnest/apiserver/internal/store"
	"github.com/birdnest/apiserver/internal/store/memstore"
	"github.com/birdnest/apiserver/internal/tokens"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

// Server wraps the HTTP server, router and background workers.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *slog.Logger
	sweeper    *services.RefreshTokenSweeper
	db         *sql.DB
	storage    *storage.Storage
	mq         *mq.MQ
}

// New wires every component named by cfg. Resources opened before a failure
// are released.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *Server, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{logger: logger}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	var (
		tx      services.Transactor
		stores  store.Manager
		pingers []handlers.Pinger
	)
	switch cfg.Store.Backend {
	case "memory":
		mem := memstore.New()
		tx, stores = mem, mem
		logger.Warn("using the in-memory store; data is lost on exit")
	default:
		s.db, err = db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		tx, stores = db.NewTransactor(s.db), store.NewPostgresManager()
		pingers = append(pingers, s.db)
	}

	hasher, err := password.New(cfg.Password)
	if err != nil {
		return nil, err
	}
	tokenService := tokens.New(cfg.Tokens)

	s.storage, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := s.storage.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", s.storage.Bucket(), err)
	}

	s.mq, err = mq.Open(ctx, cfg.MQ, logger)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}
	var notifier services.Notifier = services.NewLogNotifier(logger)
	if s.mq != nil {
		notifier = services.NewMQNotifier(s.mq, cfg.MQ.NotificationChannel, logger)
	}

	var identity services.IdentityProvider
	if cfg.OAuth.ClientID != "" {
		identity = oauth.NewGoogle(cfg.OAuth)
	}

	accounts := services.NewAccountService(services.AccountDeps{
		Tx:       tx,
		Stores:   stores,
		Tokens:   tokenService,
		Hasher:   hasher,
		Notifier: notifier,
		Identity: identity,
		Logger:   logger,
	})
	follows := services.NewFollowService(tx, stores)
	media := services.NewMediaService(tx, stores, s.storage, cfg.Storage.PublicBaseURL, logger)
	s.sweeper = services.NewRefreshTokenSweeper(tx, stores, cfg.Sweeper.Interval, logger)
	authz := auth.NewAuthorizer(tokenService, accounts, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		RequestLogger(logger),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz(logger, pingers...))
	router.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			handlers.UserRouter(r, handlers.NewUserHandler(accounts, follows, logger), authz)
		})
		r.Route("/media", func(r chi.Router) {
			handlers.MediaRouter(r, handlers.NewMediaHandler(media, logger), authz)
		})
	})
	s.router = router

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start serves HTTP and runs the refresh-token sweeper until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return s.sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown stops accepting requests, waits for in-flight ones and releases
// the database, storage and broker clients.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	if s.mq != nil {
		if err := s.mq.Close(); err != nil {
			s.logger.Warn("close mq", "error", err)
		}
		s.mq = nil
	}
	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.logger.Warn("close storage", "error", err)
		}
		s.storage = nil
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("close database", "error", err)
		}
		s.db = nil
	}
}
