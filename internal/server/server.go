package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sampleapp/apiserver/config"
	"github.com/sampleapp/apiserver/internal/db"
	"github.com/sampleapp/apiserver/internal/handlers"
	"github.com/sampleapp/apiserver/internal/mailer"
	"github.com/sampleapp/apiserver/internal/mq"
	"github.com/sampleapp/apiserver/internal/services"
	"github.com/sampleapp/apiserver/internal/session"
	"github.com/sampleapp/apiserver/internal/storage"
	"github.com/sampleapp/apiserver/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const loginPath = "/login"

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	logger     *zap.Logger
	closers    []io.Closer
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{db: dbConn, logger: logger}

	var queue mailer.Publisher
	if cfg.Mail.Backend == "queue" {
		broker, err := mq.Open(ctx, cfg.Queue)
		if err != nil {
			s.close()
			return nil, err
		}
		s.closers = append(s.closers, broker)
		queue = broker
	}
	mail, err := mailer.New(cfg.Mail, queue, logger)
	if err != nil {
		s.close()
		return nil, err
	}

	var archive services.Archiver
	objects, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if objects != nil {
		archive = objects
	}

	var revoker session.Revoker = session.NewMemoryRevoker()
	if cfg.Redis.URL != "" {
		redisRevoker, err := session.NewRedisRevoker(ctx, cfg.Redis.URL)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		s.closers = append(s.closers, redisRevoker)
		revoker = redisRevoker
	} else {
		logger.Warn("REDIS_URL not set, session revocation is kept in memory")
	}

	sessions := session.NewManager(session.Options{
		Secret:       []byte(cfg.Auth.SecretKey),
		TTL:          cfg.Auth.SessionTTL,
		RememberTTL:  cfg.Auth.RememberTTL,
		CookieName:   cfg.Auth.CookieName,
		CookieSecure: cfg.Auth.CookieSecure,
		Revoker:      revoker,
	})

	userRepo := store.NewUserRepository(dbConn)
	roleRepo := store.NewRoleRepository(dbConn)
	hasher := services.BcryptHasher{Cost: bcrypt.DefaultCost}

	userService := services.NewUserService(userRepo, roleRepo, hasher)
	resetService := services.NewPasswordResetService(userRepo, mail, hasher, services.ResetConfig{
		Secret:   []byte(cfg.Auth.SecretKey),
		Cooldown: cfg.Auth.ForgotPasswordCooldown,
		Validity: cfg.Auth.ResetPasswordLinkValid,
		BaseURL:  cfg.BaseURL,
	}, logger)
	adminService := services.NewAdminService(userRepo, roleRepo, archive, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		requestLogger(logger),
		middleware.Timeout(60*time.Second),
		handlers.LoadPrincipal(sessions, userService, logger),
	)
	router.Get("/healthz", handlers.Healthz(dbConn))
	handlers.AuthRouter(router, userService, sessions, logger)
	handlers.PasswordRouter(router, resetService, logger)
	router.Route(cfg.AdminPrefix, func(r chi.Router) {
		handlers.AdminRouter(r, adminService, sessions, loginPath, logger)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	logger.Info("server configured",
		zap.Int("port", port),
		zap.String("admin_prefix", cfg.AdminPrefix),
		zap.String("mail_backend", cfg.Mail.Backend),
		zap.Bool("archive_exports", archive != nil),
	)
	return s, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database and the
// other connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn("close failed", zap.Error(err))
		}
	}
	s.closers = nil
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			if strings.HasPrefix(r.URL.Path, "/healthz") {
				return
			}
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
