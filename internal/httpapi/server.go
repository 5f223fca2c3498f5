// Package httpapi exposes the auth flows over HTTP and maps the typed
// error taxonomy onto status codes.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cobalthq/authcore/internal/auth"
)

// Pinger verifies a backing dependency is reachable. Both the Redis client
// and the pgx pool satisfy it through small adapters in cmd.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server hosts the auth HTTP API.
type Server struct {
	engine *gin.Engine
	orch   *auth.Orchestrator
	logger *zap.Logger
	deps   map[string]Pinger
}

// NewServer builds the gin router. deps are pinged by the health endpoint.
func NewServer(orch *auth.Orchestrator, logger *zap.Logger, deps map[string]Pinger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: gin.New(),
		orch:   orch,
		logger: logger,
		deps:   deps,
	}

	s.engine.Use(gin.Recovery())
	s.engine.GET("/health", s.health)

	v1 := s.engine.Group("/v1/auth")
	v1.POST("/login", s.login)
	v1.POST("/otp/send", s.sendOTP)
	v1.POST("/otp/verify", s.verifyOTP)
	v1.POST("/password", s.changePassword)
	v1.POST("/refresh", s.refresh)

	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps))
	for name, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

func clientMeta(c *gin.Context) auth.Client {
	return auth.Client{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// writeError translates the auth error taxonomy to HTTP statuses:
// invalid credentials, disabled, and locked accounts map to 401 (locked
// adds Retry-After), validation failures to 400, rate limits to 429 with
// Retry-After, and backend outages to 503.
func (s *Server) writeError(c *gin.Context, err error) {
	var rateLimited *auth.RateLimitedError
	var locked *auth.LockedError

	switch {
	case errors.As(err, &rateLimited):
		setRetryAfter(c, rateLimited.RetryAfter)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
	case errors.As(err, &locked):
		setRetryAfter(c, locked.RetryAfter)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "account temporarily locked"})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrAccountDisabled):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, auth.ErrInvalidOTP), errors.Is(err, auth.ErrOTPExpired),
		errors.Is(err, auth.ErrInvalidResetToken), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrPasswordPolicy):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrBackendUnavailable):
		s.logger.Error("auth backend unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		s.logger.Error("unhandled auth error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func setRetryAfter(c *gin.Context, d time.Duration) {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.FormatInt(seconds, 10))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
