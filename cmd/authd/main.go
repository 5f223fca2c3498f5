// Command authd runs the authentication and account-security service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cobalthq/authcore/internal/audit"
	"github.com/cobalthq/authcore/internal/auth"
	"github.com/cobalthq/authcore/internal/config"
	"github.com/cobalthq/authcore/internal/credential"
	"github.com/cobalthq/authcore/internal/httpapi"
	"github.com/cobalthq/authcore/internal/kv"
	"github.com/cobalthq/authcore/internal/lockout"
	"github.com/cobalthq/authcore/internal/mailer"
	"github.com/cobalthq/authcore/internal/otp"
	"github.com/cobalthq/authcore/internal/password"
	"github.com/cobalthq/authcore/internal/ratelimit"
	"github.com/cobalthq/authcore/internal/token"
	"github.com/cobalthq/authcore/internal/verification"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "authd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := kv.Connect(kv.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	pool, err := credential.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	users := credential.NewPostgresStore(pool)

	var sender mailer.Sender = mailer.NewSMTPSender(
		cfg.SMTP.Host,
		cfg.SMTP.Port,
		cfg.SMTP.Username,
		cfg.SMTP.Password,
		cfg.SMTP.From,
	)
	mailQueue := mailer.NewQueue(sender, 128, logger)
	defer mailQueue.Close()

	dispatcher := audit.NewDispatcher(audit.NewZapSink(logger), 256)
	defer dispatcher.Close()
	auditLog := audit.NewLog(dispatcher, logger)

	hasher, err := password.NewHasher(password.DefaultConfig())
	if err != nil {
		return err
	}

	tokens, err := token.NewService(token.Config{
		Secret:     []byte(cfg.JWT.Secret),
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	}, logger)
	if err != nil {
		return err
	}

	limiter := ratelimit.NewLimiter(rdb, map[string]ratelimit.Rule{
		auth.EndpointLogin:          {MaxAttempts: cfg.RateLimits.Login.MaxAttempts, Window: cfg.RateLimits.Login.Window},
		auth.EndpointOTPSend:        {MaxAttempts: cfg.RateLimits.OTPSend.MaxAttempts, Window: cfg.RateLimits.OTPSend.Window},
		auth.EndpointOTPVerify:      {MaxAttempts: cfg.RateLimits.OTPVerify.MaxAttempts, Window: cfg.RateLimits.OTPVerify.Window},
		auth.EndpointPasswordChange: {MaxAttempts: cfg.RateLimits.PasswordChange.MaxAttempts, Window: cfg.RateLimits.PasswordChange.Window},
	}, logger)

	orch := auth.NewOrchestrator(
		users,
		hasher,
		otp.NewManager(rdb, mailQueue, otp.Config{TTL: cfg.OTP.TTL, Digits: cfg.OTP.Digits}),
		verification.NewManager(rdb, cfg.Reset.TokenTTL),
		limiter,
		lockout.NewGuard(rdb),
		tokens,
		auditLog,
		auth.Config{
			LockoutThreshold: int64(cfg.Lockout.Threshold),
			LockoutDuration:  cfg.Lockout.Duration,
		},
		logger,
	)

	server := httpapi.NewServer(orch, logger, map[string]httpapi.Pinger{
		"redis":    pingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		"postgres": pingerFunc(pool.Ping),
	})

	logger.Info("starting auth service",
		zap.Int("port", cfg.Server.Port),
		zap.String("environment", cfg.Environment))

	return server.Run(ctx, cfg.Server.Port, cfg.Server.ShutdownTimeout)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	if cfg.Environment == "development" {
		dev := zap.NewDevelopmentConfig()
		dev.Level = zap.NewAtomicLevelAt(level)
		return dev.Build()
	}

	prod := zap.NewProductionConfig()
	prod.Level = zap.NewAtomicLevelAt(level)
	return prod.Build()
}
