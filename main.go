package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anuragrao04/qr-attendance-core/auth"
	"github.com/anuragrao04/qr-attendance-core/broadcast"
	"github.com/anuragrao04/qr-attendance-core/config"
	"github.com/anuragrao04/qr-attendance-core/database"
	"github.com/anuragrao04/qr-attendance-core/handlers"
	"github.com/anuragrao04/qr-attendance-core/scan"
	"github.com/anuragrao04/qr-attendance-core/sessions"
	"github.com/anuragrao04/qr-attendance-core/tokens"
	"github.com/anuragrao04/qr-attendance-core/verification"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, addr, logLevel string
	flagSet := pflag.NewFlagSet("qr-attendance", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "attendance.yaml", "path to the YAML config file")
	flagSet.StringVar(&addr, "addr", "", "listen address, overrides the config file")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTPAddr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabasePath)
	if err != nil {
		return err
	}
	var roster interface {
		scan.RosterChecker
		sessions.RosterSizer
	} = database.NewRoster(db)
	if cfg.RedisURL != "" {
		rdb, err := database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		roster = database.NewCachedRoster(roster, rdb, cfg.RosterCache)
		logger.Info("roster cache enabled", "redis", rdb.Options().Addr)
	}

	var hubOpts []broadcast.Option
	if len(cfg.KafkaBrokers) > 0 {
		sink, err := broadcast.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		sinkDone := make(chan struct{})
		go func() {
			defer close(sinkDone)
			if err := sink.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("kafka sink stopped", "error", err)
			}
		}()
		defer func() {
			stop()
			<-sinkDone
		}()
		hubOpts = append(hubOpts, broadcast.WithSink(sink))
		logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic)
	}
	hub := broadcast.NewHub(hubOpts...)

	signer, err := newSigner(cfg.SigningSecret)
	if err != nil {
		return err
	}

	manager := sessions.NewManager(roster, hub, sessions.Options{
		Retention:     cfg.SessionRetention,
		RosterTimeout: cfg.RosterTimeout,
	})
	issuer := tokens.NewIssuer(manager, signer, hub, tokens.Options{
		TTL:               cfg.TokenTTL,
		AutoRotate:        cfg.AutoRotate,
		CountdownInterval: cfg.CountdownInterval,
	})
	gate := verification.NewGate(manager, hub, nil)
	manager.OnClose(issuer.Retire)
	manager.OnEvict(issuer.Forget)
	manager.OnEvict(gate.Drop)
	manager.OnEvict(hub.Drop)

	validator := scan.NewValidator(issuer, manager, roster, gate, scan.Options{
		RequireSecondaryFactor: cfg.RequireSecondaryFactor,
		FaceTTL:                cfg.FaceTTL,
		RosterTimeout:          cfg.RosterTimeout,
	})

	webAuthn, err := auth.NewService(auth.Config{
		RPID:          cfg.WebAuthnRPID,
		RPDisplayName: cfg.WebAuthnRPDisplayName,
		RPOrigins:     cfg.WebAuthnRPOrigins,
	}, database.NewUsers(db), gate)
	if err != nil {
		return fmt.Errorf("webauthn: %w", err)
	}

	if level > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.New(handlers.Deps{
		Sessions:       manager,
		Tokens:         issuer,
		Scanner:        validator,
		Verifier:       gate,
		Events:         hub,
		WebAuthn:       webAuthn,
		AllowedOrigins: cfg.AllowedOrigins,
		VerifierKey:    cfg.VerifierKey,
	}).Router()

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", cfg.HTTPAddr,
			"token_ttl", cfg.TokenTTL, "require_secondary_factor", cfg.RequireSecondaryFactor)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failure", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newSigner(secret string) (*tokens.Signer, error) {
	if secret == "" {
		slog.Warn("no signing secret configured, signed tokens will not survive a restart")
		return tokens.NewEphemeralSigner()
	}
	return tokens.NewSigner(secret)
}
