package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	stdslog "log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/splitcache/config"
	hslog "github.com/unkn0wn-root/splitcache/hooks/slog"
	"github.com/unkn0wn-root/splitcache/internal/node"
	"github.com/unkn0wn-root/splitcache/log"
	zaplog "github.com/unkn0wn-root/splitcache/log/zap"
)

func main() {
	configPath := flag.String("config", "splitcache.yml", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("load config %s: %v", *configPath, err)
	}
	zl, err := newZap(cfg.Log)
	if err != nil {
		stdlog.Fatalf("create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zaplog.Logger{L: zl.Named("splitcache")}); err != nil {
		zl.Fatal("node failed", zap.Error(err))
	}
}

func newZap(c config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(cfg *config.Config, l log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := hslog.New(stdslog.New(stdslog.NewJSONHandler(os.Stderr, nil)), hslog.Options{
		DeniedEvery:  100,
		SuspectEvery: 10,
	})
	n, err := node.New(ctx, cfg, node.Options{Logger: l, Hooks: events})
	if err != nil {
		return fmt.Errorf("build node: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Node.Listen,
		Handler:           n.Handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		l.Info("listening", log.Fields{"addr": cfg.Node.Listen, "node": cfg.Node.ID})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	n.Start(ctx)

	select {
	case <-ctx.Done():
	case err = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	l.Info("shutting down", log.Fields{"node": cfg.Node.ID})
	return errors.Join(err, srv.Shutdown(shutdownCtx), n.Close(shutdownCtx))
}
