// livedirector turns AI reply text into avatar expression and media
// commands: it scans inline directives, drives the expression and media
// state machines, and serves the admin/overlay API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/normanking/livedirector/internal/bridge"
	"github.com/normanking/livedirector/internal/config"
	"github.com/normanking/livedirector/internal/directive"
	"github.com/normanking/livedirector/internal/engine"
	"github.com/normanking/livedirector/internal/expression"
	"github.com/normanking/livedirector/internal/logging"
	"github.com/normanking/livedirector/internal/server"
	"github.com/normanking/livedirector/internal/vts"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "livedirector:", err)
		os.Exit(1)
	}
}

func run() error {
	loadEnv()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logs, err := logging.New(logging.Config{
		Dir:     cfg.Logging.Dir,
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logs.Close()
	logger := logs.Zerolog()

	vtsClient := vts.New(vts.Config{
		URL:        cfg.VTS.URL,
		PluginName: cfg.VTS.PluginName,
		PluginDev:  cfg.VTS.PluginDev,
		TokenFile:  cfg.VTS.TokenFile,
		Timeout:    cfg.VTS.Timeout,
	}, logger)

	connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := vtsClient.Connect(connectCtx); err != nil {
		// The engine keeps running without the avatar; commands fail per
		// delivery and the operator can restart VTube Studio underneath us.
		logger.Warn().Err(err).Str("url", cfg.VTS.URL).Msg("VTube Studio unavailable, expression delivery will fail until it returns")
	}
	cancel()
	defer vtsClient.Close()

	bridges := bridge.Config{
		TTSURL:   cfg.Bridges.TTSURL,
		MediaURL: cfg.Bridges.MediaURL,
		Timeout:  cfg.Bridges.Timeout,
	}
	ttsBridge := bridge.NewTTSBridge(bridges, logger)
	mediaBridge := bridge.NewMediaBridge(bridges, logger)

	eng := engine.New(engine.Options{
		Roles:         rolesFrom(cfg),
		Expression:    expressionFrom(cfg),
		BgmPlaylistID: cfg.Media.BgmPlaylistID,
	}, vtsClient, mediaBridge, ttsBridge, logger)
	eng.Start(context.Background())
	defer eng.Stop()

	config.Watch(func(next *config.Config) {
		logger.Info().Msg("configuration changed, applying new roles")
		eng.ApplyUpdate(engine.Update{
			Roles:      rolesFrom(next),
			Expression: expressionFrom(next),
		})
	})

	srv := server.New(cfg.Server.Addr, eng, logs, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func rolesFrom(cfg *config.Config) directive.Roles {
	return directive.Roles{
		ToggleSpecial: cfg.Expressions.ToggleSpecialSet(),
	}
}

func expressionFrom(cfg *config.Config) expression.Config {
	return expression.Config{
		Timed:           cfg.Expressions.Timed,
		Ignored:         cfg.Expressions.IgnoredSet(),
		IdleAction:      cfg.Idle.IdleAction,
		InterruptAction: cfg.Idle.InterruptAction,
		IdleDelay:       cfg.Idle.Delay,
	}
}

// loadEnv pulls API keys and overrides from ~/.livedirector/.env and a
// local .env when present.
func loadEnv() {
	paths := []string{".env"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".livedirector", ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}
