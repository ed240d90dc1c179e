package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/agent"
	"github.com/gosuda/agentchat/internal/agent/backends"
	"github.com/gosuda/agentchat/internal/api/ws"
	"github.com/gosuda/agentchat/internal/config"
	"github.com/gosuda/agentchat/internal/server"
	"github.com/gosuda/agentchat/internal/store"
	redisstore "github.com/gosuda/agentchat/internal/store/redis"
	"github.com/gosuda/agentchat/internal/tools"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Transcript store; connects on first use.
	transcripts := store.Open(cfg)
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("closing transcript store")
		}
	}()

	// Create agent registry and register runtimes.
	registry := agent.NewRegistry()
	registry.Register(config.RuntimeClaude, backends.NewClaudeBackend)
	registry.Register(config.RuntimeClaudeDocker, backends.NewClaudeDockerBackend)

	runtime, err := registry.Create(cfg.Agent.Runtime, agent.RuntimeOptions{
		CLIPath:      cfg.Agent.CLIPath,
		Model:        cfg.Agent.Model,
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxTurns:     cfg.Agent.MaxTurns,
		MaxBudgetUSD: cfg.Agent.MaxBudgetUSD,
		APIKey:       cfg.Agent.APIKey,
		MCPServers:   map[string]string{tools.ServerName: cfg.Agent.MCPURL},
		AllowedTools: tools.AllowedToolNames(),
		Docker: agent.DockerOptions{
			Host:     cfg.Docker.Host,
			Image:    cfg.Docker.Image,
			CPULimit: cfg.Docker.CPULimit,
			MemLimit: cfg.Docker.MemLimit,
		},
	})
	if err != nil {
		return err
	}
	if closer, ok := runtime.(io.Closer); ok {
		defer closer.Close()
	}

	orchOpts := []agent.Option{
		agent.WithMetrics(agent.MustNewMetrics(reg)),
		agent.WithTurnTimeout(cfg.Agent.TurnTimeout),
	}

	// Live session events are optional.
	var subscriber ws.Subscriber
	if cfg.Redis.Enabled() {
		pubsub, redisErr := redisstore.New(ctx, cfg.Redis)
		if redisErr != nil {
			return redisErr
		}
		defer pubsub.Close()

		subscriber = pubsub
		orchOpts = append(orchOpts, agent.WithPublisher(pubsub))
		log.Info().Str("addr", cfg.Redis.Addr).Msg("live session events enabled")
	}

	orchestrator := agent.NewOrchestrator(runtime, orchOpts...)

	// Create HTTP server with all routes wired.
	srv := server.New(ctx, cfg, server.Deps{
		Store:        transcripts,
		Orchestrator: orchestrator,
		Hub:          ws.NewHub(subscriber),
		MCP:          tools.Handler(tools.NewServer(version, tools.MustNewMetrics(reg))),
		Gatherer:     reg,
		Version:      version,
	})

	log.Info().
		Str("runtime", cfg.Agent.Runtime).
		Str("model", cfg.Agent.Model).
		Str("store", cfg.Store.Driver).
		Str("mcp_url", cfg.Agent.MCPURL).
		Msg("starting agentchat")

	// Start server in background goroutine.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// Block until shutdown signal or listener failure.
	select {
	case <-ctx.Done():
	case startErr := <-errCh:
		if startErr != nil {
			return startErr
		}
		return errors.New("server stopped unexpectedly")
	}
	log.Info().Msg("shutting down")

	// Turns still running after the grace period are cut off.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		return shutdownErr
	}

	log.Info().Msg("stopped")
	return nil
}
