package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PhysioFlow/internal/chatbot"
	"PhysioFlow/internal/config"
	"PhysioFlow/internal/store"
	"PhysioFlow/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	providerName := flag.String("provider", "", "Reply provider (synthetic|remote|groq|anthropic|ollama)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	remoteURL := flag.String("remote-url", "", "Endpoint for the remote provider")
	ollamaModel := flag.String("ollama-model", "", "Ollama model specification (format: model:version)")
	history := flag.Bool("history", false, "Send prior messages to the provider as context")
	noArchive := flag.Bool("no-archive", false, "Do not archive sessions to the database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *providerName != "" {
		cfg.Provider = *providerName
	}
	if *remoteURL != "" {
		cfg.Remote.Endpoint = *remoteURL
	}
	if *ollamaModel != "" {
		cfg.Ollama.Model = *ollamaModel
	}
	cfg.Debug = cfg.Debug || *debug
	cfg.SendHistory = cfg.SendHistory || *history
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, !*noArchive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, archive bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, "physioflow", cfg.Debug, false)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "physioflow")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	deps := chatbot.Deps{
		Logger: logger,
		Tracer: tracer,
		Meter:  meter,
		In:     os.Stdin,
		Out:    os.Stdout,
	}
	if archive {
		st, err := store.Open(cfg.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer st.Close()
		deps.Store = st
	}

	bot, err := chatbot.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	return bot.Run(ctx)
}
