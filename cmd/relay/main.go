package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"PhysioFlow/internal/cache"
	"PhysioFlow/internal/config"
	"PhysioFlow/internal/provider"
	"PhysioFlow/internal/relay"
	"PhysioFlow/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to a TOML config file")
	addr := flag.String("addr", "", "Listen address (default from config or PORT)")
	upstream := flag.String("upstream", "", "Provider the relay forwards prompts to")
	origins := flag.String("allow-origins", "", "Comma-separated CORS origins")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Relay.Addr = *addr
	}
	if *upstream != "" {
		cfg.Relay.Upstream = *upstream
	}
	if *origins != "" {
		cfg.Relay.AllowOrigins = strings.Split(*origins, ",")
	}
	cfg.Debug = cfg.Debug || *debug
	if cfg.Relay.Upstream == config.ProviderRemote {
		fmt.Fprintln(os.Stderr, "The relay cannot use the remote provider as its upstream")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, "relay", cfg.Debug, true)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, "relay")
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	deps := provider.Deps{Logger: logger, Tracer: tracer, Meter: meter}
	if cfg.CacheTTL.Duration > 0 {
		deps.Cache = cache.NewStore(cfg.CacheTTL.Duration)
	}
	up, err := provider.Build(cfg.Relay.Upstream, cfg, deps)
	if err != nil {
		return err
	}

	srv := relay.NewServer(up, relay.Options{
		AllowOrigins: cfg.Relay.AllowOrigins,
		Greeting:     cfg.Greeting,
		ReplyTimeout: cfg.ReplyTimeout.Duration,
		Logger:       logger,
	})
	return srv.Run(ctx, cfg.Relay.Addr)
}
