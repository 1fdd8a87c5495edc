package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tlsdns/tlsdnsd/internal/dns/common/log"
	"github.com/tlsdns/tlsdnsd/internal/dns/config"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/certs"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/upstream"
	"github.com/tlsdns/tlsdnsd/internal/dns/gateways/wire"
	"github.com/tlsdns/tlsdnsd/internal/dns/repos/blocklist"
	"github.com/tlsdns/tlsdnsd/internal/dns/repos/dnscache"
	"github.com/tlsdns/tlsdnsd/internal/dns/services/resolver"
	"github.com/tlsdns/tlsdnsd/internal/dns/services/supervisor"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "tlsdnsd"

	// Default timeouts
	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the encrypted-DNS front end
type Application struct {
	config     *config.AppConfig
	supervisor *supervisor.Supervisor
}

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Configure global logging
	err = log.Configure(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging configuration error: %v\n", err)
		os.Exit(1)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.LogLevel,
		"doh":       cfg.DoH.Enabled,
		"doh_port":  cfg.DoH.Port,
		"dot":       cfg.DoT.Enabled,
		"dot_port":  cfg.DoT.Port,
		"resolver":  cfg.Resolver,
	}, "Starting tlsdnsd")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Fatal(map[string]any{"error": err}, "Failed to build application")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
		cancel()
	}()

	// Start the listeners
	if err := app.Run(ctx); err != nil {
		log.Fatal(map[string]any{"error": err}, "Server failed")
	}

	log.Info(nil, "tlsdnsd stopped gracefully")
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	// Create DNS wire codec
	codec := wire.NewMessageCodec(logger)

	// Build the resolution back end
	backend, err := buildBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolution back end: %w", err)
	}

	// Build the answer cache
	var cache resolver.Cache
	if cfg.DisableCache {
		log.Info(map[string]any{"disabled": true}, "DNS response caching disabled")
	} else {
		cache, err = dnscache.New(int(cfg.CacheSize))
		if err != nil {
			return nil, fmt.Errorf("failed to create answer cache: %w", err)
		}
		log.Info(map[string]any{
			"type": "LRU",
			"size": cfg.CacheSize,
		}, "DNS response cache configured")
	}

	// Build the blocklist
	var blocked resolver.Blocklist = blocklist.Nop{}
	if cfg.BlocklistPath != "" {
		list, err := blocklist.LoadFile(cfg.BlocklistPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load blocklist: %w", err)
		}
		blocked = list
		log.Info(map[string]any{
			"path":    cfg.BlocklistPath,
			"entries": list.Len(),
		}, "Blocklist loaded")
	}

	// Build the resolution service
	resolverService := resolver.NewResolver(resolver.Options{
		Backend:   backend,
		Blocklist: blocked,
		Cache:     cache,
		Logger:    logger,
		Timeout:   time.Duration(cfg.ResolveTimeout) * time.Second,
	})

	// Build the supervisor owning both encrypted listeners
	svc := supervisor.New(supervisor.Options{
		Certs:   certs.NewFileProvider(logger),
		Codec:   codec,
		Handler: resolverService,
		Logger:  logger,
	})

	return &Application{
		config:     cfg,
		supervisor: svc,
	}, nil
}

// buildBackend creates the configured resolution back end.
func buildBackend(cfg *config.AppConfig, logger log.Logger) (resolver.Backend, error) {
	switch cfg.Resolver {
	case "forward":
		backend, err := upstream.NewForwarder(upstream.ForwarderOptions{
			Servers: cfg.Servers,
			Timeout: time.Duration(cfg.ResolveTimeout) * time.Second,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		log.Info(map[string]any{
			"servers": cfg.Servers,
		}, "Forwarding resolution back end configured")
		return backend, nil
	default:
		log.Info(nil, "System resolution back end configured")
		return upstream.NewSystemBackend(), nil
	}
}

// Run starts the listeners and blocks until context is cancelled
func (app *Application) Run(ctx context.Context) error {
	svcConfig := supervisor.Config{
		DoH: supervisor.ListenerConfig{
			Enabled:  app.config.DoH.Enabled,
			Port:     app.config.DoH.Port,
			CertFile: app.config.DoH.CertFile,
			KeyFile:  app.config.DoH.KeyFile,
		},
		DoT: supervisor.ListenerConfig{
			Enabled:  app.config.DoT.Enabled,
			Port:     app.config.DoT.Port,
			CertFile: app.config.DoT.CertFile,
			KeyFile:  app.config.DoT.KeyFile,
		},
	}

	if err := app.supervisor.Start(ctx, svcConfig); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "One or more listeners failed to start")
	}

	status := app.supervisor.Status()
	log.Info(map[string]any{
		"doh_running": status.DoH.Running,
		"doh_port":    status.DoH.Port,
		"dot_running": status.DoT.Running,
		"dot_port":    status.DoT.Port,
	}, "Listener status")

	if !status.DoH.Running && !status.DoT.Running {
		return fmt.Errorf("no listener could be started")
	}

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	// Stop listeners gracefully
	done := make(chan error, 1)
	go func() {
		done <- app.supervisor.Stop()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error during listener shutdown")
		}
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}
