// Command server runs the orchestration host: it discovers the
// configured specialist agents, wires the model client and resilience
// policies, and serves the public HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jaberry835/agentmesh/a2a"
	"github.com/jaberry835/agentmesh/ai"
	"github.com/jaberry835/agentmesh/core"
	"github.com/jaberry835/agentmesh/orchestration"
	"github.com/jaberry835/agentmesh/resilience"
	"github.com/jaberry835/agentmesh/telemetry"
	"github.com/jaberry835/agentmesh/tokens"
	"github.com/jaberry835/agentmesh/ui"
)

// rediscoverInterval paces the background registry refresh. Agents that
// come up after boot are picked up on the next sweep.
const rediscoverInterval = 5 * time.Minute

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	config := core.DefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.LoadFromFile(path); err != nil {
			return err
		}
	}
	config.LoadFromEnv()
	if err := config.Validate(); err != nil {
		return err
	}

	logger := core.NewProductionLogger(config.Name, core.ParseLogLevel(config.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracer core.Telemetry
	var breakerMetrics resilience.MetricsCollector
	if config.Telemetry.Enabled {
		provider, err := telemetry.NewProvider(ctx, telemetry.Config{
			ServiceName: config.Telemetry.ServiceName,
			Endpoint:    config.Telemetry.Endpoint,
		})
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", map[string]interface{}{
					"operation": "shutdown",
					"error":     err.Error(),
				})
			}
		}()
		if metrics, err := telemetry.NewBreakerMetrics(provider.Meter()); err == nil {
			breakerMetrics = metrics
		}
		tracer = provider
	}

	aiClient, err := ai.NewClient(&ai.Config{
		Endpoint:    config.Model.Endpoint,
		APIKey:      config.Model.APIKey,
		Deployment:  config.Model.Deployment,
		APIVersion:  config.Model.APIVersion,
		Temperature: config.Model.Temperature,
		MaxTokens:   config.Model.MaxTokens,
		Timeout:     config.Model.Timeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("model client: %w", err)
	}

	monitor := tokens.NewMonitor()

	rate := &resilience.RateTrackerConfig{
		MaxConcurrent:      config.RateLimit.MaxConcurrent,
		RequestsPerMinute:  config.RateLimit.RequestsPerMinute,
		TokensPerMinute:    config.RateLimit.TokensPerMinute,
		MinRequestInterval: config.RateLimit.MinRequestInterval,
		Logger:             logger,
	}
	retry := &resilience.RetryConfig{
		MaxRetries:     config.Retry.MaxRetries,
		InitialBackoff: config.Retry.InitialBackoff,
		MaxBackoff:     config.Retry.MaxBackoff,
		Multiplier:     config.Retry.Multiplier,
	}
	breaker := func(name string) *resilience.CircuitBreakerConfig {
		return &resilience.CircuitBreakerConfig{
			Name:             name,
			FailureThreshold: config.Breaker.FailureThreshold,
			SuccessThreshold: config.Breaker.SuccessThreshold,
			RecoveryTimeout:  config.Breaker.RecoveryTimeout,
			Logger:           logger,
			Metrics:          breakerMetrics,
		}
	}

	modelExec, err := resilience.NewExecutor(&resilience.ExecutorConfig{
		Name:    "model",
		Rate:    rate,
		Retry:   retry,
		Breaker: breaker("model"),
		Logger:  logger,
		Metrics: breakerMetrics,
		Usage:   monitor,
	})
	if err != nil {
		return fmt.Errorf("model executor: %w", err)
	}

	agentGroup := resilience.NewGroup(resilience.ExecutorConfig{
		Name:    "agents",
		Rate:    rate,
		Retry:   retry,
		Breaker: breaker("agents"),
		Logger:  logger,
		Metrics: breakerMetrics,
		Usage:   monitor,
	})
	if !config.Breaker.PerAgent {
		agentGroup.ShareBreaker()
	}

	registry := orchestration.NewRegistry(logger)
	discoverer := a2a.NewDiscoverer(&a2a.DiscovererConfig{
		Timeout: config.Agents.DiscoveryTimeout,
		Logger:  logger,
	})
	registry.Rebuild(discoverer.Discover(ctx, config.Agents.BaseURLs))
	if registry.Len() == 0 {
		logger.Warn("No specialist agents discovered; serving direct answers only", map[string]interface{}{
			"operation": "startup",
			"base_urls": len(config.Agents.BaseURLs),
		})
	}
	go rediscoverLoop(ctx, discoverer, registry, config.Agents.BaseURLs, logger)

	clients := a2a.NewClientCache(&a2a.ClientConfig{
		CallTimeout:   config.Agents.CallTimeout,
		StreamTimeout: config.Agents.StreamTimeout,
		Logger:        logger,
	})

	hub := ui.NewActivityHub(logger)
	model := orchestration.NewModelCaller(aiClient, modelExec, logger)
	model.SetContextBudget(config.Tokens.MaxContextTokens, monitor)
	caller := orchestration.NewResilientAgentCaller(registry, clients, agentGroup, logger)
	caller.SetTaskCeiling(config.Tokens.PerAgentCeiling, monitor)
	researcher := orchestration.NewResearcher(model, caller, registry, hub,
		&orchestration.ResearcherConfig{MaxRounds: config.Research.MaxRounds})
	researcher.SetTerminator(orchestration.NewTerminator(model,
		&orchestration.TerminatorConfig{MaxIterations: config.Research.MaxIterations}))
	synthesizer := orchestration.NewSynthesizer(model, logger)
	host := orchestration.NewHost(registry, model, caller, researcher, synthesizer, hub, logger)
	host.SetTelemetry(tracer)

	var sessions ui.SessionStore
	if config.Redis.URL != "" {
		store, err := ui.NewRedisSessionStore(config.Redis.URL, logger)
		if err != nil {
			return fmt.Errorf("redis sessions: %w", err)
		}
		defer func() { _ = store.Close() }()
		sessions = store
	}

	api := ui.NewServer(ui.ServerConfig{
		Host:          host,
		Hub:           hub,
		Sessions:      sessions,
		Monitor:       monitor,
		BreakerStates: breakerStates(modelExec, agentGroup),
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      api.Handler(),
		ReadTimeout:  config.HTTP.ReadTimeout,
		WriteTimeout: config.HTTP.WriteTimeout,
		IdleTimeout:  config.HTTP.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", map[string]interface{}{
			"operation": "startup",
			"version":   core.Version,
			"port":      config.Port,
			"agents":    registry.Len(),
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down", map[string]interface{}{"operation": "shutdown"})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.HTTP.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// rediscoverLoop refreshes the registry so agents deployed after boot
// become routable without a restart.
func rediscoverLoop(ctx context.Context, discoverer *a2a.Discoverer, registry *orchestration.Registry, baseURLs []string, logger core.Logger) {
	if len(baseURLs) == 0 {
		return
	}
	ticker := time.NewTicker(rediscoverInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cards := discoverer.Discover(ctx, baseURLs)
			if len(cards) == 0 {
				// A transient outage must not wipe a working registry.
				continue
			}
			registry.Rebuild(cards)
			logger.Debug("Registry refreshed", map[string]interface{}{
				"operation": "discovery",
				"agents":    len(cards),
			})
		}
	}
}

// breakerStates merges the model breaker with the per-agent group for
// the /status endpoint.
func breakerStates(modelExec *resilience.Executor, group *resilience.Group) func() map[string]string {
	return func() map[string]string {
		states := group.States()
		states["model"] = modelExec.BreakerState()
		return states
	}
}
