// Package bootstrap wires all dependencies and starts the application.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/llmgate/adapters/auth"
	"github.com/artpar/llmgate/adapters/clock"
	"github.com/artpar/llmgate/adapters/hasher"
	apihttp "github.com/artpar/llmgate/adapters/http"
	"github.com/artpar/llmgate/adapters/idgen"
	"github.com/artpar/llmgate/adapters/memory"
	"github.com/artpar/llmgate/adapters/metrics"
	"github.com/artpar/llmgate/adapters/openai"
	"github.com/artpar/llmgate/adapters/sqlite"
	"github.com/artpar/llmgate/app"
	"github.com/artpar/llmgate/config"
	"github.com/artpar/llmgate/ports"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config
	DB         *sqlite.DB
	HTTPServer *http.Server
	Metrics    *metrics.Collector
	Gate       *app.GateService

	// Adapters (for hot reload and cleanup)
	holder        *config.Holder
	admission     *memory.AdmissionController
	usageRecorder ports.UsageRecorder
	upstream      *openai.Client
	retention     *RetentionSweeper
}

// New creates and initializes the application from a loaded configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	logger.Info().Msg("initializing llmgate")

	a := &App{
		Logger: logger,
		Config: cfg,
	}

	if err := a.initDatabase(); err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		logger.Info().Msg("prometheus metrics enabled")
	}

	if err := a.initServices(); err != nil {
		return nil, fmt.Errorf("init services: %w", err)
	}

	if err := a.initHTTPServer(); err != nil {
		return nil, fmt.Errorf("init http server: %w", err)
	}

	return a, nil
}

// NewWithHotReload creates the application and watches its configuration
// file, applying the reloadable subset of changes without a restart.
func NewWithHotReload(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	a, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if err := a.initHotReload(path); err != nil {
		a.Logger.Warn().Err(err).Msg("config hot reload unavailable")
	}

	return a, nil
}

func (a *App) initDatabase() error {
	db, err := sqlite.Open(a.Config.Database.Path)
	if err != nil {
		return err
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.Logger.Info().Str("path", a.Config.Database.Path).Msg("database initialized")
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	loc, err := cfg.Limits.Location()
	if err != nil {
		return fmt.Errorf("limits.timezone: %w", err)
	}

	clk := clock.Real{}

	a.admission = memory.NewAdmissionController(memory.AdmissionConfig{
		Limits:        admissionLimits(cfg.Limits, loc),
		NumShards:     32,
		SweepInterval: time.Hour,
	}, clk)

	// Issued keys come from the database only when enabled; static keys
	// from the config file always work.
	var keyStore ports.KeyStore
	if cfg.Auth.KeysDB {
		keyStore = sqlite.NewKeyStore(a.DB)
	}
	resolver := auth.NewResolver(auth.Config{
		Static: staticKeys(cfg.Auth.Keys),
	}, keyStore, hasher.NewBcrypt(0), clk)
	a.Logger.Info().
		Int("static_keys", len(cfg.Auth.Keys)).
		Bool("keys_db", cfg.Auth.KeysDB).
		Msg("key resolver initialized")

	var prompts ports.PromptStore
	if cfg.Prompt.Name != "" {
		prompts = sqlite.NewPromptStore(a.DB, clk, cfg.Prompt.CacheTTL)
		a.Logger.Info().Str("prompt", cfg.Prompt.Name).Msg("system prompt enabled")
	}

	usageStore := sqlite.NewUsageStore(a.DB, loc)
	recorder := NewLocalUsageRecorder(usageStore, cfg.Usage.BatchSize, cfg.Usage.FlushInterval, a.Logger)
	a.usageRecorder = recorder

	a.upstream = openai.New(openai.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		Metrics:     a.Metrics,
	})

	a.Gate = app.NewGateService(app.GateDeps{
		Resolver:  resolver,
		Admission: a.admission,
		Prompts:   prompts,
		Upstream:  a.upstream,
		Store:     usageStore,
		Usage:     recorder,
		Clock:     clk,
		IDGen:     idgen.UUID{},
		Logger:    a.Logger,
	}, app.DynamicConfig{
		DefaultMaxTokens: cfg.Limits.MaxTokensPerRequest,
		PromptName:       cfg.Prompt.Name,
	})

	a.retention = NewRetentionSweeper(usageStore, clk, a.Logger, cfg.Usage.RetentionSchedule, cfg.Usage.RetentionDays)

	return nil
}

func (a *App) initHTTPServer() error {
	cfg := a.Config

	var gateHandler *apihttp.GateHandler
	if a.Metrics != nil {
		gateHandler = apihttp.NewGateHandlerWithMetrics(a.Gate, a.Logger, a.Metrics)
	} else {
		gateHandler = apihttp.NewGateHandler(a.Gate, a.Logger)
	}
	healthHandler := apihttp.NewHealthHandler(a.Gate)

	router := apihttp.NewRouterWithConfig(gateHandler, healthHandler, a.Logger, apihttp.RouterConfig{
		Metrics:       a.Metrics,
		EnableOpenAPI: cfg.OpenAPI.Enabled,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
	return nil
}

func (a *App) initHotReload(path string) error {
	holder, err := config.NewHolder(path, a.Logger)
	if err != nil {
		return err
	}

	holder.OnChange(a.applyConfig)
	if a.Metrics != nil {
		m := a.Metrics
		holder.OnReload(func(err error) {
			if err != nil {
				m.ConfigReloadErrors.Inc()
				return
			}
			m.ConfigReloads.Inc()
			m.ConfigLastReload.SetToCurrentTime()
		})
	}

	if err := holder.WatchFile(); err != nil {
		holder.Stop()
		return err
	}
	holder.WatchSignals()

	a.holder = holder
	return nil
}

// applyConfig applies the reloadable subset of a new configuration:
// admission limits, the default token budget, the system prompt name,
// and the log level. Everything else requires a restart.
func (a *App) applyConfig(cfg *config.Config) {
	loc, err := cfg.Limits.Location()
	if err != nil {
		a.Logger.Error().Err(err).Msg("reloaded timezone rejected, limits unchanged")
		return
	}

	a.admission.SetLimits(admissionLimits(cfg.Limits, loc))
	a.Gate.UpdateConfig(app.DynamicConfig{
		DefaultMaxTokens: cfg.Limits.MaxTokensPerRequest,
		PromptName:       cfg.Prompt.Name,
	})

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
}

// Run starts the HTTP server and blocks until a signal or server error.
func (a *App) Run() error {
	if err := a.retention.Start(); err != nil {
		return fmt.Errorf("start retention sweeper: %w", err)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop watching the config file
	if a.holder != nil {
		a.holder.Stop()
	}

	// Stop the retention sweeper
	if a.retention != nil {
		a.retention.Stop()
	}

	// Shutdown HTTP server
	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Flush usage recorder
	if a.usageRecorder != nil {
		if err := a.usageRecorder.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("usage recorder close error")
		}
	}

	// Stop the admission sweeper
	if a.admission != nil {
		if err := a.admission.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("admission controller close error")
		}
	}

	// Close upstream
	if a.upstream != nil {
		a.upstream.Close()
	}

	// Close database
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func admissionLimits(l config.LimitsConfig, loc *time.Location) memory.Limits {
	return memory.Limits{
		PerSecond:     l.RequestsPerSecond,
		PerMinute:     l.RequestsPerMinute,
		MaxPerRequest: l.MaxTokensPerRequest,
		MaxPerDay:     l.MaxTokensPerDay,
		Location:      loc,
	}
}

func staticKeys(keys []config.KeyConfig) []auth.StaticKey {
	out := make([]auth.StaticKey, 0, len(keys))
	for _, k := range keys {
		out = append(out, auth.StaticKey{Name: k.Name, Key: k.Key, Digest: k.Hash})
	}
	return out
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
