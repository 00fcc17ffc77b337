// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from an optional YAML file overlaid with XANCRYPT_*
// environment variables.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/xancrypt/xancrypt/adapters/archive"
	"github.com/xancrypt/xancrypt/adapters/auth"
	"github.com/xancrypt/xancrypt/adapters/clock"
	"github.com/xancrypt/xancrypt/adapters/hasher"
	xhttp "github.com/xancrypt/xancrypt/adapters/http"
	"github.com/xancrypt/xancrypt/adapters/idgen"
	"github.com/xancrypt/xancrypt/adapters/metrics"
	"github.com/xancrypt/xancrypt/adapters/random"
	xtls "github.com/xancrypt/xancrypt/adapters/tls"
	"github.com/xancrypt/xancrypt/adapters/transform"
	"github.com/xancrypt/xancrypt/app"
	"github.com/xancrypt/xancrypt/config"
	"github.com/xancrypt/xancrypt/ports"
)

// Options controls how the application is assembled.
type Options struct {
	// ConfigPath is a YAML file. When it exists it is loaded and watched for
	// changes; otherwise configuration comes from the environment alone.
	ConfigPath string

	// Config is used as-is when set, bypassing ConfigPath and the environment.
	Config *config.Config

	Version   string
	LogOutput io.Writer   // default os.Stdout
	Clock     ports.Clock // default wall clock
}

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Config // as loaded at startup
	HTTPServer *http.Server
	Metrics    *metrics.Collector // nil when metrics are disabled

	Encrypt  *app.EncryptService
	Usage    *app.UsageService
	History  *app.HistoryService
	Registry *archive.Registry
	Tokens   *auth.TokenService
	Stores   *Stores

	clock     ports.Clock
	holder    *config.Holder
	challenge *http.Server // acme HTTP-01 listener
	janitor   *ArchiveJanitor
	logFile   io.Closer
}

// New assembles the application without starting the HTTP server.
func New(opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadWithFallback(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger, logFile := SetupLogger(cfg.Logging, opts.LogOutput)

	a := &App{
		Logger:  logger,
		Config:  cfg,
		clock:   opts.Clock,
		logFile: logFile,
	}
	if a.clock == nil {
		a.clock = clock.Real{}
	}

	if opts.Config == nil && opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err == nil {
			holder, err := config.NewHolder(opts.ConfigPath, logger)
			if err != nil {
				logFile.Close()
				return nil, err
			}
			a.holder = holder
			a.Config = holder.Get()
		}
	}

	if err := a.init(opts.Version); err != nil {
		a.Shutdown()
		return nil, err
	}
	return a, nil
}

func (a *App) init(version string) error {
	cfg := a.Config

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := OpenStores(ctx, cfg.Storage, a.Logger)
	if err != nil {
		return err
	}
	a.Stores = stores

	for _, dir := range []string{cfg.Conversion.WorkDir, cfg.Conversion.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	tokens, err := auth.NewTokenService(auth.Config{
		Secret:     cfg.Auth.JWTSecret,
		Expiration: cfg.Auth.TokenExpiry,
		Issuer:     cfg.Auth.Issuer,
		Clock:      a.clock,
		Random:     random.Real{},
	})
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		a.Logger.Warn().Msg("no jwt secret configured; bearer tokens are valid until restart")
	}
	a.Tokens = tokens

	var observer ports.Observer
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		observer = a.Metrics
	}

	a.Registry = archive.NewRegistry(cfg.Conversion.RegistrySize, cfg.Conversion.Retention)
	a.janitor = NewArchiveJanitor(cfg.Conversion.OutputDir, cfg.Conversion.Retention, 0, a.clock, a.Logger)
	a.janitor.Sweep()

	pipeline := app.NewPipeline(app.PipelineDeps{
		Transformers: []ports.Transformer{transform.NewCSS(), transform.NewJS()},
		Archiver:     archive.NewZip(a.clock),
		Registry:     a.Registry,
		Clock:        a.clock,
		Logger:       a.Logger,
	}, app.PipelineConfig{
		WorkDir:   cfg.Conversion.WorkDir,
		OutputDir: cfg.Conversion.OutputDir,
	})

	a.Encrypt = app.NewEncryptService(app.EncryptDeps{
		Ledger:    stores.Ledger,
		History:   stores.History,
		Pipeline:  pipeline,
		Observer:  observer,
		Clock:     a.clock,
		RecordIDs: idgen.Record{},
		JobIDs:    idgen.NewJob(a.clock),
		Logger:    a.Logger,
	}, cfg.Limits.Admission())

	a.Usage = app.NewUsageService(stores.Ledger, a.clock, a.Encrypt.Limits, a.Logger)
	a.History = app.NewHistoryService(stores.History, a.clock)

	handler := xhttp.NewHandler(xhttp.HandlerDeps{
		Encrypt:  a.Encrypt,
		History:  a.History,
		Registry: a.Registry,
		Clock:    a.clock,
		Logger:   a.Logger,
	}, cfg.Conversion.MaxUploadBytes)

	router := xhttp.NewRouter(xhttp.RouterConfig{
		Handler:        handler,
		Health:         xhttp.NewHealthHandler(stores.Ledger),
		Admin:          xhttp.NewAdminHandler(a.Usage, a.Metrics, a.Logger),
		DeviceIDs:      idgen.Device{},
		Tokens:         tokens,
		SecureCookie:   cfg.Server.SecureCookies,
		AdminTokenHash: []byte(cfg.Admin.TokenHash),
		Hasher:         hasher.NewBcrypt(bcrypt.DefaultCost),
		Metrics:        a.Metrics,
		EnableOpenAPI:  cfg.OpenAPI.Enabled,
		Version:        version,
		Timeout:        cfg.Server.RequestTimeout,
	}, a.Logger)

	a.HTTPServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	tlsCfg := cfg.Server.TLS
	setup, err := xtls.Configure(xtls.Config{
		Mode:     tlsCfg.Mode,
		CertFile: tlsCfg.CertFile,
		KeyFile:  tlsCfg.KeyFile,
		Domains:  tlsCfg.Domains,
		Email:    tlsCfg.Email,
		CacheDir: tlsCfg.CacheDir,
		Staging:  tlsCfg.Staging,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	a.HTTPServer.TLSConfig = setup.Config
	if setup.Challenge != nil && tlsCfg.HTTPAddr != "" {
		a.challenge = &http.Server{
			Addr:        tlsCfg.HTTPAddr,
			Handler:     setup.Challenge,
			ReadTimeout: 10 * time.Second,
		}
	}

	if a.holder != nil {
		a.holder.OnChange(a.applyConfig)
		a.holder.OnError(func(err error) {
			if a.Metrics != nil {
				a.Metrics.ConfigReloaded(err, a.clock.Now())
			}
		})
	}

	a.Logger.Info().
		Int("max_files", cfg.Limits.MaxFiles).
		Dur("window", cfg.Limits.Window).
		Str("storage", cfg.Storage.Driver).
		Msg("application initialized")
	return nil
}

// applyConfig applies the hot-reloadable settings of cfg.
func (a *App) applyConfig(cfg *config.Config) {
	a.Encrypt.UpdateLimits(cfg.Limits.Admission())
	applyLogLevel(cfg.Logging.Level, a.Logger)
	if a.Metrics != nil {
		a.Metrics.ConfigReloaded(nil, a.clock.Now())
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.HTTPServer.Handler
}

// Reload re-reads the configuration file. It is a no-op without a file.
func (a *App) Reload() error {
	if a.holder == nil {
		return nil
	}
	return a.holder.Reload()
}

// Run starts the HTTP server and blocks until shutdown.
func (a *App) Run() error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}
	a.janitor.Start()

	errCh := make(chan error, 2)
	go func() {
		secure := a.HTTPServer.TLSConfig != nil
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Bool("tls", secure).
			Msg("starting http server")
		var err error
		if secure {
			err = a.HTTPServer.ListenAndServeTLS("", "")
		} else {
			err = a.HTTPServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if a.challenge != nil {
		go func() {
			a.Logger.Info().Str("addr", a.challenge.Addr).Msg("starting acme challenge listener")
			if err := a.challenge.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("acme listener: %w", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. In-flight conversions finish
// before storage is closed.
func (a *App) Shutdown() error {
	timeout := 30 * time.Second
	if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
		timeout = a.Config.Server.ShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.holder != nil {
		a.holder.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}
	if a.challenge != nil {
		a.challenge.Shutdown(ctx)
	}

	if a.janitor != nil {
		a.janitor.Close()
	}
	// Download links live only in memory, so their archives go with them.
	if a.Registry != nil {
		a.Registry.Purge()
	}

	if a.Stores != nil {
		if err := a.Stores.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("storage close error")
		}
	}

	a.Logger.Info().Msg("shutdown complete")

	if a.logFile != nil {
		a.logFile.Close()
	}
	return nil
}
