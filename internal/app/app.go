// Package app wires all vetscribe subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options
// (WithAppointmentStore, WithBlobStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/softclaw/vetscribe/internal/appointment"
	"github.com/softclaw/vetscribe/internal/capture"
	"github.com/softclaw/vetscribe/internal/config"
	"github.com/softclaw/vetscribe/internal/draftcache"
	"github.com/softclaw/vetscribe/internal/generate"
	"github.com/softclaw/vetscribe/internal/health"
	"github.com/softclaw/vetscribe/internal/kvstore"
	"github.com/softclaw/vetscribe/internal/observe"
	"github.com/softclaw/vetscribe/internal/pipeline"
	"github.com/softclaw/vetscribe/internal/server"
	"github.com/softclaw/vetscribe/internal/storage"
	"github.com/softclaw/vetscribe/internal/upload"
	"github.com/softclaw/vetscribe/internal/vocab"
)

// defaultDraftsPath is where the draft cache lives when drafts.path is not
// configured.
const defaultDraftsPath = "vetscribe-drafts.db"

// Providers holds the external model backends. Populated by main via the
// config registry; Transcriber and Notes are both required.
type Providers struct {
	Transcriber generate.Transcriber
	Notes       generate.NoteGenerator
}

// App owns all subsystem lifetimes and serves the vetscribe HTTP API.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	// logLevel, when set, lets a config reload adjust verbosity without a
	// restart.
	logLevel *slog.LevelVar

	appointments appointment.Store
	pool         *pgxpool.Pool
	blobs        storage.Store
	fsStore      *storage.FSStore
	uploads      *upload.Manager
	captures     *capture.Manager
	pipeline     *pipeline.Pipeline
	kv           *kvstore.Store
	drafts       *draftcache.Cache
	metrics      *observe.Metrics

	httpServer *http.Server
	watcher    *config.Watcher

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithAppointmentStore injects an appointment store instead of creating one
// from config.
func WithAppointmentStore(s appointment.Store) Option {
	return func(a *App) { a.appointments = s }
}

// WithBlobStore injects a blob store instead of creating a filesystem store
// from config.
func WithBlobStore(s storage.Store) Option {
	return func(a *App) { a.blobs = s }
}

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// WithLogLevelVar hands the App the level variable backing its logger, so a
// config reload can change verbosity live.
func WithLogLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithMetrics injects metrics instruments and skips global telemetry
// initialisation. Tests use this so repeated App construction never
// re-registers the process-wide Prometheus exporter.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: telemetry setup, database
// connection and migration, blob store creation, pipeline assembly, and
// draft cache loading.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Transcriber == nil {
		return nil, fmt.Errorf("app: a transcriber provider is required")
	}
	if providers.Notes == nil {
		return nil, fmt.Errorf("app: a notes provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	if err := a.initAppointments(ctx); err != nil {
		return nil, fmt.Errorf("app: init appointments: %w", err)
	}
	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	a.captures = capture.NewManager(a.appointments)
	a.initPipeline()

	if err := a.initDrafts(ctx); err != nil {
		return nil, fmt.Errorf("app: init drafts: %w", err)
	}

	a.initServer()
	return a, nil
}

// initTelemetry sets up the OTel providers and the shared metrics instruments.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil // injected
	}
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initAppointments connects the configured database or falls back to the
// in-memory store.
func (a *App) initAppointments(ctx context.Context) error {
	if a.appointments != nil {
		return nil // injected
	}

	if a.cfg.Database.URL == "" {
		a.log.Warn("database.url not set, appointments are held in memory and lost on restart")
		a.appointments = appointment.NewMemStore()
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	store := appointment.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate database: %w", err)
	}

	a.pool = pool
	a.appointments = store
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	return nil
}

// initStorage creates the filesystem blob store when one is configured.
// Without storage the capture socket still records but uploads are disabled,
// and the transcribe endpoint cannot fetch audio.
func (a *App) initStorage() error {
	if a.blobs == nil {
		if a.cfg.Storage.Root == "" {
			a.log.Warn("storage not configured, recording upload and playback are disabled")
		} else {
			fs, err := storage.NewFSStore(a.cfg.Storage.Root, a.cfg.Storage.BaseURL, []byte(a.cfg.Storage.Secret))
			if err != nil {
				return err
			}
			a.blobs = fs
			a.fsStore = fs
		}
	}
	if a.blobs != nil {
		opts := []upload.Option{upload.WithLogger(a.log)}
		if ttl := a.cfg.Storage.SignedURLTTL; ttl > 0 {
			opts = append(opts, upload.WithSignTTL(ttl))
		}
		a.uploads = upload.NewManager(a.blobs, a.appointments, opts...)
	}
	return nil
}

// initPipeline assembles the artifact pipeline with the configured
// vocabulary normalizer.
func (a *App) initPipeline() {
	opts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
	}
	if a.cfg.Pipeline.VocabularyCorrection {
		opts = append(opts, pipeline.WithNormalizer(a.buildNormalizer(a.cfg.Pipeline.ExtraTerms)))
	}
	a.pipeline = pipeline.New(a.providers.Transcriber, a.providers.Notes, a.appointments, opts...)
}

func (a *App) buildNormalizer(extraTerms []string) *vocab.Normalizer {
	return vocab.New(vocab.WithExtraTerms(extraTerms...))
}

// initDrafts opens the SQLite-backed draft cache.
func (a *App) initDrafts(ctx context.Context) error {
	path := a.cfg.Drafts.Path
	if path == "" {
		path = defaultDraftsPath
	}

	kv, err := kvstore.Open(path)
	if err != nil {
		return err
	}
	a.kv = kv
	a.closers = append(a.closers, kv.Close)

	opts := []draftcache.Option{
		draftcache.WithLogger(a.log),
		draftcache.WithMetrics(a.metrics),
	}
	if a.cfg.Drafts.RetentionDays > 0 {
		opts = append(opts, draftcache.WithRetention(time.Duration(a.cfg.Drafts.RetentionDays)*24*time.Hour))
	}

	drafts, err := draftcache.Open(ctx, kv, opts...)
	if err != nil {
		return err
	}
	a.drafts = drafts
	return nil
}

// initServer builds the HTTP front end and the readiness checks behind it.
func (a *App) initServer() {
	srv := server.New(server.Deps{
		Appointments: a.appointments,
		Pipeline:     a.pipeline,
		Uploads:      a.uploads,
		Captures:     a.captures,
		Drafts:       a.drafts,
		Media:        a.fsStore,
		Health:       health.New(a.healthCheckers()...),
		Metrics:      a.metrics,
		Logger:       a.log,
	})

	a.httpServer = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// healthCheckers builds the /readyz dependency probes for everything New
// actually wired.
func (a *App) healthCheckers() []health.Checker {
	var checkers []health.Checker

	if a.pool != nil {
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: a.pool.Ping,
		})
	}
	if a.fsStore != nil {
		root := a.cfg.Storage.Root
		checkers = append(checkers, health.Checker{
			Name: "storage",
			Check: func(context.Context) error {
				info, err := os.Stat(root)
				if err != nil {
					return err
				}
				if !info.IsDir() {
					return fmt.Errorf("%s is not a directory", root)
				}
				return nil
			},
		})
	}
	checkers = append(checkers, health.Checker{
		Name: "providers",
		Check: func(context.Context) error {
			if a.providers.Transcriber == nil || a.providers.Notes == nil {
				return errors.New("providers not configured")
			}
			return nil
		},
	})
	return checkers
}

// WatchConfig starts a poller on path and applies supported changes live.
// Call after New and before Run; the watcher stops during Shutdown.
func (a *App) WatchConfig(path string) error {
	w, err := config.NewWatcher(path, a.applyConfigChange)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}
	a.watcher = w
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// applyConfigChange applies a validated config update. Only a subset of
// settings can change without a restart; the rest are logged and ignored.
func (a *App) applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Any() {
		return
	}

	if d.LogLevelChanged {
		if a.logLevel != nil {
			a.logLevel.Set(slogLevel(d.NewLogLevel))
			a.log.Info("log level updated", "level", d.NewLogLevel)
		} else {
			a.log.Warn("log level changed but no level var is wired, restart to apply")
		}
	}

	if d.VocabularyChanged {
		var n *vocab.Normalizer
		if new.Pipeline.VocabularyCorrection {
			n = a.buildNormalizer(new.Pipeline.ExtraTerms)
		}
		a.pipeline.SetNormalizer(n)
		a.log.Info("vocabulary normalizer updated",
			"enabled", new.Pipeline.VocabularyCorrection,
			"extra_terms", len(new.Pipeline.ExtraTerms))
	}

	if d.DraftRetentionChanged && a.drafts != nil {
		a.drafts.SetRetention(time.Duration(d.NewRetentionDays) * 24 * time.Hour)
		a.log.Info("draft retention updated", "days", d.NewRetentionDays)
	}
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Run serves HTTP and blocks until ctx is cancelled or the listener fails.
// When ctx is done, Run returns ctx.Err(); call Shutdown to drain in-flight
// requests.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown drains the HTTP server, then tears down all subsystems in order.
// It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.httpServer.Shutdown(ctx); err != nil {
			a.log.Warn("http server shutdown error", "error", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
