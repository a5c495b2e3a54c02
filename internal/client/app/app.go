// Package app constructs the client's stores from configuration and tears
// them down again. One App is created per process and handed to the
// front-end through a context.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/deskclient/internal/client/api"
	"github.com/dmitrijs2005/deskclient/internal/client/config"
	"github.com/dmitrijs2005/deskclient/internal/client/modals"
	"github.com/dmitrijs2005/deskclient/internal/client/observability"
	"github.com/dmitrijs2005/deskclient/internal/client/projects"
	"github.com/dmitrijs2005/deskclient/internal/client/session"
	"github.com/dmitrijs2005/deskclient/internal/client/storage"
	"github.com/dmitrijs2005/deskclient/internal/client/ui"
	"github.com/dmitrijs2005/deskclient/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// App owns every store and their collaborators.
type App struct {
	Config   *config.Config
	Log      logging.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Storage  storage.Storage
	API      api.Client

	Session  *session.Store
	Projects *projects.Store
	UI       *ui.Store
	Modals   *modals.Store

	sync func() error
}

// Option overrides a collaborator New would otherwise build from config.
type Option func(*options)

type options struct {
	log     logging.Logger
	storage storage.Storage
	api     api.Client
}

func WithLogger(l logging.Logger) Option { return func(o *options) { o.log = l } }

func WithStorage(s storage.Storage) Option { return func(o *options) { o.storage = s } }

func WithAPI(c api.Client) Option { return func(o *options) { o.api = c } }

// New builds the stores. Nothing is activated until something subscribes.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{Config: cfg, Registry: prometheus.NewRegistry()}

	a.Log = o.log
	if a.Log == nil {
		l, sync, err := newLogger(cfg)
		if err != nil {
			return nil, err
		}
		a.Log, a.sync = l, sync
	}

	m, err := observability.NewMetrics(a.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.Metrics = m

	a.Storage = o.storage
	if a.Storage == nil {
		st, err := openStorage(ctx, cfg, a.Log)
		if err != nil {
			return nil, err
		}
		a.Storage = st
	}

	a.API = o.api
	if a.API == nil {
		a.API = api.NewHTTPClient(cfg.APIBaseURL, cfg.RequestTimeout, a.Log)
	}

	a.Session = session.New(session.Config{
		Storage: a.Storage,
		API:     a.API,
		Logger:  a.Log,
		Metrics: a.Metrics,
	})
	a.Projects = projects.New(projects.Config{
		Session:   a.Session,
		API:       a.API,
		Logger:    a.Log,
		Metrics:   a.Metrics,
		Freshness: cfg.ProjectsFreshness,
	})
	a.UI = ui.New(cfg.HostEmbedded)
	a.Modals = modals.New()

	return a, nil
}

// Dispose stops background work and releases storage. Dependents go first.
func (a *App) Dispose() error {
	a.Projects.Dispose()
	a.Session.Dispose()

	var errs []error
	if err := a.Storage.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	if a.sync != nil {
		// Syncing a terminal's stderr fails on most platforms.
		if err := a.sync(); err != nil {
			a.Log.Debug(context.Background(), "logger sync failed", "error", err)
		}
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config) (logging.Logger, func() error, error) {
	if cfg.LogFormat == "zap" {
		z, err := logging.NewZap(cfg.LogLevel)
		if err != nil {
			return nil, nil, fmt.Errorf("build zap logger: %w", err)
		}
		return z, z.Sync, nil
	}
	return logging.NewSlog(os.Stderr, cfg.LogFormat, cfg.LogLevel), nil, nil
}

func openStorage(ctx context.Context, cfg *config.Config, log logging.Logger) (storage.Storage, error) {
	opts := []storage.Option{
		storage.WithLogger(log),
		storage.WithPollInterval(cfg.PollInterval),
	}

	switch cfg.StorageDriver {
	case config.StorageMemory:
		return storage.NewMemory(opts...), nil
	case config.StorageSQLite:
		st, err := storage.OpenSQLite(ctx, cfg.SQLitePath, opts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		return st, nil
	case config.StorageRedis:
		st, err := storage.NewRedis(ctx, cfg.RedisURL, cfg.RedisPrefix, opts...)
		if err != nil {
			return nil, fmt.Errorf("open redis storage: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

type ctxKey struct{}

// WithApp returns a context carrying a.
func WithApp(ctx context.Context, a *App) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the App stored by WithApp.
func FromContext(ctx context.Context) (*App, bool) {
	a, ok := ctx.Value(ctxKey{}).(*App)
	return a, ok && a != nil
}
