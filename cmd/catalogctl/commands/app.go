package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/catalogops/auth"
	"github.com/jonwraymond/catalogops/catalog"
	"github.com/jonwraymond/catalogops/config"
	"github.com/jonwraymond/catalogops/health"
	"github.com/jonwraymond/catalogops/observe"
	"github.com/jonwraymond/catalogops/remote"
	"github.com/jonwraymond/catalogops/secret"
	"github.com/jonwraymond/catalogops/store"
	"github.com/jonwraymond/catalogops/transport"
)

// shutdownTimeout bounds the final progress flush and telemetry export.
const shutdownTimeout = 10 * time.Second

// app is the wired data layer for one command invocation.
type app struct {
	cfg      *config.Config
	svc      *catalog.Service
	obs      observe.Observer
	logger   observe.Logger
	db       *store.SQLite
	checkers []health.Checker
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flags.server != "" {
		cfg.API.BaseURL = flags.server
	}
	if flags.token != "" {
		cfg.API.AuthToken = flags.token
	}
	if flags.dbPath != "" {
		cfg.Store.Path = flags.dbPath
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires telemetry, the selected source and the facade.
func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, cfg.ObserveConfig(Version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &app{cfg: cfg, obs: obs, logger: obs.Logger()}

	var source catalog.Source
	if cfg.API.BaseURL != "" {
		source, err = a.remoteSource(ctx)
	} else {
		source, err = a.localSource(ctx)
	}
	if err != nil {
		a.closeResources(ctx)
		return nil, err
	}

	sc := cfg.ServiceConfig(source, mw)
	sc.Logger = a.logger
	sc.OnProgressFlushError = func(records []catalog.ProgressRecord, err error) {
		a.logger.Error(context.Background(), "progress flush failed",
			observe.F("records", len(records)), observe.Err(err))
	}
	a.svc, err = catalog.New(sc)
	if err != nil {
		a.closeResources(ctx)
		return nil, err
	}
	a.checkers = append(a.checkers, health.NewServiceChecker(a.svc, health.ServiceThresholds{}))
	return a, nil
}

func (a *app) remoteSource(ctx context.Context) (catalog.Source, error) {
	token, err := secret.NewResolver(true).Resolve(ctx, a.cfg.API.AuthToken)
	if err != nil {
		return nil, fmt.Errorf("resolve auth token: %w", err)
	}
	if tok, err := auth.ParseToken(token); err == nil && tok.Expired(time.Now()) {
		a.logger.Warn(ctx, "auth token is expired", observe.F("expires_at", tok.ExpiresAt()))
	}

	tr, err := transport.New(transport.Config{
		BaseURL:   a.cfg.API.BaseURL,
		Token:     token,
		Timeout:   a.cfg.API.Timeout,
		UserAgent: "catalogctl/" + Version,
	})
	if err != nil {
		return nil, err
	}
	client, err := remote.New(remote.Config{Transport: tr, ListTimeout: a.cfg.API.ListTimeout})
	if err != nil {
		return nil, err
	}
	a.checkers = append(a.checkers, health.NewRemoteChecker(tr))
	a.logger.Debug(ctx, "using remote source", observe.F("base_url", a.cfg.API.BaseURL))
	return client, nil
}

func (a *app) localSource(ctx context.Context) (catalog.Source, error) {
	db, err := store.Open(store.Config{Path: a.cfg.Store.Path})
	if err != nil {
		return nil, err
	}
	a.db = db
	repo, err := store.NewRepository(ctx, store.RepositoryConfig{
		Store:     db,
		ChunkSize: a.cfg.Batch.ProgressChunkSize,
	})
	if err != nil {
		return nil, err
	}
	a.checkers = append(a.checkers, health.NewStoreChecker(db))
	a.logger.Debug(ctx, "using local store", observe.F("path", a.cfg.Store.Path))
	return repo, nil
}

// close shuts the service down and releases every resource. Progress still
// queued at this point is dropped; commands that write progress flush it
// themselves.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if a.svc != nil {
		errs = append(errs, a.svc.Shutdown(ctx))
	}
	errs = append(errs, a.closeErrors(ctx)...)
	return errors.Join(errs...)
}

// closeResources releases what newApp opened before it failed.
func (a *app) closeResources(ctx context.Context) {
	_ = a.closeErrors(ctx)
}

func (a *app) closeErrors(ctx context.Context) []error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.obs != nil {
		errs = append(errs, a.obs.Shutdown(ctx))
	}
	return errs
}

// withApp runs fn against a freshly wired app and always closes it.
func withApp(ctx context.Context, flags *globalFlags, fn func(context.Context, *app) error) (err error) {
	a, err := newApp(ctx, flags)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close())
	}()
	return fn(ctx, a)
}
