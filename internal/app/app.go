// Package app wires configuration into a concrete application context.
// Callers (CLI, HTTP handlers) receive an explicitly constructed App
// rather than a process-wide singleton.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jamesturk/bobsled/internal/callback"
	"github.com/jamesturk/bobsled/internal/config"
	"github.com/jamesturk/bobsled/internal/environment"
	"github.com/jamesturk/bobsled/internal/runner"
	"github.com/jamesturk/bobsled/internal/storage"
	"github.com/jamesturk/bobsled/internal/storage/postgres"
)

// storageFactories maps a BOBSLED_STORAGE value to a constructor.
var storageFactories = map[string]func(ctx context.Context, cfg *config.Config) (storage.Storage, error){
	"memory": func(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
		return storage.NewMemory(), nil
	},
	"postgres": func(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
		return postgres.New(ctx, cfg.DatabaseURL)
	},
}

// backendFactories maps a BOBSLED_RUNNER value to a constructor.
var backendFactories = map[string]func(cfg *config.Config) (runner.Backend, error){
	"docker": func(cfg *config.Config) (runner.Backend, error) {
		return runner.NewDockerBackend()
	},
	"kubernetes": func(cfg *config.Config) (runner.Backend, error) {
		return runner.NewKubernetesBackend(runner.KubernetesConfig{
			Namespace:      cfg.KubernetesNamespace,
			ServiceAccount: cfg.KubernetesServiceAccount,
		})
	},
}

// App is the resolved application context: concrete storage, environment
// provider, and run service built once from configuration.
type App struct {
	Config  *config.Config
	Log     *slog.Logger
	Storage storage.Storage
	Env     *environment.Provider
	Runner  *runner.Service
}

// PollOnce refreshes every active run against the backend. Timeout
// detection is cooperative, so something has to drive UpdateStatus
// periodically; the serve loop calls this.
func (a *App) PollOnce(ctx context.Context) error {
	_, err := a.Runner.GetRuns(ctx, storage.RunFilter{Statuses: storage.ActiveStatuses}, true)
	return err
}

// New resolves the configured implementations and constructs the app.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	newStorage, ok := storageFactories[cfg.Storage]
	if !ok {
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
	store, err := newStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	newBackend, ok := backendFactories[cfg.Runner]
	if !ok {
		return nil, fmt.Errorf("unknown runner %q", cfg.Runner)
	}
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", cfg.Runner, err)
	}

	env := environment.NewProvider(cfg.EnvironmentsFile)
	if err := env.Update(); err != nil {
		log.Warn("environments not loaded", "file", cfg.EnvironmentsFile, "error", err)
	}

	var opts []runner.Option
	if cfg.CallbackURL != "" {
		opts = append(opts, runner.WithCallbacks(callback.NewWebhook(cfg.CallbackURL, log)))
	}

	return &App{
		Config:  cfg,
		Log:     log,
		Storage: store,
		Env:     env,
		Runner:  runner.NewService(backend, store, env, log, opts...),
	}, nil
}
