// Package di wires the librarian services together.
package di

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"library-circulation/internal/config"
	"library-circulation/internal/logger"
	"library-circulation/library"
)

// NewContainer creates the DI container for cfg.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, ProvideLogger)
	do.Provide(injector, ProvideMetrics)
	do.Provide(injector, ProvidePolicy)

	// Database layer
	do.Provide(injector, ProvideStore)

	// Services
	do.Provide(injector, ProvideManager)

	return injector
}

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		Format:      cfg.Logger.Format,
		Environment: cfg.App.Environment,
	}), nil
}

// ProvideMetrics provides the circulation counters.
func ProvideMetrics(i do.Injector) (*library.Metrics, error) {
	return library.NewMetrics(), nil
}

// ProvidePolicy provides the circulation rules.
func ProvidePolicy(i do.Injector) (library.Policy, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return library.Policy{
		LoanPeriod:        cfg.Policy.LoanPeriod,
		ReservationWindow: cfg.Policy.ReservationWindow,
		FineRate:          cfg.Policy.FineRate,
		Location:          cfg.Policy.Location,
	}, nil
}

// StoreHandle wraps the database with shutdown capability.
type StoreHandle struct {
	*library.Database
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore opens the configured database.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*slog.Logger](i)
	metrics := do.MustInvoke[*library.Metrics](i)

	db, err := library.OpenDatabase(context.Background(), cfg.Database.Driver, cfg.Database.DSN,
		library.WithLogger(log),
		library.WithMetrics(metrics),
		library.WithTimeout(cfg.Database.Timeout),
		library.WithRetryOptions(library.WithMaxAttempts(cfg.Database.MaxAttempts)),
	)
	if err != nil {
		return nil, err
	}
	log.Debug("database opened", "driver", cfg.Database.Driver)
	return &StoreHandle{Database: db}, nil
}

// ProvideManager provides the façade the commands talk to.
func ProvideManager(i do.Injector) (*library.LibraryManager, error) {
	store := do.MustInvoke[*StoreHandle](i)
	return library.NewLibraryManagerFromStore(
		store.Database,
		do.MustInvoke[library.Policy](i),
		do.MustInvoke[*slog.Logger](i),
		do.MustInvoke[*library.Metrics](i),
	), nil
}
