// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/engine"
	"github.com/xkilldash9x/synapse-cli/internal/fingerprint"
	"github.com/xkilldash9x/synapse-cli/internal/observability"
	"github.com/xkilldash9x/synapse-cli/internal/optimizer"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
	"github.com/xkilldash9x/synapse-cli/internal/selector"
	"github.com/xkilldash9x/synapse-cli/internal/store"
	"github.com/xkilldash9x/synapse-cli/internal/templates"
)

// recordsBuffer is the capacity of the decision records channel.
const recordsBuffer = 1024

// ComponentFactory defines the interface for creating the set of components
// a command needs. Commands depend on it so tests can inject their own.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	openLedger func(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Ledger, error)
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{openLedger: InitializeLedger}
}

// Create handles the full dependency injection and initialization of the
// decision engine and its adapters.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{Config: cfg, logger: logger}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Template catalog
	tmpl, err := templates.NewFromConfig(cfg.Templates(), cfg.Optimizer(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to load template catalog: %w", err)
		return nil, initializationErr
	}
	components.Templates = tmpl

	// 2. Core components
	components.Cache = predcache.New(cfg.Cache(), logger)
	components.Optimizer = optimizer.New(cfg.Optimizer(), logger)
	components.Metrics = observability.NewMetrics()

	eng, err := engine.New(cfg.Engine(), logger, engine.Components{
		Fingerprinter: fingerprint.New(cfg.Fingerprint()),
		Cache:         components.Cache,
		Templates:     tmpl,
		Optimizer:     components.Optimizer,
		Selector:      selector.New(cfg.Selector()),
		Observer:      engine.MultiObserver{observability.NewLogObserver(logger), components.Metrics},
	})
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = eng
	logger.Debug("Decision engine initialized.")

	if err := registerGauges(components); err != nil {
		initializationErr = fmt.Errorf("failed to register metrics: %w", err)
		return nil, initializationErr
	}

	// 3. Ledger
	ledger, err := f.openLedger(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	if ledger == nil {
		logger.Info("All components initialized successfully.")
		return components, nil
	}
	components.Ledger = ledger

	if cfg.Database().RestoreOnStart {
		n, err := components.RestoreSnapshot(ctx)
		if err != nil {
			// A missing snapshot only costs warm-up time.
			logger.Warn("Failed to restore prediction cache snapshot.", zap.Error(err))
		} else {
			logger.Debug("Prediction cache restored.", zap.Int("entries", n))
		}
	}

	// 4. Decision recorder
	if cfg.Database().RecordDecisions {
		components.recordsChan = make(chan store.DecisionRecord, recordsBuffer)
		components.consumerWG = &sync.WaitGroup{}
		StartDecisionRecorder(ctx, components.consumerWG, components.recordsChan, ledger, logger)
		logger.Debug("Decision recorder started.")
	}

	logger.Info("All components initialized successfully.")
	return components, nil
}

func registerGauges(c *Components) error {
	gauges := []struct {
		name, help string
		fn         func() float64
	}{
		{"cache_entries", "Entries in the prediction cache.", func() float64 { return float64(c.Cache.Len()) }},
		{"cache_capacity", "Capacity of the prediction cache.", func() float64 { return float64(c.Cache.Capacity()) }},
		{"cache_hit_rate", "Share of lookups answered from the cache.", func() float64 { return c.Cache.Stats().HitRate() }},
		{"cache_evictions", "Entries evicted from the prediction cache.", func() float64 { return float64(c.Cache.Stats().Evictions) }},
		{"write_back_failures", "Cache write-backs dropped or rejected.", func() float64 { return float64(c.Engine.WriteBackFailures()) }},
		{"coalesced_syntheses", "Cache misses that joined an in-flight synthesis.", func() float64 { return float64(c.Engine.Stats().Coalesced) }},
	}
	for _, g := range gauges {
		if err := c.Metrics.GaugeFunc(g.name, g.help, g.fn); err != nil {
			return err
		}
	}
	return nil
}
