// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/engine"
	"github.com/xkilldash9x/synapse-cli/internal/observability"
	"github.com/xkilldash9x/synapse-cli/internal/optimizer"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
	"github.com/xkilldash9x/synapse-cli/internal/store"
	"github.com/xkilldash9x/synapse-cli/internal/templates"
)

// consumerTimeout bounds how long Shutdown waits for the recorder to flush.
const consumerTimeout = 30 * time.Second

// Components holds the process-scoped decision engine and its adapters.
// It centralizes their lifecycle: built once by the factory, torn down by
// Shutdown.
type Components struct {
	Config    config.Interface
	Cache     *predcache.Cache
	Templates *templates.Store
	Optimizer *optimizer.Optimizer
	Engine    *engine.Engine
	Metrics   *observability.Metrics
	// Ledger is nil when no database is configured.
	Ledger store.Ledger

	logger *zap.Logger
	now    func() time.Time

	// recordsChan decouples decision recording from the decision path.
	recordsChan chan store.DecisionRecord
	// consumerWG is used to ensure the recorder has finished draining the channel.
	consumerWG *sync.WaitGroup

	recordsLock    sync.RWMutex
	recordsClosed  bool
	droppedRecords atomic.Uint64
	shutdownOnce   sync.Once
}

// Decide runs one decision cycle and queues it for the ledger.
func (c *Components) Decide(dctx schemas.DisruptionContext) (schemas.Decision, error) {
	d, err := c.Engine.Decide(dctx)
	if err != nil {
		return d, err
	}
	c.record(dctx, d)
	return d, nil
}

// DecideAll runs a batch and queues every successful decision for the ledger.
func (c *Components) DecideAll(ctxs []schemas.DisruptionContext, concurrency int) []engine.Outcome {
	out := c.Engine.DecideAll(ctxs, concurrency)
	for i, o := range out {
		if o.Err == nil {
			c.record(ctxs[i], o.Decision)
		}
	}
	return out
}

// record never blocks; a full or closed channel drops the record.
func (c *Components) record(dctx schemas.DisruptionContext, d schemas.Decision) {
	if c.recordsChan == nil {
		return
	}
	rec := store.NewRecord(dctx.Normalized(), d, c.clock())

	c.recordsLock.RLock()
	defer c.recordsLock.RUnlock()
	if c.recordsClosed {
		c.droppedRecords.Add(1)
		return
	}
	select {
	case c.recordsChan <- rec:
	default:
		c.droppedRecords.Add(1)
		c.log().Warn("Decision record channel full; dropping record.", zap.String("fingerprint", d.Fingerprint))
	}
}

// DroppedRecords returns how many decisions never reached the ledger queue.
func (c *Components) DroppedRecords() uint64 { return c.droppedRecords.Load() }

// SaveSnapshot writes the most recently used cache entries to the ledger.
func (c *Components) SaveSnapshot(ctx context.Context) (int, error) {
	if c.Ledger == nil || c.Cache == nil {
		return 0, nil
	}
	entries := c.Cache.Snapshot()
	if limit := c.snapshotLimit(); limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if err := c.Ledger.SaveSnapshot(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// RestoreSnapshot loads the stored snapshot into the cache.
func (c *Components) RestoreSnapshot(ctx context.Context) (int, error) {
	if c.Ledger == nil || c.Cache == nil {
		return 0, nil
	}
	limit := c.Cache.Capacity()
	if l := c.snapshotLimit(); l > 0 && l < limit {
		limit = l
	}
	entries, err := c.Ledger.LoadSnapshot(ctx, limit)
	if err != nil {
		return 0, err
	}
	return c.Cache.Restore(entries), nil
}

func (c *Components) snapshotLimit() int {
	if c.Config == nil {
		return 0
	}
	return c.Config.Database().SnapshotMaxItems
}

func (c *Components) snapshotOnExit() bool {
	return c.Config != nil && c.Config.Database().SnapshotOnExit
}

func (c *Components) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Components) log() *zap.Logger {
	if c.logger != nil {
		return c.logger
	}
	return observability.GetLogger()
}

// Shutdown gracefully closes all components, ensuring resources are released
// in the correct order. It is safe to call more than once.
func (c *Components) Shutdown() {
	c.shutdownOnce.Do(c.shutdown)
}

func (c *Components) shutdown() {
	logger := c.log()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the engine first so pending write-backs land in the cache.
	if c.Engine != nil {
		_ = c.Engine.Close()
		logger.Debug("Engine stopped.")
	}

	// 2. Close the records channel. This signals the recorder to drain and stop.
	if c.recordsChan != nil {
		c.recordsLock.Lock()
		c.recordsClosed = true
		close(c.recordsChan)
		c.recordsLock.Unlock()
		logger.Debug("Decision records channel closed.")
	}

	// 3. Wait for the recorder to flush what was drained.
	if c.consumerWG != nil {
		if timedWait(c.consumerWG, consumerTimeout) {
			logger.Debug("Decision recorder finished processing.")
		} else {
			logger.Warn("Timed out waiting for the decision recorder; some records may be lost.")
		}
	}

	// 4. Snapshot the cache and close the ledger.
	if c.Ledger != nil {
		if c.snapshotOnExit() {
			ctx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
			n, err := c.SaveSnapshot(ctx)
			cancel()
			if err != nil {
				logger.Warn("Failed to snapshot prediction cache.", zap.Error(err))
			} else {
				logger.Info("Prediction cache snapshot saved.", zap.Int("entries", n))
			}
		}
		if err := c.Ledger.Close(); err != nil {
			logger.Warn("Error closing ledger.", zap.Error(err))
		} else {
			logger.Debug("Ledger closed.")
		}
	}

	logger.Info("All components shut down successfully.")
}

// timedWait waits for wg and reports whether it finished within timeout.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
