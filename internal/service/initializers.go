// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/store"
)

// Recorder batching parameters.
const (
	recordBatchSize    = 50
	recordBatchTimeout = 2 * time.Second
)

// ConnectPostgres creates a pgx pool with the service's pooling settings and
// verifies the connection.
func ConnectPostgres(ctx context.Context, url string) (store.DBPool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return pool, nil
}

// InitializeLedger opens the configured ledger. Without a database URL it
// returns a nil ledger; decisions and snapshots then live only in memory.
func InitializeLedger(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Ledger, error) {
	if cfg.URL == "" {
		logger.Warn("No database configured; decisions are not recorded and the prediction cache is lost on exit.")
		return nil, nil
	}
	ledger, err := store.Open(ctx, cfg.URL, ConnectPostgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger: %w", err)
	}
	logger.Info("Ledger initialized.")
	return ledger, nil
}

// StartDecisionRecorder launches a goroutine that reads decision records and
// persists them in batches. It manages its lifecycle using the provided
// WaitGroup and drains the channel on shutdown.
func StartDecisionRecorder(ctx context.Context, wg *sync.WaitGroup, records <-chan store.DecisionRecord, ledger store.Ledger, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Starting decision recorder.")
		defer logger.Debug("Decision recorder shut down.")

		batch := make([]store.DecisionRecord, 0, recordBatchSize)
		ticker := time.NewTicker(recordBatchTimeout)
		defer ticker.Stop()

		flush := func() {
			if len(batch) == 0 {
				return
			}
			// Persistence gets its own deadline so a cancelled run still flushes.
			persistCtx, cancel := context.WithTimeout(context.Background(), consumerTimeout)
			defer cancel()

			if err := ledger.RecordDecisions(persistCtx, batch); err != nil {
				logger.Error("Failed to persist decision batch. Records may be lost.", zap.Error(err), zap.Int("batch_size", len(batch)))
			}
			batch = batch[:0]
		}

		for {
			select {
			case rec, ok := <-records:
				if !ok {
					flush()
					return
				}
				batch = append(batch, rec)
				if len(batch) >= recordBatchSize {
					flush()
					ticker.Reset(recordBatchTimeout)
				}

			case <-ticker.C:
				flush()

			case <-ctx.Done():
				logger.Warn("Decision recorder context canceled, draining remaining records.")
				drainChannel(records, &batch)
				flush()
				return
			}
		}
	}()
}

// drainChannel reads whatever is buffered without blocking.
func drainChannel(records <-chan store.DecisionRecord, batch *[]store.DecisionRecord) {
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return
			}
			*batch = append(*batch, rec)
		default:
			return
		}
	}
}
