// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
	"github.com/xkilldash9x/synapse-cli/internal/store"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) Fingerprint() config.FingerprintConfig {
	args := m.Called()
	return args.Get(0).(config.FingerprintConfig)
}

func (m *MockConfig) Cache() config.CacheConfig {
	args := m.Called()
	return args.Get(0).(config.CacheConfig)
}

func (m *MockConfig) Optimizer() config.OptimizerConfig {
	args := m.Called()
	return args.Get(0).(config.OptimizerConfig)
}

func (m *MockConfig) Selector() config.SelectorConfig {
	args := m.Called()
	return args.Get(0).(config.SelectorConfig)
}

func (m *MockConfig) Engine() config.EngineConfig {
	args := m.Called()
	return args.Get(0).(config.EngineConfig)
}

func (m *MockConfig) Templates() config.TemplatesConfig {
	args := m.Called()
	return args.Get(0).(config.TemplatesConfig)
}

func (m *MockConfig) Prewarm() config.PrewarmConfig {
	args := m.Called()
	return args.Get(0).(config.PrewarmConfig)
}

func (m *MockConfig) Server() config.ServerConfig {
	args := m.Called()
	return args.Get(0).(config.ServerConfig)
}

// --- Setters ---

func (m *MockConfig) SetCacheCapacity(n int)     { m.Called(n) }
func (m *MockConfig) SetEngineConcurrency(n int) { m.Called(n) }
func (m *MockConfig) SetServerAddr(addr string)  { m.Called(addr) }

// -- Ledger Mock --

// MockLedger mocks store.Ledger.
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) RecordDecisions(ctx context.Context, records []store.DecisionRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockLedger) RecentDecisions(ctx context.Context, limit int) ([]store.DecisionRecord, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]store.DecisionRecord)
	return recs, args.Error(1)
}

func (m *MockLedger) SaveSnapshot(ctx context.Context, entries []predcache.Entry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockLedger) LoadSnapshot(ctx context.Context, limit int) ([]predcache.Entry, error) {
	args := m.Called(ctx, limit)
	entries, _ := args.Get(0).([]predcache.Entry)
	return entries, args.Error(1)
}

func (m *MockLedger) Close() error {
	args := m.Called()
	return args.Error(0)
}

// -- Prediction Cache Mock --

// MockPredictionCache mocks the lookup/write surface the engine depends on.
type MockPredictionCache struct {
	mock.Mock
}

func (m *MockPredictionCache) Lookup(fp schemas.Fingerprint, sk schemas.SimilarityKey, verify predcache.Verifier) predcache.Result {
	args := m.Called(fp, sk, verify)
	return args.Get(0).(predcache.Result)
}

func (m *MockPredictionCache) Write(fp schemas.Fingerprint, candidates []schemas.ScoredCandidate) error {
	args := m.Called(fp, candidates)
	return args.Error(0)
}

// -- Observer --

// RecordingObserver collects observations. It is safe for concurrent use.
type RecordingObserver struct {
	mu  sync.Mutex
	obs []schemas.Observation
}

func (r *RecordingObserver) Observe(o schemas.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, o)
}

// Observations returns a copy of what has been observed so far.
func (r *RecordingObserver) Observations() []schemas.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.Observation(nil), r.obs...)
}
