package mocks

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
	"github.com/xkilldash9x/synapse-cli/internal/store"
)

// Compile-time interface checks.
var (
	_ config.Interface = (*MockConfig)(nil)
	_ store.Ledger     = (*MockLedger)(nil)
)

func TestMockLedger_NilResults(t *testing.T) {
	m := new(MockLedger)
	m.On("LoadSnapshot", mock.Anything, 5).Return(nil, errors.New("offline"))

	entries, err := m.LoadSnapshot(context.Background(), 5)
	assert.Nil(t, entries)
	assert.EqualError(t, err, "offline")
	m.AssertExpectations(t)
}

func TestMockPredictionCache(t *testing.T) {
	m := new(MockPredictionCache)
	fp := schemas.Fingerprint{Digest: "d"}
	m.On("Lookup", fp, schemas.SimilarityKey("traffic/low"), mock.Anything).Return(predcache.Result{Match: schemas.MatchMiss})
	m.On("Write", fp, mock.Anything).Return(nil)

	res := m.Lookup(fp, "traffic/low", nil)
	assert.False(t, res.Hit())
	require.NoError(t, m.Write(fp, nil))
	m.AssertExpectations(t)
}

func TestRecordingObserver_Concurrent(t *testing.T) {
	var r RecordingObserver
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Observe(schemas.Observation{Match: schemas.MatchMiss})
		}()
	}
	wg.Wait()
	assert.Len(t, r.Observations(), 20)
}
