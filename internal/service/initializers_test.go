package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/mocks"
	"github.com/xkilldash9x/synapse-cli/internal/store"
)

func record(id string) store.DecisionRecord {
	return store.DecisionRecord{ID: id}
}

func TestDrainChannel(t *testing.T) {
	ch := make(chan store.DecisionRecord, 3)
	ch <- record("1")
	ch <- record("2")
	close(ch)

	var batch []store.DecisionRecord
	drainChannel(ch, &batch)

	require.Len(t, batch, 2)
	assert.Equal(t, "1", batch[0].ID)
	assert.Equal(t, "2", batch[1].ID)
}

func TestStartDecisionRecorder(t *testing.T) {
	logger := zap.NewNop()

	t.Run("BatchProcessing", func(t *testing.T) {
		ledger := new(mocks.MockLedger)
		var mu sync.Mutex
		var sizes []int
		ledger.On("RecordDecisions", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			sizes = append(sizes, len(args.Get(1).([]store.DecisionRecord)))
		}).Return(nil)

		records := make(chan store.DecisionRecord, 100)
		wg := &sync.WaitGroup{}
		StartDecisionRecorder(context.Background(), wg, records, ledger, logger)

		for i := 0; i < recordBatchSize+5; i++ {
			records <- record("r")
		}
		close(records)
		wg.Wait()

		mu.Lock()
		defer mu.Unlock()
		total := 0
		for _, n := range sizes {
			assert.LessOrEqual(t, n, recordBatchSize)
			total += n
		}
		assert.Equal(t, recordBatchSize+5, total)
	})

	t.Run("ContextCancelDrains", func(t *testing.T) {
		ledger := new(mocks.MockLedger)
		ledger.On("RecordDecisions", mock.Anything, mock.MatchedBy(func(recs []store.DecisionRecord) bool {
			return len(recs) == 3
		})).Return(nil).Once()

		records := make(chan store.DecisionRecord, 10)
		for i := 0; i < 3; i++ {
			records <- record("r")
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		wg := &sync.WaitGroup{}
		StartDecisionRecorder(ctx, wg, records, ledger, logger)
		wg.Wait()

		ledger.AssertExpectations(t)
	})

	t.Run("PersistErrorIsLogged", func(t *testing.T) {
		ledger := new(mocks.MockLedger)
		ledger.On("RecordDecisions", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		records := make(chan store.DecisionRecord, 1)
		records <- record("r")
		close(records)

		wg := &sync.WaitGroup{}
		StartDecisionRecorder(context.Background(), wg, records, ledger, logger)
		assert.True(t, timedWait(wg, time.Second))
		ledger.AssertNumberOfCalls(t, "RecordDecisions", 1)
	})
}

func TestInitializeLedger(t *testing.T) {
	ctx := context.Background()

	t.Run("no url means no ledger", func(t *testing.T) {
		l, err := InitializeLedger(ctx, config.DatabaseConfig{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.Nil(t, l)
	})

	t.Run("sqlite url", func(t *testing.T) {
		l, err := InitializeLedger(ctx, config.DatabaseConfig{URL: "sqlite://" + t.TempDir() + "/l.db"}, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, l)
		assert.NoError(t, l.Close())
	})

	t.Run("unsupported url", func(t *testing.T) {
		_, err := InitializeLedger(ctx, config.DatabaseConfig{URL: "redis://localhost"}, zaptest.NewLogger(t))
		assert.ErrorIs(t, err, store.ErrUnsupportedURL)
	})

	t.Run("bad postgres url", func(t *testing.T) {
		_, err := ConnectPostgres(ctx, "postgres://%zz")
		assert.Error(t, err)
	})
}
