package schemas_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
)

// -- Test Helpers --

// getTestTime provides a fixed, reproducible timestamp for consistent test results.
func getTestTime(t *testing.T) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, "2026-05-04T08:15:00.123456789Z")
	require.NoError(t, err, "Test setup failed: unable to parse fixed timestamp")
	return ts
}

// validContext returns a context that passes validation.
func validContext(t *testing.T) schemas.DisruptionContext {
	return schemas.DisruptionContext{
		ID:             "evt-42",
		Category:       schemas.CategoryTraffic,
		Severity:       4,
		AffectedOrders: []string{"o-2", "o-1", "o-3"},
		Location:       schemas.Location{Zone: "downtown"},
		Timestamp:      getTestTime(t),
		Percepts: map[string]schemas.Percept{
			"congestion": schemas.Numeric(0.8),
			"weather":    schemas.Categorical("rain"),
		},
	}
}
