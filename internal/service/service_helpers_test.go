package service

import (
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/observability"
)

func TestMain(m *testing.M) {
	cfg := config.NewDefaultConfig()
	cfg.LoggerCfg.Level = "error"
	observability.Initialize(cfg.Logger(), os.Stderr)

	goleak.VerifyTestMain(m)
}

func trafficContext(severity, orders int) schemas.DisruptionContext {
	ids := make([]string, orders)
	for i := range ids {
		ids[i] = "order-" + string(rune('a'+i))
	}
	return schemas.DisruptionContext{
		ID:             "evt-1",
		Category:       schemas.CategoryTraffic,
		Severity:       severity,
		AffectedOrders: ids,
		Timestamp:      time.Date(2026, 5, 4, 8, 15, 0, 0, time.UTC),
		Percepts:       map[string]schemas.Percept{"congestion": schemas.Numeric(0.8)},
	}
}
