package schemas

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// -- Error Taxonomy --

var (
	// ErrInvalidContext marks malformed input. Such contexts are rejected
	// before fingerprinting and never reach the cache.
	ErrInvalidContext = errors.New("invalid disruption context")

	// ErrUnhandledScenario means no cache entry and no template applies. The
	// caller is expected to escalate, not retry.
	ErrUnhandledScenario = errors.New("unhandled scenario")
)

// ValidationError describes which field made a context invalid.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidContext.Error(), e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidContext) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidContext
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the required fields of a context at the boundary. All
// computation past this point assumes a well-formed context.
func (d DisruptionContext) Validate() error {
	if !d.Category.Valid() {
		return invalid("category", "unknown category %q", d.Category)
	}
	if d.Severity < MinSeverity || d.Severity > MaxSeverity {
		return invalid("severity", "must be between %d and %d, got %d", MinSeverity, MaxSeverity, d.Severity)
	}
	if len(d.AffectedOrders) == 0 {
		return invalid("affected_orders", "at least one order is required")
	}
	for i, id := range d.AffectedOrders {
		if strings.TrimSpace(id) == "" {
			return invalid("affected_orders", "order at index %d has an empty id", i)
		}
	}
	if d.Timestamp.IsZero() {
		return invalid("timestamp", "is required")
	}
	for name, p := range d.Percepts {
		if strings.TrimSpace(name) == "" {
			return invalid("percepts", "percept name must not be empty")
		}
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return invalid("percepts", "percept %q is not a finite number", name)
		}
	}
	if d.OrderValue < 0 || math.IsNaN(d.OrderValue) || math.IsInf(d.OrderValue, 0) {
		return invalid("order_value", "must be a finite, non-negative amount")
	}
	if d.CustomerValue < 0 || math.IsNaN(d.CustomerValue) || math.IsInf(d.CustomerValue, 0) {
		return invalid("customer_value", "must be a finite, non-negative amount")
	}
	return nil
}
