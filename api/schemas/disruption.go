package schemas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// -- Disruption Schemas --

// Category classifies a delivery disruption. The perception collaborator is
// responsible for assigning it; the core never infers it from free text.
type Category string

const (
	CategoryTraffic           Category = "traffic"
	CategoryWeather           Category = "weather"
	CategoryCustomerComplaint Category = "customer-complaint"
	CategoryVehicleFailure    Category = "vehicle-failure"
	CategoryMerchantDelay     Category = "merchant-delay"
	CategoryDriverIssue       Category = "driver-issue"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryTraffic,
		CategoryWeather,
		CategoryCustomerComplaint,
		CategoryVehicleFailure,
		CategoryMerchantDelay,
		CategoryDriverIssue,
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Severity bounds.
const (
	MinSeverity = 1
	MaxSeverity = 5
)

// Location describes where a disruption happened. It is carried for the
// downstream collaborators and is not part of the cache key.
type Location struct {
	Zone string  `json:"zone,omitempty" yaml:"zone,omitempty"`
	Lat  float64 `json:"lat,omitempty" yaml:"lat,omitempty"`
	Lng  float64 `json:"lng,omitempty" yaml:"lng,omitempty"`
}

// Percept is a single pre-normalized signal produced by the perception
// pipeline. Numeric percepts carry Value; categorical percepts carry Label.
type Percept struct {
	Value float64 `json:"value,omitempty" yaml:"value,omitempty"`
	Label string  `json:"label,omitempty" yaml:"label,omitempty"`
}

// Numeric builds a numeric percept.
func Numeric(v float64) Percept { return Percept{Value: v} }

// Categorical builds a categorical percept.
func Categorical(label string) Percept { return Percept{Label: label} }

// IsCategorical reports whether the percept carries a label instead of a number.
func (p Percept) IsCategorical() bool { return p.Label != "" }

// MarshalJSON writes numeric percepts as bare numbers and categorical
// percepts as bare strings, mirroring what the perception pipeline emits.
func (p Percept) MarshalJSON() ([]byte, error) {
	if p.IsCategorical() {
		return json.Marshal(p.Label)
	}
	return json.Marshal(p.Value)
}

// UnmarshalJSON accepts a number, a string, or the explicit object form.
func (p *Percept) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*p = Percept{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		// Numeric values sometimes arrive quoted.
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*p = Percept{Value: f}
			return nil
		}
		*p = Percept{Label: s}
		return nil
	case '{':
		type plain Percept
		var v plain
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*p = Percept(v)
		return nil
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("percept must be a number or a string: %w", err)
		}
		*p = Percept{Value: f}
		return nil
	}
}

// UnmarshalYAML mirrors UnmarshalJSON for forecast and fixture files.
func (p *Percept) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*p = Percept{}
	case int:
		*p = Percept{Value: float64(v)}
	case float64:
		*p = Percept{Value: v}
	case string:
		*p = Percept{Label: v}
	default:
		return fmt.Errorf("unsupported percept value %v", raw)
	}
	return nil
}

// DisruptionContext is the immutable description of one incoming disruption
// event. It is owned by the caller for the duration of a decision cycle.
type DisruptionContext struct {
	ID             string             `json:"id,omitempty" yaml:"id,omitempty"`
	Category       Category           `json:"category" yaml:"category"`
	Severity       int                `json:"severity" yaml:"severity"`
	AffectedOrders []string           `json:"affected_orders" yaml:"affected_orders"`
	Location       Location           `json:"location" yaml:"location"`
	Timestamp      time.Time          `json:"timestamp" yaml:"timestamp"`
	Percepts       map[string]Percept `json:"percepts,omitempty" yaml:"percepts,omitempty"`
	// OrderValue is the average value of an affected order. Zero means "use
	// the configured default".
	OrderValue float64 `json:"order_value,omitempty" yaml:"order_value,omitempty"`
	// CustomerValue is the annual value of an affected customer. Zero means
	// "use the configured default".
	CustomerValue float64 `json:"customer_value,omitempty" yaml:"customer_value,omitempty"`
	Description   string  `json:"description,omitempty" yaml:"description,omitempty"`
}

// OrderCount returns the number of distinct affected orders.
func (d DisruptionContext) OrderCount() int {
	return len(d.AffectedOrders)
}

// Normalized returns a copy with deduplicated, sorted order IDs and trimmed,
// lower-cased percept names. The receiver is not modified.
func (d DisruptionContext) Normalized() DisruptionContext {
	out := d
	out.Category = Category(strings.ToLower(strings.TrimSpace(string(d.Category))))

	seen := make(map[string]struct{}, len(d.AffectedOrders))
	orders := make([]string, 0, len(d.AffectedOrders))
	for _, id := range d.AffectedOrders {
		id = strings.TrimSpace(id)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		orders = append(orders, id)
	}
	sort.Strings(orders)
	out.AffectedOrders = orders

	if d.Percepts != nil {
		// Names that collide after normalization keep the value of the
		// lexically smallest raw name.
		raw := make([]string, 0, len(d.Percepts))
		for name := range d.Percepts {
			raw = append(raw, name)
		}
		sort.Strings(raw)

		percepts := make(map[string]Percept, len(d.Percepts))
		for _, name := range raw {
			norm := strings.ToLower(strings.TrimSpace(name))
			if _, dup := percepts[norm]; dup {
				continue
			}
			percepts[norm] = d.Percepts[name]
		}
		out.Percepts = percepts
	}
	return out
}

// Percept returns the numeric value of the named percept, or zero.
func (d DisruptionContext) Percept(name string) float64 {
	return d.Percepts[name].Value
}

// Label returns the label of the named categorical percept, or "".
func (d DisruptionContext) Label(name string) string {
	return d.Percepts[name].Label
}
