package templates

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"gopkg.in/yaml.v3"
)

//go:embed catalog/default.yaml
var defaultCatalog []byte

// Parameter is a binding rule for one tunable value of a template:
// value = Base + PerSeverity*severity + OrderValueRatio*orderValue, clamped
// to [Min, Max]. A non-positive Max leaves the value unbounded above.
type Parameter struct {
	Name            string  `yaml:"name" json:"name"`
	Base            float64 `yaml:"base" json:"base"`
	PerSeverity     float64 `yaml:"per_severity" json:"per_severity"`
	OrderValueRatio float64 `yaml:"order_value_ratio" json:"order_value_ratio"`
	Min             float64 `yaml:"min" json:"min"`
	Max             float64 `yaml:"max" json:"max"`
	// Amount marks monetary exposure (refunds, credits) counted as binding risk.
	Amount bool `yaml:"amount" json:"amount"`
}

// Bind evaluates the parameter for a severity and an average order value.
func (p Parameter) Bind(severity int, orderValue float64) float64 {
	v := p.Base + p.PerSeverity*float64(severity) + p.OrderValueRatio*orderValue
	if v < p.Min {
		v = p.Min
	}
	if p.Max > 0 && v > p.Max {
		v = p.Max
	}
	return v
}

// ActionSpec describes one step of a template and its cost model.
type ActionSpec struct {
	Type        string  `yaml:"type" json:"type"`
	Description string  `yaml:"description" json:"description,omitempty"`
	Cost        float64 `yaml:"cost" json:"cost"`
	// PerOrder scales the cost (and the bound parameter) by the affected-order count.
	PerOrder bool `yaml:"per_order" json:"per_order"`
	// Parameter names a bound parameter whose value is added to the cost.
	Parameter string `yaml:"parameter" json:"parameter,omitempty"`
	// Retention is the fraction of annual customer value the action retains.
	Retention float64 `yaml:"retention" json:"retention"`
	// Penalty is the SLA penalty avoided per affected order.
	Penalty float64 `yaml:"penalty" json:"penalty"`
}

// Template is one entry of the catalog.
type Template struct {
	ID          string           `yaml:"id" json:"id"`
	Category    schemas.Category `yaml:"category" json:"category"`
	Approach    string           `yaml:"approach" json:"approach"`
	Description string           `yaml:"description" json:"description,omitempty"`
	// When is an expr predicate evaluated against the context. Empty means always.
	When       string       `yaml:"when" json:"when,omitempty"`
	FixedCost  float64      `yaml:"fixed_cost" json:"fixed_cost"`
	Parameters []Parameter  `yaml:"parameters" json:"parameters,omitempty"`
	Actions    []ActionSpec `yaml:"actions" json:"actions"`
}

// Catalog is the on-disk layout of a template file.
type Catalog struct {
	Version   int        `yaml:"version" json:"version"`
	Templates []Template `yaml:"templates" json:"templates"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() (Catalog, error) {
	return ParseCatalog(bytes.NewReader(defaultCatalog))
}

// ParseCatalog decodes and structurally validates a YAML catalog. Unknown
// keys are rejected so typos surface at load time.
func ParseCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("failed to decode template catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// LoadCatalogFile reads a catalog from disk.
func LoadCatalogFile(path string) (Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("failed to open template catalog %s: %w", path, err)
	}
	defer f.Close()
	return ParseCatalog(f)
}

// Validate checks ids, categories, parameter references and clamps.
func (c Catalog) Validate() error {
	if len(c.Templates) == 0 {
		return fmt.Errorf("template catalog is empty")
	}
	seen := make(map[string]struct{}, len(c.Templates))
	for i, t := range c.Templates {
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("template at index %d has no id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate template id %q", t.ID)
		}
		seen[t.ID] = struct{}{}

		if !t.Category.Valid() {
			return fmt.Errorf("template %q: unknown category %q", t.ID, t.Category)
		}
		if len(t.Actions) == 0 {
			return fmt.Errorf("template %q: at least one action is required", t.ID)
		}
		if t.FixedCost < 0 {
			return fmt.Errorf("template %q: fixed_cost must not be negative", t.ID)
		}

		params := make(map[string]struct{}, len(t.Parameters))
		for _, p := range t.Parameters {
			if p.Name == "" {
				return fmt.Errorf("template %q: parameter without a name", t.ID)
			}
			if _, dup := params[p.Name]; dup {
				return fmt.Errorf("template %q: duplicate parameter %q", t.ID, p.Name)
			}
			if p.Max > 0 && p.Max < p.Min {
				return fmt.Errorf("template %q: parameter %q has max < min", t.ID, p.Name)
			}
			params[p.Name] = struct{}{}
		}

		for _, a := range t.Actions {
			if a.Type == "" {
				return fmt.Errorf("template %q: action without a type", t.ID)
			}
			if a.Cost < 0 || a.Retention < 0 || a.Penalty < 0 {
				return fmt.Errorf("template %q: action %q has a negative cost, retention or penalty", t.ID, a.Type)
			}
			if a.Parameter != "" {
				if _, ok := params[a.Parameter]; !ok {
					return fmt.Errorf("template %q: action %q references unknown parameter %q", t.ID, a.Type, a.Parameter)
				}
			}
		}
	}
	return nil
}
