// Package templates holds the solution template catalog and turns templates
// into priced candidate solutions for a disruption context.
package templates

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"go.uber.org/zap"
)

// Options are the projection inputs shared with the optimizer.
type Options struct {
	HorizonDays         int
	DefaultOrderValue   float64
	CustomerAnnualValue float64
}

// OptionsFromConfig extracts the projection inputs from optimizer configuration.
func OptionsFromConfig(cfg config.OptimizerConfig) Options {
	return Options{
		HorizonDays:         cfg.HorizonDays,
		DefaultOrderValue:   cfg.DefaultOrderValue,
		CustomerAnnualValue: cfg.CustomerAnnualValue,
	}
}

// predicateEnv is what a template's `when` expression sees.
type predicateEnv struct {
	Category      string  `expr:"category"`
	Severity      int     `expr:"severity"`
	Orders        int     `expr:"orders"`
	OrderValue    float64 `expr:"order_value"`
	CustomerValue float64 `expr:"customer_value"`
	Zone          string  `expr:"zone"`
	Hour          int     `expr:"hour"`

	percepts map[string]schemas.Percept
}

// Percept returns a numeric percept, zero when absent.
func (e predicateEnv) Percept(name string) float64 { return e.percepts[name].Value }

// Label returns a categorical percept, "" when absent.
func (e predicateEnv) Label(name string) string { return e.percepts[name].Label }

// Has reports whether the context carries the named percept.
func (e predicateEnv) Has(name string) bool {
	_, ok := e.percepts[name]
	return ok
}

type compiled struct {
	Template
	program *vm.Program
}

// Store is the loaded, immutable template catalog.
type Store struct {
	logger     *zap.Logger
	opts       Options
	templates  []*compiled
	byID       map[string]*compiled
	byCategory map[schemas.Category][]*compiled
}

// New compiles every predicate of the catalog. A predicate that fails to
// compile rejects the whole catalog.
func New(catalog Catalog, opts Options, logger *zap.Logger) (*Store, error) {
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	if opts.HorizonDays <= 0 {
		return nil, fmt.Errorf("horizon days must be positive, got %d", opts.HorizonDays)
	}

	s := &Store{
		logger:     logger.Named("templates"),
		opts:       opts,
		byID:       make(map[string]*compiled, len(catalog.Templates)),
		byCategory: make(map[schemas.Category][]*compiled),
	}

	for _, t := range catalog.Templates {
		c := &compiled{Template: t}
		if t.When != "" {
			program, err := expr.Compile(t.When, expr.Env(predicateEnv{}), expr.AsBool())
			if err != nil {
				return nil, fmt.Errorf("template %q: failed to compile predicate: %w", t.ID, err)
			}
			c.program = program
		}
		s.templates = append(s.templates, c)
		s.byID[t.ID] = c
		s.byCategory[t.Category] = append(s.byCategory[t.Category], c)
	}

	s.logger.Debug("Template catalog loaded.",
		zap.Int("templates", len(s.templates)),
		zap.Int("categories", len(s.byCategory)))
	return s, nil
}

// NewFromConfig loads the catalog named by the configuration, or the built-in
// one when no path is set.
func NewFromConfig(tcfg config.TemplatesConfig, ocfg config.OptimizerConfig, logger *zap.Logger) (*Store, error) {
	var (
		catalog Catalog
		err     error
	)
	if tcfg.CatalogPath != "" {
		catalog, err = LoadCatalogFile(tcfg.CatalogPath)
	} else {
		catalog, err = DefaultCatalog()
	}
	if err != nil {
		return nil, err
	}
	return New(catalog, OptionsFromConfig(ocfg), logger)
}

// Synthesize returns one priced candidate per applicable template of the
// context's category, in catalog order. An empty result means the scenario is
// unhandled; it is not an error.
func (s *Store) Synthesize(ctx schemas.DisruptionContext) []schemas.CandidateSolution {
	env := s.env(ctx)
	var out []schemas.CandidateSolution
	for _, t := range s.byCategory[ctx.Category] {
		if !s.matches(t, env) {
			continue
		}
		out = append(out, s.price(t, ctx))
	}
	return out
}

// Applicable re-checks a single template against a context. Unknown ids and
// templates of another category are never applicable.
func (s *Store) Applicable(templateID string, ctx schemas.DisruptionContext) bool {
	t, ok := s.byID[templateID]
	if !ok || t.Category != ctx.Category {
		return false
	}
	return s.matches(t, s.env(ctx))
}

// Reprice re-binds and re-prices cached candidates for ctx, keeping their
// order. Candidates whose template is unknown or no longer applies are
// dropped; an empty result means the cached set cannot serve ctx.
func (s *Store) Reprice(cands []schemas.CandidateSolution, ctx schemas.DisruptionContext) []schemas.CandidateSolution {
	env := s.env(ctx)
	out := make([]schemas.CandidateSolution, 0, len(cands))
	for _, c := range cands {
		t, ok := s.byID[c.TemplateID]
		if !ok || t.Category != ctx.Category || !s.matches(t, env) {
			continue
		}
		out = append(out, s.price(t, ctx))
	}
	return out
}

// Templates returns a copy of the catalog in load order.
func (s *Store) Templates() []Template {
	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Template)
	}
	return out
}

// Template looks up a template by id.
func (s *Store) Template(id string) (Template, bool) {
	t, ok := s.byID[id]
	if !ok {
		return Template{}, false
	}
	return t.Template, true
}

// Categories lists the categories that have at least one template.
func (s *Store) Categories() []schemas.Category {
	var out []schemas.Category
	for _, c := range schemas.Categories() {
		if len(s.byCategory[c]) > 0 {
			out = append(out, c)
		}
	}
	return out
}

// HorizonDays is the ROI horizon the retained values are projected over.
func (s *Store) HorizonDays() int { return s.opts.HorizonDays }

func (s *Store) env(ctx schemas.DisruptionContext) predicateEnv {
	return predicateEnv{
		Category:      string(ctx.Category),
		Severity:      ctx.Severity,
		Orders:        ctx.OrderCount(),
		OrderValue:    s.orderValue(ctx),
		CustomerValue: s.customerValue(ctx),
		Zone:          ctx.Location.Zone,
		Hour:          ctx.Timestamp.Hour(),
		percepts:      ctx.Percepts,
	}
}

// matches evaluates the predicate. Runtime errors count as "not applicable".
func (s *Store) matches(t *compiled, env predicateEnv) bool {
	if t.program == nil {
		return true
	}
	out, err := expr.Run(t.program, env)
	if err != nil {
		s.logger.Debug("Template predicate failed; treating as not applicable.",
			zap.String("template_id", t.ID), zap.Error(err))
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (s *Store) orderValue(ctx schemas.DisruptionContext) float64 {
	if ctx.OrderValue > 0 {
		return ctx.OrderValue
	}
	return s.opts.DefaultOrderValue
}

func (s *Store) customerValue(ctx schemas.DisruptionContext) float64 {
	if ctx.CustomerValue > 0 {
		return ctx.CustomerValue
	}
	return s.opts.CustomerAnnualValue
}

// price binds parameters and runs the cost model of one template.
func (s *Store) price(t *compiled, ctx schemas.DisruptionContext) schemas.CandidateSolution {
	orders := float64(ctx.OrderCount())
	severityFactor := float64(ctx.Severity) / float64(schemas.MaxSeverity)
	orderValue := s.orderValue(ctx)
	// Customer value retained per unit of retention over the horizon.
	retentionUnit := s.customerValue(ctx) * float64(s.opts.HorizonDays) / 365 * orders * severityFactor

	params := make(map[string]float64, len(t.Parameters))
	var risk float64
	for _, p := range t.Parameters {
		v := p.Bind(ctx.Severity, orderValue)
		params[p.Name] = v
		if p.Amount {
			risk += v
		}
	}

	cand := schemas.CandidateSolution{
		TemplateID:    t.ID,
		Approach:      t.Approach,
		Actions:       make([]schemas.Action, 0, len(t.Actions)),
		ImmediateCost: t.FixedCost,
		BindingRisk:   risk,
	}
	if len(params) > 0 {
		cand.Parameters = params
	}

	for _, a := range t.Actions {
		cost := a.Cost
		if a.Parameter != "" {
			cost += params[a.Parameter]
		}
		if a.PerOrder {
			cost *= orders
		}
		cand.ImmediateCost += cost
		cand.RetainedValue += a.Retention * retentionUnit
		cand.PenaltyAvoided += a.Penalty * orders * severityFactor
		cand.Actions = append(cand.Actions, schemas.Action{
			Type:        a.Type,
			Description: a.Description,
			Cost:        cost,
		})
	}

	cand.ImmediateCost = round(cand.ImmediateCost)
	cand.RetainedValue = round(cand.RetainedValue)
	cand.PenaltyAvoided = round(cand.PenaltyAvoided)
	cand.BindingRisk = round(cand.BindingRisk)
	return cand
}

// round trims float noise to six decimals.
func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
