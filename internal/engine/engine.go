// internal/engine/engine.go
package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/config"
	"github.com/xkilldash9x/synapse-cli/internal/selector"
)

// Components are the collaborators of an Engine.
type Components struct {
	Fingerprinter Fingerprinter
	Cache         PredictionCache
	Templates     TemplateStore
	Optimizer     Ranker
	Selector      DecisionSelector
	// Observer is optional.
	Observer Observer
}

// writeBack is one queued cache update. A non-nil barrier marks a Sync point.
type writeBack struct {
	fp         schemas.Fingerprint
	candidates []schemas.ScoredCandidate
	barrier    chan struct{}
}

// Engine runs decision cycles. Decide never blocks on the cache write-back;
// updates are queued and applied by a single worker goroutine.
type Engine struct {
	logger     *zap.Logger
	fp         Fingerprinter
	cache      PredictionCache
	templates  TemplateStore
	optimizer  Ranker
	selector   DecisionSelector
	observer   Observer
	now        func() time.Time
	group      singleflight.Group
	queue      chan writeBack
	workerDone chan struct{}

	// stateLock guards closed and the queue channel against send-after-close.
	stateLock sync.RWMutex
	closed    bool

	decisions         atomic.Uint64
	failures          atomic.Uint64
	unhandled         atomic.Uint64
	coalesced         atomic.Uint64
	writeBacks        atomic.Uint64
	writeBackFailures atomic.Uint64
}

// New validates the components and starts the write-back worker. Callers must
// Close the engine to stop it.
func New(cfg config.EngineConfig, logger *zap.Logger, c Components) (*Engine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if c.Fingerprinter == nil {
		return nil, errors.New("fingerprinter cannot be nil")
	}
	if c.Cache == nil {
		return nil, errors.New("prediction cache cannot be nil")
	}
	if c.Templates == nil {
		return nil, errors.New("template store cannot be nil")
	}
	if c.Optimizer == nil {
		return nil, errors.New("optimizer cannot be nil")
	}
	if c.Selector == nil {
		return nil, errors.New("selector cannot be nil")
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}

	size := cfg.WriteBackQueueSize
	if size <= 0 {
		size = 256
	}

	e := &Engine{
		logger:     logger.Named("engine"),
		fp:         c.Fingerprinter,
		cache:      c.Cache,
		templates:  c.Templates,
		optimizer:  c.Optimizer,
		selector:   c.Selector,
		observer:   c.Observer,
		now:        time.Now,
		queue:      make(chan writeBack, size),
		workerDone: make(chan struct{}),
	}
	go e.runWriteBack()
	return e, nil
}

// -- Decision Cycle --

// Decide runs one decision cycle. It fails only with an error matching
// schemas.ErrInvalidContext or schemas.ErrUnhandledScenario.
func (e *Engine) Decide(ctx schemas.DisruptionContext) (schemas.Decision, error) {
	start := e.now()
	obs := schemas.Observation{Category: ctx.Category, Match: schemas.MatchMiss}
	defer func() {
		obs.Latency = e.now().Sub(start)
		e.observer.Observe(obs)
	}()

	d, err := e.decide(ctx, &obs)
	if err != nil {
		obs.Err = err
		e.failures.Add(1)
		return schemas.Decision{}, err
	}
	e.decisions.Add(1)
	obs.TemplateID = d.Winner.TemplateID
	obs.Score = d.Winner.Score
	obs.ROI = d.ProjectedROI
	obs.LowConfidence = d.LowConfidence
	return d, nil
}

func (e *Engine) decide(raw schemas.DisruptionContext, obs *schemas.Observation) (schemas.Decision, error) {
	ctx := raw.Normalized()
	if err := ctx.Validate(); err != nil {
		return schemas.Decision{}, err
	}
	obs.Category = ctx.Category

	fp := e.fp.Fingerprint(ctx)
	obs.Fingerprint = fp.Digest

	res := e.cache.Lookup(fp, fp.Similarity, e.verifier(ctx))
	obs.Match = res.Match

	var candidates []schemas.CandidateSolution
	if res.Hit() {
		// Cached costs were computed for another order count or order value.
		candidates = e.templates.Reprice(solutions(res.Candidates), ctx)
		if len(candidates) == 0 {
			e.logger.Debug("Cached candidates no longer apply; synthesizing.", zap.String("fingerprint", fp.Digest))
			res.Match, res.Distance = schemas.MatchMiss, 0
			obs.Match = res.Match
		}
	}
	if !res.Hit() {
		candidates = e.synthesize(fp.Digest, ctx)
	}
	if len(candidates) == 0 {
		e.unhandled.Add(1)
		return schemas.Decision{}, fmt.Errorf("%w: no cached entry and no applicable template for %s severity %d",
			schemas.ErrUnhandledScenario, ctx.Category, ctx.Severity)
	}

	ranked, err := e.optimizer.Rank(candidates, ctx)
	if err != nil {
		// Unreachable with a non-empty candidate list.
		return schemas.Decision{}, fmt.Errorf("%w: %v", schemas.ErrUnhandledScenario, err)
	}

	d, err := e.selector.Select(ranked, selector.Meta{
		Fingerprint: fp.Digest,
		Match:       res.Match,
		Distance:    res.Distance,
		HorizonDays: e.optimizer.Horizon(),
	})
	if err != nil {
		return schemas.Decision{}, fmt.Errorf("%w: %v", schemas.ErrUnhandledScenario, err)
	}

	e.optimizer.Record(ctx, d.Winner)
	e.enqueue(fp, ranked)
	return d, nil
}

// verifier accepts a cached set only if every candidate's template still
// applies to ctx.
func (e *Engine) verifier(ctx schemas.DisruptionContext) func([]schemas.ScoredCandidate) bool {
	return func(cands []schemas.ScoredCandidate) bool {
		for _, c := range cands {
			if !e.templates.Applicable(c.TemplateID, ctx) {
				return false
			}
		}
		return len(cands) > 0
	}
}

// synthesize coalesces concurrent misses of the same digest into one call.
func (e *Engine) synthesize(digest string, ctx schemas.DisruptionContext) []schemas.CandidateSolution {
	var ran bool
	v, _, shared := e.group.Do(digest, func() (interface{}, error) {
		ran = true
		return e.templates.Synthesize(ctx), nil
	})
	// The caller that ran the synthesis is also told the result was shared.
	if shared && !ran {
		e.coalesced.Add(1)
	}
	cands, _ := v.([]schemas.CandidateSolution)
	return cloneSolutions(cands)
}

// Prewarm synthesizes, ranks and writes the candidates of ctx synchronously,
// without producing a decision.
func (e *Engine) Prewarm(raw schemas.DisruptionContext) error {
	ctx := raw.Normalized()
	if err := ctx.Validate(); err != nil {
		return err
	}
	fp := e.fp.Fingerprint(ctx)

	candidates := e.synthesize(fp.Digest, ctx)
	if len(candidates) == 0 {
		return fmt.Errorf("%w: no applicable template for %s severity %d",
			schemas.ErrUnhandledScenario, ctx.Category, ctx.Severity)
	}
	ranked, err := e.optimizer.Rank(candidates, ctx)
	if err != nil {
		return err
	}
	if err := e.cache.Write(fp, ranked); err != nil {
		return fmt.Errorf("failed to write prewarmed entry: %w", err)
	}
	return nil
}

// -- Batch --

// Outcome is the result of one context in a batch.
type Outcome struct {
	Decision schemas.Decision
	Err      error
}

// DecideAll decides every context with at most concurrency cycles in flight.
// Outcomes are returned in input order; one failure does not stop the rest.
func (e *Engine) DecideAll(ctxs []schemas.DisruptionContext, concurrency int) []Outcome {
	if concurrency <= 0 {
		concurrency = 1
	}
	out := make([]Outcome, len(ctxs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range ctxs {
		i := i
		g.Go(func() error {
			d, err := e.Decide(ctxs[i])
			out[i] = Outcome{Decision: d, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// -- Write-back --

func (e *Engine) enqueue(fp schemas.Fingerprint, ranked []schemas.ScoredCandidate) {
	e.stateLock.RLock()
	defer e.stateLock.RUnlock()

	if e.closed {
		e.writeBackFailures.Add(1)
		e.logger.Debug("Write-back dropped; engine is closed.", zap.String("fingerprint", fp.Digest))
		return
	}

	select {
	case e.queue <- writeBack{fp: fp, candidates: ranked}:
	default:
		e.writeBackFailures.Add(1)
		e.logger.Warn("Write-back queue full; dropping cache update.", zap.String("fingerprint", fp.Digest))
	}
}

// runWriteBack drains the queue until it is closed.
func (e *Engine) runWriteBack() {
	defer close(e.workerDone)
	for wb := range e.queue {
		if wb.barrier != nil {
			close(wb.barrier)
			continue
		}
		if err := e.cache.Write(wb.fp, wb.candidates); err != nil {
			e.writeBackFailures.Add(1)
			e.logger.Warn("Cache write-back failed.", zap.String("fingerprint", wb.fp.Digest), zap.Error(err))
			continue
		}
		e.writeBacks.Add(1)
	}
}

// Sync blocks until every write-back queued before the call has been applied.
func (e *Engine) Sync() {
	e.stateLock.RLock()
	if e.closed {
		e.stateLock.RUnlock()
		return
	}
	barrier := make(chan struct{})
	e.queue <- writeBack{barrier: barrier}
	e.stateLock.RUnlock()
	<-barrier
}

// Close drains pending write-backs and stops the worker. It is safe to call
// more than once.
func (e *Engine) Close() error {
	e.stateLock.Lock()
	if e.closed {
		e.stateLock.Unlock()
		<-e.workerDone
		return nil
	}
	e.closed = true
	close(e.queue)
	e.stateLock.Unlock()

	<-e.workerDone
	e.logger.Debug("Engine stopped.", zap.Uint64("write_backs", e.writeBacks.Load()))
	return nil
}

// -- Stats --

// Stats are the engine counters.
type Stats struct {
	Decisions         uint64 `json:"decisions"`
	Failures          uint64 `json:"failures"`
	Unhandled         uint64 `json:"unhandled"`
	Coalesced         uint64 `json:"coalesced"`
	WriteBacks        uint64 `json:"write_backs"`
	WriteBackFailures uint64 `json:"write_back_failures"`
}

// Stats returns a snapshot of the counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Decisions:         e.decisions.Load(),
		Failures:          e.failures.Load(),
		Unhandled:         e.unhandled.Load(),
		Coalesced:         e.coalesced.Load(),
		WriteBacks:        e.writeBacks.Load(),
		WriteBackFailures: e.writeBackFailures.Load(),
	}
}

// WriteBackFailures returns how many cache updates were dropped or rejected.
func (e *Engine) WriteBackFailures() uint64 { return e.writeBackFailures.Load() }

// -- Helpers --

func solutions(scored []schemas.ScoredCandidate) []schemas.CandidateSolution {
	out := make([]schemas.CandidateSolution, len(scored))
	for i, s := range scored {
		out[i] = s.CandidateSolution
	}
	return out
}

func cloneSolutions(in []schemas.CandidateSolution) []schemas.CandidateSolution {
	if in == nil {
		return nil
	}
	out := make([]schemas.CandidateSolution, len(in))
	for i, c := range in {
		out[i] = c
		if c.Actions != nil {
			out[i].Actions = append([]schemas.Action(nil), c.Actions...)
		}
		if c.Parameters != nil {
			params := make(map[string]float64, len(c.Parameters))
			for k, v := range c.Parameters {
				params[k] = v
			}
			out[i].Parameters = params
		}
	}
	return out
}
