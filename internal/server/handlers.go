// File: internal/server/handlers.go
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/synapse-cli/api/schemas"
	"github.com/xkilldash9x/synapse-cli/internal/engine"
	"github.com/xkilldash9x/synapse-cli/internal/optimizer"
	"github.com/xkilldash9x/synapse-cli/internal/predcache"
	"github.com/xkilldash9x/synapse-cli/internal/service"
	"github.com/xkilldash9x/synapse-cli/internal/store"
	"github.com/xkilldash9x/synapse-cli/internal/templates"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxBodyBytes         = 1 << 20
	defaultDecisionLimit = 50
	maxDecisionLimit     = 1000
	topApproaches        = 5
)

// Response is the envelope of every JSON reply.
type Response struct {
	Status    string      `json:"status"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// DecideResponse is the payload of a successful decide call.
type DecideResponse struct {
	Decision   schemas.Decision `json:"decision"`
	AutoCommit bool             `json:"auto_commit"`
}

// StatsResponse aggregates the counters of the decision pipeline.
type StatsResponse struct {
	Engine         engine.Stats              `json:"engine"`
	Cache          predcache.Stats           `json:"cache"`
	HitRate        float64                   `json:"hit_rate"`
	Optimizer      optimizer.Stats           `json:"optimizer"`
	TopApproaches  []optimizer.ApproachStats `json:"top_approaches,omitempty"`
	DroppedRecords uint64                    `json:"dropped_records"`
}

// Handlers serves the decision API.
type Handlers struct {
	log           *zap.Logger
	components    *service.Components
	decider       Decider
	decideTimeout time.Duration
}

// NewHandlers creates a new Handlers instance. A non-positive timeout lets
// decide calls run to completion.
func NewHandlers(logger *zap.Logger, components *service.Components, decider Decider, decideTimeout time.Duration) *Handlers {
	return &Handlers{
		log:           logger.Named("handlers"),
		components:    components,
		decider:       decider,
		decideTimeout: decideTimeout,
	}
}

// RegisterRoutes sets up the API routes.
func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.HandleHealthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/decide", h.HandleDecide)
		r.Get("/stats", h.HandleStats)
		r.Get("/templates", h.HandleTemplates)
		r.Get("/decisions", h.HandleRecentDecisions)
	})
}

// HandleHealthCheck confirms the server is responsive.
func (h *Handlers) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type decideResult struct {
	decision schemas.Decision
	err      error
}

// HandleDecide runs one decision cycle. When the cycle outlives the decide
// timeout the caller gets a 504 and the result is discarded; the cycle itself
// still completes and populates the cache.
func (h *Handlers) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var dctx schemas.DisruptionContext
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&dctx); err != nil {
		h.respondWithError(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	results := make(chan decideResult, 1)
	go func() {
		d, err := h.decider.Decide(dctx)
		results <- decideResult{decision: d, err: err}
	}()

	var timeout <-chan time.Time
	if h.decideTimeout > 0 {
		timer := time.NewTimer(h.decideTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-results:
		if res.err != nil {
			h.respondWithError(w, r, statusFor(res.err), res.err.Error())
			return
		}
		h.respondWithSuccess(w, r, http.StatusOK, DecideResponse{
			Decision:   res.decision,
			AutoCommit: res.decision.AutoCommit(),
		})
	case <-timeout:
		h.log.Warn("Decision exceeded the response target; result discarded.",
			zap.Duration("timeout", h.decideTimeout),
			zap.String("request_id", middleware.GetReqID(r.Context())))
		h.respondWithError(w, r, http.StatusGatewayTimeout, "decision timed out")
	case <-r.Context().Done():
		h.log.Debug("Client went away before the decision completed.")
	}
}

// statusFor maps the core's error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, schemas.ErrInvalidContext):
		return http.StatusBadRequest
	case errors.Is(err, schemas.ErrUnhandledScenario):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// HandleStats reports engine, cache and optimizer counters.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	c := h.components
	var resp StatsResponse
	if c.Engine != nil {
		resp.Engine = c.Engine.Stats()
	}
	if c.Cache != nil {
		resp.Cache = c.Cache.Stats()
		resp.HitRate = resp.Cache.HitRate()
	}
	if c.Optimizer != nil {
		resp.Optimizer = c.Optimizer.Stats()
		resp.TopApproaches = c.Optimizer.TopApproaches(topApproaches)
	}
	resp.DroppedRecords = c.DroppedRecords()
	h.respondWithSuccess(w, r, http.StatusOK, resp)
}

// HandleTemplates lists the loaded catalog, optionally filtered by ?category=.
func (h *Handlers) HandleTemplates(w http.ResponseWriter, r *http.Request) {
	if h.components.Templates == nil {
		h.respondWithError(w, r, http.StatusServiceUnavailable, "template catalog not loaded")
		return
	}
	all := h.components.Templates.Templates()

	category := schemas.Category(r.URL.Query().Get("category"))
	if category == "" {
		h.respondWithSuccess(w, r, http.StatusOK, all)
		return
	}
	if !category.Valid() {
		h.respondWithError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown category %q", category))
		return
	}
	filtered := make([]templates.Template, 0, len(all))
	for _, t := range all {
		if t.Category == category {
			filtered = append(filtered, t)
		}
	}
	h.respondWithSuccess(w, r, http.StatusOK, filtered)
}

// HandleRecentDecisions returns the newest ledger records, ?limit= bounded.
func (h *Handlers) HandleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	if h.components.Ledger == nil {
		h.respondWithError(w, r, http.StatusServiceUnavailable, "no decision ledger configured")
		return
	}

	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondWithError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	if limit > maxDecisionLimit {
		limit = maxDecisionLimit
	}

	records, err := h.components.Ledger.RecentDecisions(r.Context(), limit)
	if err != nil {
		h.log.Error("Failed to read recent decisions", zap.Error(err))
		h.respondWithError(w, r, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	if records == nil {
		records = []store.DecisionRecord{}
	}
	h.respondWithSuccess(w, r, http.StatusOK, records)
}

// -- Responses --

func (h *Handlers) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	h.respond(w, r, statusCode, Response{Status: "error", Error: message})
}

func (h *Handlers) respondWithSuccess(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	h.respond(w, r, statusCode, Response{Status: "success", Data: data})
}

func (h *Handlers) respond(w http.ResponseWriter, r *http.Request, statusCode int, resp Response) {
	resp.RequestID = middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", zap.Error(err))
	}
}
