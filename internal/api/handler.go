package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/nuka-reason/internal/provider"
	"github.com/nidhogg/nuka-reason/internal/reasoning"
	"github.com/nidhogg/nuka-reason/internal/telemetry"
	"go.uber.org/zap"
)

// Generator binds prompts to generation callbacks.
type Generator interface {
	Func(route string, prompt provider.Prompt, schema *reasoning.Schema) reasoning.GenerateFunc
}

// Authorizer decides whether a request may run the named task. Decisions
// are made elsewhere; the handler binds them into each task.
type Authorizer func(r *http.Request, taskName string) error

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	exec           *reasoning.Executor
	dual           *reasoning.DualPathReasoner
	gen            Generator
	routeA         string
	routeB         string
	authorize      Authorizer
	metrics        http.Handler
	allowedOrigins []string
	logger         *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithRoutes sets the provider routes used for single-path and path A
// requests, and for path B requests.
func WithRoutes(a, b string) Option {
	return func(h *Handler) { h.routeA, h.routeB = a, b }
}

// WithAuthorizer installs an authorization capability.
func WithAuthorizer(a Authorizer) Option {
	return func(h *Handler) { h.authorize = a }
}

// WithMetrics mounts a metrics handler at /metrics.
func WithMetrics(m http.Handler) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithAllowedOrigins restricts CORS origins.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		if len(origins) > 0 {
			h.allowedOrigins = origins
		}
	}
}

// NewHandler creates a new API handler.
func NewHandler(exec *reasoning.Executor, dual *reasoning.DualPathReasoner, gen Generator, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		exec:           exec,
		dual:           dual,
		gen:            gen,
		routeA:         reasoning.PathA,
		routeB:         reasoning.PathB,
		allowedOrigins: []string{"*"},
		logger:         logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Get("/stages", h.listStages)
		r.Post("/reason", h.reason)
		r.Post("/reason/dual", h.reasonDual)
	})
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "nuka-reason"})
}

type stageInfo struct {
	Index       int             `json:"index"`
	Stage       reasoning.Stage `json:"stage"`
	Description string          `json:"description"`
}

func (h *Handler) listStages(w http.ResponseWriter, r *http.Request) {
	stages := reasoning.Stages()
	out := make([]stageInfo, len(stages))
	for i, s := range stages {
		out[i] = stageInfo{Index: i, Stage: s, Description: reasoning.Describe(s)}
	}
	h.writeJSON(w, http.StatusOK, out)
}

type rangeRule struct {
	Field string  `json:"field"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

type rulesRequest struct {
	Ranges         []rangeRule `json:"ranges,omitempty"`
	StepConfidence bool        `json:"step_confidence,omitempty"`
	StageOrder     bool        `json:"stage_order,omitempty"`
	RequiredStages []string    `json:"required_stages,omitempty"`
}

type reasonRequest struct {
	TaskName string            `json:"task_name"`
	Prompt   provider.Prompt   `json:"prompt"`
	Context  map[string]any    `json:"context,omitempty"`
	Schema   *reasoning.Schema `json:"schema,omitempty"`
	Rules    *rulesRequest     `json:"rules,omitempty"`
	Provider string            `json:"provider,omitempty"`
}

type dualRequest struct {
	reasonRequest
	ProviderA    string   `json:"provider_a,omitempty"`
	ProviderB    string   `json:"provider_b,omitempty"`
	PerspectiveA string   `json:"perspective_a,omitempty"`
	PerspectiveB string   `json:"perspective_b,omitempty"`
	Threshold    *float64 `json:"threshold,omitempty"`
}

func (req *reasonRequest) check() error {
	if strings.TrimSpace(req.TaskName) == "" {
		return errors.New("task_name is required")
	}
	if strings.TrimSpace(req.Prompt.User) == "" {
		return errors.New("prompt.user is required")
	}
	if req.Rules != nil {
		for i, rr := range req.Rules.Ranges {
			if rr.Field == "" {
				return fmt.Errorf("rules.ranges[%d]: field is required", i)
			}
			if rr.Min > rr.Max {
				return fmt.Errorf("rules.ranges[%d]: min greater than max", i)
			}
		}
		for _, s := range req.Rules.RequiredStages {
			if _, ok := reasoning.ParseStage(s); !ok {
				return fmt.Errorf("rules.required_stages: unknown stage %q", s)
			}
		}
	}
	return nil
}

// validator composes the requested business rules, or returns nil.
func (req *reasonRequest) validator() reasoning.ValidatorFunc {
	if req.Rules == nil {
		return nil
	}
	var fns []reasoning.ValidatorFunc
	for _, rr := range req.Rules.Ranges {
		fns = append(fns, reasoning.RangeRule(rr.Field, rr.Min, rr.Max))
	}
	if req.Rules.StepConfidence {
		fns = append(fns, reasoning.StepConfidenceRule())
	}
	if req.Rules.StageOrder {
		fns = append(fns, reasoning.StageOrderRule())
	}
	if len(req.Rules.RequiredStages) > 0 {
		stages := make([]reasoning.Stage, 0, len(req.Rules.RequiredStages))
		for _, s := range req.Rules.RequiredStages {
			st, _ := reasoning.ParseStage(s)
			stages = append(stages, st)
		}
		fns = append(fns, reasoning.StageCoverageRule(stages...))
	}
	if len(fns) == 0 {
		return nil
	}
	return reasoning.Compose(fns...)
}

func (h *Handler) reason(w http.ResponseWriter, r *http.Request) {
	ctx, cid := h.correlate(r)
	var req reasonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), cid)
		return
	}
	if err := req.check(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), cid)
		return
	}
	route := firstNonEmpty(req.Provider, h.routeA)
	res, err := h.exec.Execute(ctx, reasoning.Task{
		Name:      req.TaskName,
		Context:   req.Context,
		Generate:  h.gen.Func(route, req.Prompt, req.Schema),
		Schema:    req.Schema,
		Validator: req.validator(),
		Authorize: h.authorizeFunc(r),
	})
	if err != nil {
		h.writeFailure(w, req.TaskName, cid, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) reasonDual(w http.ResponseWriter, r *http.Request) {
	ctx, cid := h.correlate(r)
	var req dualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), cid)
		return
	}
	if err := req.check(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), cid)
		return
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		h.writeError(w, http.StatusBadRequest, "threshold must be within [0, 1]", cid)
		return
	}
	routeA := firstNonEmpty(req.ProviderA, req.Provider, h.routeA)
	routeB := firstNonEmpty(req.ProviderB, req.Provider, h.routeB)
	task := reasoning.DualTask{
		Name:         req.TaskName,
		Context:      req.Context,
		GenerateA:    h.gen.Func(routeA, req.Prompt, req.Schema),
		GenerateB:    h.gen.Func(routeB, req.Prompt, req.Schema),
		PerspectiveA: req.PerspectiveA,
		PerspectiveB: req.PerspectiveB,
		Schema:       req.Schema,
		Validator:    req.validator(),
		Authorize:    h.authorizeFunc(r),
	}

	threshold := h.dual.Threshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	res, err := h.dual.ExecuteDualPathWithThreshold(ctx, task, threshold)
	if err != nil {
		h.writeFailure(w, req.TaskName, cid, err)
		return
	}
	// failure detail stays in the logs
	if res.Failure != "" {
		h.logger.Warn("dual path degraded",
			zap.String("task", req.TaskName),
			zap.String("correlation_id", cid),
			zap.String("failed_path", res.FailedPath),
			zap.String("failure", res.Failure))
		res.Failure = ""
	}
	h.writeJSON(w, http.StatusOK, res)
}

// correlate attaches the chi request id to the request context as the
// correlation id.
func (h *Handler) correlate(r *http.Request) (context.Context, string) {
	ctx := r.Context()
	if id := middleware.GetReqID(ctx); id != "" {
		return telemetry.WithCorrelationID(ctx, id), id
	}
	return telemetry.EnsureCorrelationID(ctx)
}

// authorizeFunc binds the installed Authorizer to r, or returns nil.
func (h *Handler) authorizeFunc(r *http.Request) reasoning.AuthorizeFunc {
	if h.authorize == nil {
		return nil
	}
	return func(_ context.Context, task string) error {
		return h.authorize(r, task)
	}
}

// writeFailure maps engine errors to generic responses that keep the
// correlation id.
func (h *Handler) writeFailure(w http.ResponseWriter, task, cid string, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, reasoning.ErrUnauthorized):
		h.logger.Info("reasoning request denied",
			zap.String("task", task),
			zap.String("correlation_id", cid),
			zap.Error(err))
		h.writeError(w, http.StatusForbidden, "forbidden", cid)
		return
	case errors.Is(err, reasoning.ErrSchemaMisuse):
		status, msg = http.StatusBadRequest, "invalid validation schema"
	case errors.Is(err, reasoning.ErrInvalidTask):
		status, msg = http.StatusBadRequest, "invalid reasoning task"
	case errors.Is(err, reasoning.ErrGenerationFailure):
		status, msg = http.StatusBadGateway, "generation failed"
	}
	h.logger.Error("reasoning request failed",
		zap.String("task", task),
		zap.String("correlation_id", cid),
		zap.Int("status", status),
		zap.Error(err))
	h.writeError(w, status, msg, cid)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg, cid string) {
	h.writeJSON(w, status, map[string]string{"error": msg, "correlation_id": cid})
}

// writeJSON encodes before writing the status so an unencodable body
// becomes a 500 instead of a truncated 200.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Int("status", status), zap.Error(err))
		buf.Reset()
		status = http.StatusInternalServerError
		fmt.Fprintf(&buf, "{\"error\":%q}\n", "response encoding failed")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("write response", zap.Error(err))
	}
}
