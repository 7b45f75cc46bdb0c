package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/msme-risk/internal/bus"
	"github.com/opensource-finance/msme-risk/internal/decision"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/intake"
	"github.com/opensource-finance/msme-risk/internal/metrics"
	"github.com/opensource-finance/msme-risk/internal/pipeline"
	"github.com/opensource-finance/msme-risk/internal/profile"
	"github.com/opensource-finance/msme-risk/internal/repository"
	"github.com/opensource-finance/msme-risk/internal/rules"
	"github.com/opensource-finance/msme-risk/internal/scoring"
)

// GlobalTenantID owns rules that apply to all tenants.
const GlobalTenantID = "*"

const maxBodyBytes = 1 << 20

// Dependencies are the collaborators of the HTTP handlers. Repo, Cache and
// Bus may be nil.
type Dependencies struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Rules    *rules.Engine
	Profiles *profile.Registry
	Pipeline *pipeline.Pipeline
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	profiles *profile.Registry
	pipeline *pipeline.Pipeline
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		engine:   deps.Rules,
		profiles: deps.Profiles,
		pipeline: deps.Pipeline,
		version:  deps.Version,
	}
}

// ValidationResponse is the 400 body of a rejected record.
type ValidationResponse struct {
	Error  string                    `json:"error"`
	Errors []*domain.ValidationError `json:"errors"`
}

// Assess handles POST /assess: the record is scored synchronously.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	raw, ok := readRecord(w, r)
	if !ok {
		return
	}

	eval, err := h.pipeline.Run(ctx, &pipeline.Input{
		TenantID: tenantID,
		TraceID:  GetTraceID(ctx),
		Profile:  r.URL.Query().Get("profile"),
		Source:   metrics.SourceHTTP,
		Raw:      raw,
	})
	if err != nil {
		writePipelineError(w, err)
		return
	}

	if h.bus != nil {
		h.publishEvaluation(r, eval)
	}

	writeJSON(w, http.StatusOK, eval.ToResponse(decision.FormatProbability))
}

// AssessAsync handles POST /assess/async: the record is queued for the worker.
func (h *Handler) AssessAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	raw, ok := readRecord(w, r)
	if !ok {
		return
	}

	req := domain.AssessmentRequest{
		RequestID: uuid.New().String(),
		Profile:   r.URL.Query().Get("profile"),
		Record:    raw,
	}
	if _, err := bus.PublishJSON(ctx, h.bus, GetTenantID(ctx), domain.TopicAssessmentRequested, req); err != nil {
		slog.Error("failed to queue assessment", "request_id", req.RequestID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue assessment")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"request_id": req.RequestID,
		"status":     "queued",
	})
}

func (h *Handler) publishEvaluation(r *http.Request, eval *domain.Evaluation) {
	if _, err := bus.PublishEvaluation(r.Context(), h.bus, eval); err != nil {
		slog.Warn("failed to publish assessment", "evaluation_id", eval.ID, "error", err)
	}
}

// readRecord decodes the JSON object body, answering 400 itself on failure.
func readRecord(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}

	raw, err := intake.DecodeRaw(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, false
	}
	return raw, true
}

func writePipelineError(w http.ResponseWriter, err error) {
	var verrs domain.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, ValidationResponse{Error: "validation failed", Errors: verrs})
	case errors.Is(err, profile.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("assessment failed", "error", err)
		writeError(w, http.StatusInternalServerError, "assessment failed")
	}
}

// Health reports the health of the storage and cache backends.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	ctx := r.Context()
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether the server accepts assessments.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
}

// ListRules returns the rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule returns one loaded rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")
	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Expression  string            `json:"expression"`
	Bands       []domain.RuleBand `json:"bands"`
	Weight      float64           `json:"weight"`
	Enabled     *bool             `json:"enabled,omitempty"`
}

// CreateRule compiles, persists and activates a global policy rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Bands:       req.Bands,
		Weight:      req.Weight,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save rule config", "id", rule.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save rule")
			return
		}
	}

	if rule.Enabled {
		if err := h.engine.LoadRule(rule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		h.engine.UnloadRule(rule.ID)
	}

	slog.Info("rule saved", "id", rule.ID, "name", rule.Name, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

// DeleteRule disables a rule and unloads it.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.repo != nil {
		err := h.repo.DeleteRuleConfig(r.Context(), GlobalTenantID, ruleID)
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "rule not found")
			return
		}
		if err != nil {
			slog.Error("failed to delete rule", "id", ruleID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete rule")
			return
		}
	}

	h.engine.UnloadRule(ruleID)
	w.WriteHeader(http.StatusNoContent)
}

// ReloadRules replaces the engine's rules with the stored global rules.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	stored, err := h.repo.ListRuleConfigs(r.Context(), GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.engine.ReloadRules(stored); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{"count": h.engine.RulesCount()})
}

// ListProfiles returns the scoring profiles visible to the tenant.
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.Profiles(r.Context(), GetTenantID(r.Context()))
	if err != nil {
		slog.Error("failed to list profiles", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"count":    len(profiles),
	})
}

// GetProfile returns the profile a name resolves to for the tenant.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	_, p, err := h.profiles.Resolve(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		writeProfileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProfile validates and stores a scoring profile for the tenant.
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var p domain.ScoringProfile
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := h.profiles.Put(r.Context(), GetTenantID(r.Context()), &p); err != nil {
		writeProfileError(w, err)
		return
	}

	slog.Info("scoring profile saved", "tenant_id", p.TenantID, "profile", p.Name)
	writeJSON(w, http.StatusCreated, p)
}

// DeleteProfile disables a stored scoring profile.
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.Remove(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "name")); err != nil {
		writeProfileError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadProfiles rebuilds the tenant's and the global profile engines.
func (h *Handler) ReloadProfiles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenants := []string{profile.GlobalTenant}
	if t := GetTenantID(ctx); t != profile.GlobalTenant {
		tenants = append(tenants, t)
	}

	for _, t := range tenants {
		if err := h.profiles.Reload(ctx, t); err != nil {
			slog.Error("failed to reload profiles", "tenant_id", t, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to reload profiles")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"profiles": h.profiles.Names(GetTenantID(ctx))})
}

func writeProfileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profile.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, repository.ErrInvalidInput), errors.Is(err, scoring.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("profile operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "profile operation failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
