package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/opensource-finance/fraudsentry/internal/domain"
	"github.com/opensource-finance/fraudsentry/internal/repository"
	"github.com/opensource-finance/fraudsentry/internal/rules"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// Analyzer runs the fraud pipeline for one transaction.
type Analyzer interface {
	Analyze(ctx context.Context, tx *domain.Transaction) (*domain.Analysis, error)
}

// Recorder persists and announces a finished analysis.
type Recorder interface {
	Record(ctx context.Context, tx *domain.Transaction, a *domain.Analysis) error
}

// Deps are the handler's collaborators. Only Analyzer is required.
type Deps struct {
	Analyzer Analyzer
	Recorder Recorder
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Engine   *rules.Engine
	Clock    clockwork.Clock
	Version  string

	// Logger is used for request logs. Defaults to slog.Default.
	Logger *slog.Logger
}

// Handler holds dependencies for API handlers.
type Handler struct {
	analyzer Analyzer
	recorder Recorder
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	clock    clockwork.Clock
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Handler{
		analyzer: deps.Analyzer,
		recorder: deps.Recorder,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		engine:   deps.Engine,
		clock:    deps.Clock,
		version:  deps.Version,
	}
}

// decodeTransaction parses and validates a transaction request into a Transaction.
func (h *Handler) decodeTransaction(w http.ResponseWriter, r *http.Request) (*domain.Transaction, bool) {
	var req domain.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return req.ToTransaction(GetTenantID(r.Context()), uuid.New().String(), h.clock.Now()), true
}

// Analyze handles POST /analyze: synchronous analysis.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tx, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}

	a, err := h.analyzer.Analyze(ctx, tx)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("analysis failed", "tenant_id", tx.TenantID, "tx_id", tx.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	if h.recorder != nil {
		// Persistence problems never hide a computed verdict from the caller.
		if err := h.recorder.Record(ctx, tx, a); err != nil {
			slog.Error("failed to record analysis", "tenant_id", tx.TenantID, "analysis_id", a.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, a.ToResponse())
}

// AnalyzeAsync handles POST /analyze/async: the transaction is queued for the worker.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	tx, ok := h.decodeTransaction(w, r)
	if !ok {
		return
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode transaction")
		return
	}
	if err := h.bus.Publish(ctx, tx.TenantID, domain.TopicTransactionSubmitted, payload); err != nil {
		slog.Error("failed to publish transaction", "tenant_id", tx.TenantID, "tx_id", tx.ID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue transaction")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"txId":   tx.ID,
		"status": "accepted",
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether the server can take traffic: the repository must answer.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetAnalysis retrieves an analysis by ID, reading through the cache.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	analysisID := chi.URLParam(r, "id")

	if h.cache != nil {
		a, err := h.cache.GetAnalysis(ctx, tenantID, analysisID)
		if err != nil {
			slog.Warn("analysis cache read failed", "tenant_id", tenantID, "id", analysisID, "error", err)
		}
		if a != nil {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}

	if h.repo == nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}

	a, err := h.repo.GetAnalysis(ctx, tenantID, analysisID)
	if err != nil {
		writeRepoError(w, "analysis", analysisID, err)
		return
	}

	if h.cache != nil {
		_ = h.cache.SetAnalysis(ctx, tenantID, a, domain.AnalysisCacheTTL)
	}
	writeJSON(w, http.StatusOK, a)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		writeRepoError(w, "transaction", txID, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns all custom rules loaded in the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loaded,
		"count": len(loaded),
	})
}

// GetRule retrieves a loaded rule by ID, falling back to the stored (possibly disabled) rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	if h.repo != nil {
		rule, err := h.repo.GetRuleConfig(r.Context(), GlobalTenantID, ruleID)
		if err == nil {
			writeJSON(w, http.StatusOK, rule)
			return
		}
		if !errors.Is(err, repository.ErrNotFound) {
			writeRepoError(w, "rule", ruleID, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	Score       int      `json:"score"`
	Tags        []string `json:"tags,omitempty"`
	Enabled     bool     `json:"enabled"`
}

// CreateRule validates a rule and saves it to the database as a global rule.
// Saved rules take effect after POST /rules/reload; without a database they load immediately.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if strings.TrimSpace(req.ID) == "" || strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Expression) == "" {
		writeError(w, http.StatusBadRequest, "id, name, and expression are required")
		return
	}

	rule := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Score:       req.Score,
		Tags:        req.Tags,
		Enabled:     req.Enabled,
	}

	if err := h.engine.ValidateRule(rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	message := "Rule created. Call POST /rules/reload to apply changes."
	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, rule); err != nil {
			slog.Error("failed to save rule config", "id", rule.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save rule")
			return
		}
	} else if rule.Enabled {
		if err := h.engine.LoadRule(rule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		message = "Rule created and loaded."
	}

	slog.Info("rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    rule,
		"message": message,
	})
}

// ReloadRules reloads all rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load rules from database")
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", h.engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.engine.RulesCount(),
	})
}

func writeRepoError(w http.ResponseWriter, kind, id string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, kind+" not found")
	case errors.Is(err, repository.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("repository read failed", "kind", kind, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load "+kind)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
