package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"

	"installops/internal/audit"
	"installops/internal/auth"
	pricing "installops/internal/pricing/domain"
	revenueapp "installops/internal/revenue/application"
	revenue "installops/internal/revenue/domain"
	sites "installops/internal/sites/domain"
)

// TriggerRecalcPath is the scheduler entry point for the zero-revenue pass.
const TriggerRecalcPath = "/internal/triggers/recalc-zero"

// Handler serves calculation and recalculation endpoints.
type Handler struct {
	service     *revenueapp.CalculationService
	runner      *revenueapp.RecalculationRunner
	guard       *auth.TenantGuard
	auditLogger audit.Logger
	validate    *validator.Validate
}

// Option configures the handler.
type Option func(*Handler)

// WithAudit records writes through logger.
func WithAudit(logger audit.Logger) Option {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// WithTenantGuard rejects callers from other tenants.
func WithTenantGuard(guard *auth.TenantGuard) Option {
	return func(h *Handler) {
		h.guard = guard
	}
}

// NewHandler constructs a handler.
func NewHandler(service *revenueapp.CalculationService, runner *revenueapp.RecalculationRunner, opts ...Option) (*Handler, error) {
	if service == nil {
		return nil, errors.New("revenue handler: nil calculation service")
	}
	if runner == nil {
		return nil, errors.New("revenue handler: nil recalculation runner")
	}
	h := &Handler{service: service, runner: runner, validate: validator.New()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the API routes on mux. The trigger route is mounted by
// the caller behind trigger authentication.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/calculations", h)
	mux.Handle("/api/v1/recalculations/zero-revenue", h)
}

// ServeHTTP dispatches revenue routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Ensure(r.Context()); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/calculations" && r.Method == http.MethodPost:
		h.handleCalculate(w, r)
	case r.URL.Path == "/api/v1/calculations" && r.Method == http.MethodGet:
		h.handleStored(w, r)
	case (r.URL.Path == "/api/v1/recalculations/zero-revenue" || r.URL.Path == TriggerRecalcPath) && r.Method == http.MethodPost:
		h.handleRecalculate(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type calculateRequest struct {
	SiteID   string `json:"site_id" validate:"required"`
	AsOfDate string `json:"as_of_date" validate:"required,datetime=2006-01-02"`
	Persist  bool   `json:"persist"`
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	asOf, err := pricing.ParseDate(req.AsOfDate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := h.service.Calculate(r.Context(), revenueapp.CalculateRequest{
		SiteID:  req.SiteID,
		AsOf:    asOf,
		Persist: req.Persist,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
	if resp.Persisted {
		h.logAudit(r, "revenue_calculation", req.SiteID, "calculation.persist", map[string]any{
			"as_of_date":    req.AsOfDate,
			"total_revenue": resp.Result.TotalRevenue,
			"total_cost":    resp.Result.TotalCost,
			"net_profit":    resp.Result.NetProfit,
			"unpriced":      resp.Result.Unpriced,
		})
	}
}

func (h *Handler) handleStored(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	day, err := pricing.ParseDate(q.Get("date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.service.Stored(r.Context(), q.Get("site_id"), day)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type recalcRequest struct {
	SiteIDs []string `json:"site_ids" validate:"omitempty,dive,required"`
	Limit   int      `json:"limit" validate:"gte=0"`
}

func (h *Handler) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	var req recalcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.runner.RecalculateZeroRevenue(r.Context(), revenue.ZeroFilter{SiteIDs: req.SiteIDs, Limit: req.Limit})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
	h.logAudit(r, "revenue_calculation", "", "recalculation.zero_revenue", map[string]any{
		"success":    report.Success,
		"skipped":    report.Skipped,
		"failed":     report.Failed,
		"unresolved": report.Unresolved,
	})
}

func (h *Handler) logAudit(r *http.Request, resourceType, siteID, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		tenantID = h.guard.TenantID()
	}
	if tenantID == "" {
		return
	}
	payload, _ := json.Marshal(meta)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		TenantID:     tenantID,
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   siteID,
		SiteID:       siteID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, sites.ErrSiteNotFound), errors.Is(err, revenue.ErrCalculationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case sites.IsInputError(err), revenue.IsInputError(err), pricing.IsInputError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, revenueapp.ErrSiteBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
