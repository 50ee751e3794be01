package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"installops/internal/audit"
	"installops/internal/auth"
	"installops/internal/diagnostics"
	pricingapp "installops/internal/pricing/application"
	pricing "installops/internal/pricing/domain"
	"installops/internal/pricing/infrastructure/cache"
)

// EventSource lists recorded diagnostics events.
type EventSource interface {
	Events() []diagnostics.Event
}

// CacheStatsSource exposes manufacturer cache counters.
type CacheStatsSource interface {
	Stats() cache.Stats
}

// Handler serves pricing, commission and pricing diagnostics endpoints.
type Handler struct {
	resolver    *pricingapp.Resolver
	coordinator *pricingapp.Coordinator
	events      EventSource
	cacheStats  CacheStatsSource
	guard       *auth.TenantGuard
	auditLogger audit.Logger
	validate    *validator.Validate
}

// Option configures the handler.
type Option func(*Handler)

// WithDiagnostics exposes events and cache stats on the diagnostics route.
func WithDiagnostics(events EventSource, stats CacheStatsSource) Option {
	return func(h *Handler) {
		h.events = events
		h.cacheStats = stats
	}
}

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
func NewHandler(resolver *pricingapp.Resolver, coordinator *pricingapp.Coordinator, opts ...Option) (*Handler, error) {
	if resolver == nil {
		return nil, errors.New("pricing handler: nil resolver")
	}
	if coordinator == nil {
		return nil, errors.New("pricing handler: nil coordinator")
	}
	h := &Handler{resolver: resolver, coordinator: coordinator, validate: validator.New()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the handler routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/pricing/versions", h)
	mux.Handle("/api/v1/pricing/resolve", h)
	mux.Handle("/api/v1/commissions/bulk", h)
	mux.Handle("/api/v1/diagnostics/pricing", h)
}

// ServeHTTP dispatches pricing routes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Ensure(r.Context()); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	switch {
	case r.URL.Path == "/api/v1/pricing/versions" && r.Method == http.MethodPost:
		h.handleUpdate(w, r)
	case r.URL.Path == "/api/v1/pricing/versions" && r.Method == http.MethodGet:
		h.handleHistory(w, r)
	case r.URL.Path == "/api/v1/pricing/resolve" && r.Method == http.MethodGet:
		h.handleResolve(w, r)
	case r.URL.Path == "/api/v1/commissions/bulk" && r.Method == http.MethodPost:
		h.handleBulk(w, r)
	case r.URL.Path == "/api/v1/diagnostics/pricing" && r.Method == http.MethodGet:
		h.handleDiagnostics(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type updateRequest struct {
	Kind          string           `json:"kind" validate:"required,oneof=equipment_cost commission_rate installation_cost"`
	PrimaryKey    string           `json:"primary_key" validate:"required"`
	Manufacturer  string           `json:"manufacturer" validate:"required"`
	Value         *decimal.Decimal `json:"value" validate:"required"`
	EffectiveFrom string           `json:"effective_from" validate:"required,datetime=2006-01-02"`
	Note          string           `json:"note" validate:"max=500"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := pricing.ParseDate(req.EffectiveFrom)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.coordinator.Update(r.Context(), pricingapp.UpdateRequest{
		Key:           pricing.Key{Kind: pricing.Kind(req.Kind), Primary: req.PrimaryKey, Manufacturer: req.Manufacturer},
		Value:         *req.Value,
		EffectiveFrom: from,
		Note:          req.Note,
		Actor:         auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
	h.logAudit(r, res.NewVersionID, "pricing.version.create", map[string]any{
		"key":                res.Key.String(),
		"value":              req.Value.String(),
		"effective_from":     req.EffectiveFrom,
		"closed_version_ids": res.ClosedVersionIDs,
		"merged":             res.Merged,
		"note":               req.Note,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := pricing.Key{
		Kind:         pricing.Kind(q.Get("kind")),
		Primary:      q.Get("primary_key"),
		Manufacturer: q.Get("manufacturer"),
	}
	versions, err := h.resolver.History(r.Context(), key)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if versions == nil {
		versions = []pricing.Version{}
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	at, err := pricing.ParseDate(q.Get("date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.resolver.Resolve(r.Context(), pricing.Kind(q.Get("kind")), q.Get("primary_key"), q.Get("manufacturer"), at)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type bulkRequest struct {
	Manufacturer  string           `json:"manufacturer" validate:"required"`
	NewRate       *decimal.Decimal `json:"new_rate" validate:"required"`
	EffectiveFrom string           `json:"effective_from" validate:"required,datetime=2006-01-02"`
	TargetOffices []string         `json:"target_offices" validate:"omitempty,dive,required"`
	Note          string           `json:"note" validate:"max=500"`
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, err := pricing.ParseDate(req.EffectiveFrom)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := h.coordinator.BulkCommission(r.Context(), pricingapp.BulkCommissionRequest{
		Manufacturer:  req.Manufacturer,
		Rate:          *req.NewRate,
		EffectiveFrom: from,
		TargetOffices: req.TargetOffices,
		Note:          req.Note,
		Actor:         auth.SubjectFromContext(r.Context()),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	status := http.StatusOK
	switch {
	case res.Failed > 0 && res.Succeeded == 0:
		status = http.StatusConflict
	case res.Failed > 0:
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
	h.logAudit(r, pricing.NormalizeManufacturer(req.Manufacturer), "commission.bulk_update", map[string]any{
		"new_rate":       req.NewRate.String(),
		"effective_from": req.EffectiveFrom,
		"target_offices": req.TargetOffices,
		"succeeded":      res.Succeeded,
		"failed":         res.Failed,
	})
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Events []diagnostics.Event `json:"events"`
		Cache  *cache.Stats        `json:"cache,omitempty"`
	}{Events: []diagnostics.Event{}}
	if h.events != nil {
		if events := h.events.Events(); events != nil {
			resp.Events = events
		}
	}
	if h.cacheStats != nil {
		stats := h.cacheStats.Stats()
		resp.Cache = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) logAudit(r *http.Request, resourceID, action string, meta map[string]any) {
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
		ResourceType: "pricing_version",
		ResourceID:   resourceID,
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
	case pricing.IsInputError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, pricing.ErrTransactionFailed):
		http.Error(w, "update rolled back: "+strings.TrimPrefix(err.Error(), pricing.ErrTransactionFailed.Error()+": "), http.StatusConflict)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
