package interfaces

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"installops/internal/audit"
	"installops/internal/auth"
	closingapp "installops/internal/closing/application"
	closing "installops/internal/closing/domain"
	"installops/internal/observability/metrics"
)

// TriggerClosePath is the scheduler entry point for closing a month.
const TriggerClosePath = "/internal/triggers/close-month"

// ClosingHandler handles closing APIs.
type ClosingHandler struct {
	aggregator  *closingapp.Aggregator
	guard       *auth.TenantGuard
	auditLogger audit.Logger
	validate    *validator.Validate
}

// Option configures the handler.
type Option func(*ClosingHandler)

// WithAudit records writes and exports through logger.
func WithAudit(logger audit.Logger) Option {
	return func(h *ClosingHandler) {
		h.auditLogger = logger
	}
}

// WithTenantGuard rejects callers from other tenants.
func WithTenantGuard(guard *auth.TenantGuard) Option {
	return func(h *ClosingHandler) {
		h.guard = guard
	}
}

// NewClosingHandler constructs a handler.
func NewClosingHandler(aggregator *closingapp.Aggregator, opts ...Option) (*ClosingHandler, error) {
	if aggregator == nil {
		return nil, errors.New("closing handler: nil aggregator")
	}
	h := &ClosingHandler{aggregator: aggregator, validate: validator.New()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Register mounts the closing routes and the close trigger on mux.
func (h *ClosingHandler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/closings", h)
	mux.Handle("/api/v1/closings/", h)
	mux.Handle(TriggerClosePath, h)
}

// ServeHTTP handles routes under /api/v1/closings and the close trigger.
func (h *ClosingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.guard.Ensure(r.Context()); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	path := r.URL.Path
	if (path == "/api/v1/closings" || path == TriggerClosePath) && r.Method == http.MethodPost {
		h.handleClose(w, r, path == TriggerClosePath)
		return
	}
	if strings.HasPrefix(path, "/api/v1/closings/") && r.Method == http.MethodGet {
		h.handleByMonth(w, r, strings.TrimPrefix(path, "/api/v1/closings/"))
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

type closeRequest struct {
	Year  int `json:"year" validate:"required,gte=1,lte=9999"`
	Month int `json:"month" validate:"required,gte=1,lte=12"`
}

func (h *ClosingHandler) handleClose(w http.ResponseWriter, r *http.Request, trigger bool) {
	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !(trigger && errors.Is(err, io.EOF)) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var (
		report closing.Report
		err    error
	)
	if trigger && req.Year == 0 && req.Month == 0 {
		report, err = h.aggregator.ClosePrevious(r.Context())
	} else {
		if verr := h.validate.Struct(req); verr != nil {
			http.Error(w, verr.Error(), http.StatusBadRequest)
			return
		}
		report, err = h.aggregator.Close(r.Context(), req.Year, req.Month)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
	h.logAudit(r, report.Period().String(), "closing.generate", map[string]any{
		"site_count":    report.SiteCount,
		"total_revenue": report.Totals.TotalRevenue,
		"net_profit":    report.Totals.NetProfit,
		"snapshot_hash": report.SnapshotHash,
	})
}

func (h *ClosingHandler) handleByMonth(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	period, err := closing.ParsePeriod(parts[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	report, err := h.aggregator.Get(r.Context(), period.Year, int(period.Month))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	switch {
	case len(parts) == 1:
		writeJSON(w, http.StatusOK, report)
	case len(parts) == 2 && (parts[1] == "export.pdf" || parts[1] == "export.xlsx"):
		h.handleExport(w, r, report, strings.TrimPrefix(parts[1], "export."))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *ClosingHandler) handleExport(w http.ResponseWriter, r *http.Request, report *closing.Report, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveClosingExport(format, result, time.Since(start))
	}()

	var (
		content     []byte
		err         error
		contentType string
	)
	switch format {
	case "pdf":
		content, err = BuildClosingPDF(report)
		contentType = "application/pdf"
	default:
		content, err = BuildClosingXLSX(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	filename := "closing-" + report.Period().String() + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
	h.logAudit(r, report.Period().String(), "closing.export", map[string]any{
		"format":        format,
		"snapshot_hash": report.SnapshotHash,
	})
}

func (h *ClosingHandler) logAudit(r *http.Request, resourceID, action string, meta map[string]any) {
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
		ResourceType: "monthly_closing",
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
	switch {
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, closing.ErrClosingNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case closing.IsInputError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
