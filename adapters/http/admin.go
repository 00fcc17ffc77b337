package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/adapters/metrics"
	"github.com/xancrypt/xancrypt/app"
	"github.com/xancrypt/xancrypt/domain/identity"
	"github.com/xancrypt/xancrypt/ports"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// RecordResponse is one ledger record.
type RecordResponse struct {
	ID    string    `json:"id"`
	Time  time.Time `json:"time"`
	Files int       `json:"files"`
}

// UsageResponse describes a ledger entry and its active usage.
type UsageResponse struct {
	ID        string           `json:"id"`
	DeviceID  string           `json:"deviceId,omitempty"`
	IP        string           `json:"ip,omitempty"`
	UserID    string           `json:"userId,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
	Records   []RecordResponse `json:"records"`
	Used      int              `json:"used"`
	Remaining int              `json:"remaining"`
	NextReset *time.Time       `json:"nextReset"`
}

// UsageListResponse is a page of ledger entries.
type UsageListResponse struct {
	Entries []UsageResponse `json:"entries"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ResetResponse reports how many records a reset removed.
type ResetResponse struct {
	Removed int `json:"removed"`
}

// AdminHandler serves the administrative usage API.
type AdminHandler struct {
	usage   *app.UsageService
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// NewAdminHandler creates the admin handler. m may be nil when metrics are disabled.
func NewAdminHandler(usage *app.UsageService, m *metrics.Collector, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{usage: usage, metrics: m, logger: logger}
}

// Register adds the admin routes to r, which is mounted under /admin.
func (h *AdminHandler) Register(r chi.Router) {
	r.Get("/usage", h.GetUsage)
	r.Delete("/usage", h.ResetUsage)
	r.Get("/usage/entries", h.ListUsage)
	r.Post("/reset-metrics", h.ResetMetrics)
}

// scopeFromQuery builds the lookup scope from userId, or deviceId and ip.
func scopeFromQuery(r *http.Request) identity.Scope {
	q := r.URL.Query()
	return identity.Resolve(identity.Identity{
		DeviceID: q.Get("deviceId"),
		IP:       q.Get("ip"),
		UserID:   q.Get("userId"),
	})
}

func usageResponse(rep app.UsageReport) UsageResponse {
	records := make([]RecordResponse, len(rep.Entry.Records))
	for i, rec := range rep.Entry.Records {
		records[i] = RecordResponse{ID: rec.ID, Time: rec.Time, Files: rec.Files}
	}
	return UsageResponse{
		ID:        rep.Entry.ID,
		DeviceID:  rep.Entry.DeviceID,
		IP:        rep.Entry.IP,
		UserID:    rep.Entry.UserID,
		UpdatedAt: rep.Entry.UpdatedAt,
		Records:   records,
		Used:      rep.Used,
		Remaining: rep.Remaining,
		NextReset: rep.NextReset,
	}
}

// GetUsage returns one identity's ledger entry.
//
//	@Summary		Get identity usage
//	@Tags			Admin
//	@Produce		json
//	@Param			userId		query		string	false	"User id"
//	@Param			deviceId	query		string	false	"Device id"
//	@Param			ip			query		string	false	"Client IP"
//	@Success		200			{object}	UsageResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Security		AdminToken
//	@Router			/admin/usage [get]
func (h *AdminHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)
	if scope.Empty() {
		writeError(w, http.StatusBadRequest, "missing_identity", "Provide userId, deviceId or ip")
		return
	}

	rep, err := h.usage.Lookup(r.Context(), scope)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usageResponse(rep))
}

// ResetUsage clears one identity's records.
//
//	@Summary		Reset identity usage
//	@Tags			Admin
//	@Produce		json
//	@Param			userId		query		string	false	"User id"
//	@Param			deviceId	query		string	false	"Device id"
//	@Param			ip			query		string	false	"Client IP"
//	@Success		200			{object}	ResetResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Security		AdminToken
//	@Router			/admin/usage [delete]
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	scope := scopeFromQuery(r)
	if scope.Empty() {
		writeError(w, http.StatusBadRequest, "missing_identity", "Provide userId, deviceId or ip")
		return
	}

	n, err := h.usage.Reset(r.Context(), scope)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResetResponse{Removed: n})
}

// ListUsage returns a page of ledger entries, most recently updated first.
//
//	@Summary		List ledger entries
//	@Tags			Admin
//	@Produce		json
//	@Param			limit	query		int	false	"Page size"	default(50)
//	@Param			offset	query		int	false	"Offset"	default(0)
//	@Success		200		{object}	UsageListResponse
//	@Security		AdminToken
//	@Router			/admin/usage/entries [get]
func (h *AdminHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)

	reports, err := h.usage.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("usage list failed")
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "Could not read usage")
		return
	}

	entries := make([]UsageResponse, len(reports))
	for i, rep := range reports {
		entries[i] = usageResponse(rep)
	}
	writeJSON(w, http.StatusOK, UsageListResponse{Entries: entries, Limit: limit, Offset: offset})
}

// ResetMetrics clears the conversion metrics.
//
//	@Summary		Reset conversion metrics
//	@Tags			Admin
//	@Success		204
//	@Security		AdminToken
//	@Router			/admin/reset-metrics [post]
func (h *AdminHandler) ResetMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics != nil {
		h.metrics.ResetConversion()
	}
	h.logger.Info().Msg("conversion metrics reset")
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ports.ErrEntryNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "No usage recorded for this identity")
		return
	}
	h.logger.Error().Err(err).Msg("usage lookup failed")
	writeError(w, http.StatusInternalServerError, "storage_unavailable", "Could not read usage")
}

