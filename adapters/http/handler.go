// Package http exposes the conversion service, usage lookups and the admin
// API over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/xancrypt/xancrypt/app"
	"github.com/xancrypt/xancrypt/domain/admission"
	"github.com/xancrypt/xancrypt/domain/conversion"
	"github.com/xancrypt/xancrypt/domain/history"
	"github.com/xancrypt/xancrypt/ports"
)

// DefaultMaxUploadBytes caps a whole multipart upload.
const DefaultMaxUploadBytes = 32 << 20

// multipartMemory is how much of a form is buffered before spilling to disk.
const multipartMemory = 8 << 20

// Upload form fields. Browsers send "css[]" for multi-file inputs.
var uploadFields = []struct {
	name string
	kind conversion.Kind
}{
	{"css", conversion.KindCSS},
	{"css[]", conversion.KindCSS},
	{"js", conversion.KindJS},
	{"js[]", conversion.KindJS},
}

// EncryptResponse is returned for a successful conversion.
type EncryptResponse struct {
	DownloadLink string  `json:"downloadLink" example:"/api/encrypt/download/0d9c.zip"`
	ElapsedSec   float64 `json:"elapsedSec" example:"1.23"`
}

// LimitExceededResponse is returned when a batch is over quota.
type LimitExceededResponse struct {
	Error       string  `json:"error" example:"limit_exceeded"`
	NextAllowed *string `json:"nextAllowed" example:"2025-03-01T19:00:00Z"`
}

// RemainingResponse reports the caller's remaining quota.
type RemainingResponse struct {
	Remaining int     `json:"remaining" example:"5"`
	NextReset *string `json:"nextReset"`
}

// HistoryAddResponse reports whether a submitted event was stored.
type HistoryAddResponse struct {
	Added bool `json:"added"`
}

// Handler serves the public conversion API.
type Handler struct {
	encrypt  *app.EncryptService
	history  *app.HistoryService
	registry ports.ArchiveRegistry
	clock    ports.Clock
	logger   zerolog.Logger

	maxUploadBytes int64
}

// HandlerDeps contains dependencies for Handler.
type HandlerDeps struct {
	Encrypt  *app.EncryptService
	History  *app.HistoryService // optional; nil disables /api/history
	Registry ports.ArchiveRegistry
	Clock    ports.Clock
	Logger   zerolog.Logger
}

// NewHandler creates the public API handler. A non-positive maxUploadBytes
// selects DefaultMaxUploadBytes.
func NewHandler(deps HandlerDeps, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{
		encrypt:        deps.Encrypt,
		history:        deps.History,
		registry:       deps.Registry,
		clock:          deps.Clock,
		logger:         deps.Logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Encrypt admits and converts an uploaded batch.
//
//	@Summary		Convert CSS and JS files
//	@Description	Minifies CSS and obfuscates JS, returning a link to a zip archive. Each file counts against the caller's quota.
//	@Tags			Encrypt
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			css[]	formData	file	false	"CSS files"
//	@Param			js[]	formData	file	false	"JS files"
//	@Success		200		{object}	EncryptResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		429		{object}	LimitExceededResponse
//	@Failure		500		{object}	ErrorResponse
//	@Router			/api/encrypt [post]
func (h *Handler) Encrypt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			writeError(w, http.StatusBadRequest, "no_files", "No files uploaded")
			return
		}
		h.logger.Debug().Err(err).Msg("invalid upload")
		writeError(w, http.StatusBadRequest, "invalid_upload", "Could not read the uploaded files")
		return
	}
	defer r.MultipartForm.RemoveAll()

	uploads := collectUploads(r.MultipartForm)
	id := IdentityFrom(r.Context())

	// The conversion and its ledger commit outlive a disconnecting client.
	out, err := h.encrypt.Encrypt(context.WithoutCancel(r.Context()), id, uploads)
	switch {
	case errors.Is(err, app.ErrNoFiles):
		writeError(w, http.StatusBadRequest, "no_files", "No files uploaded")
		return
	case errors.Is(err, app.ErrStorageUnavailable):
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "Encryption failed")
		return
	case err != nil:
		kind := conversion.KindOf(err)
		if kind == "" {
			kind = conversion.ErrTransform
		}
		writeError(w, http.StatusInternalServerError, string(kind), "Encryption failed")
		return
	}

	if !out.Admitted() {
		writeLimitExceeded(w, out.Decision, h.clock.Now())
		return
	}

	writeJSON(w, http.StatusOK, EncryptResponse{
		DownloadLink: out.Link,
		ElapsedSec:   out.Result.ElapsedSec(),
	})
}

func collectUploads(form *multipart.Form) []conversion.Upload {
	var uploads []conversion.Upload
	for _, f := range uploadFields {
		for _, fh := range form.File[f.name] {
			uploads = append(uploads, conversion.Upload{
				Name: fh.Filename,
				Kind: f.kind,
				Open: func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return uploads
}

func writeLimitExceeded(w http.ResponseWriter, d admission.Decision, now time.Time) {
	resp := LimitExceededResponse{Error: admission.ReasonLimitExceeded}
	if d.NextAllowed != nil {
		s := d.NextAllowed.UTC().Format(time.RFC3339)
		resp.NextAllowed = &s
	}
	if wait := admission.RetryAfter(d, now); wait > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	writeJSON(w, http.StatusTooManyRequests, resp)
}

// Remaining reports how many files the caller may still convert.
//
//	@Summary		Remaining quota
//	@Description	Files left in the current window and when the oldest counted batch expires
//	@Tags			Encrypt
//	@Produce		json
//	@Success		200	{object}	RemainingResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/api/encrypt/remaining [get]
func (h *Handler) Remaining(w http.ResponseWriter, r *http.Request) {
	remaining, next, err := h.encrypt.Remaining(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		h.logger.Error().Err(err).Msg("remaining lookup failed")
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "Could not read usage")
		return
	}

	resp := RemainingResponse{Remaining: remaining}
	if next != nil {
		s := next.UTC().Format(time.RFC3339)
		resp.NextReset = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

// Download streams a finished archive.
//
//	@Summary		Download archive
//	@Tags			Encrypt
//	@Produce		application/zip
//	@Param			filename	path	string	true	"Archive name"
//	@Success		200			"Zip archive"
//	@Failure		404			{object}	ErrorResponse
//	@Router			/api/encrypt/download/{filename} [get]
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	// Only names the registry handed out are served, never raw paths.
	if name == "" || name != path.Base(name) {
		writeError(w, http.StatusNotFound, "not_found", "File not found")
		return
	}
	filePath, ok := h.registry.Lookup(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "File not found")
		return
	}

	f, err := os.Open(filePath)
	if err != nil {
		h.logger.Warn().Err(err).Str("archive", name).Msg("registered archive missing")
		writeError(w, http.StatusNotFound, "not_found", "File not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Could not read file")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

// ListHistory returns the caller's conversions, newest first.
//
//	@Summary		Conversion history
//	@Tags			History
//	@Produce		json
//	@Success		200	{array}		history.Event
//	@Failure		401	{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/api/history [get]
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID := IdentityFrom(r.Context()).UserID
	events, err := h.history.List(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("history list failed")
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "Could not read history")
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// AddHistory stores a client-submitted conversion event.
//
//	@Summary		Add history event
//	@Tags			History
//	@Accept			json
//	@Produce		json
//	@Param			event	body		history.Event	true	"Event"
//	@Success		201		{object}	HistoryAddResponse
//	@Success		200		{object}	HistoryAddResponse	"Duplicate ignored"
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/api/history [post]
func (h *Handler) AddHistory(w http.ResponseWriter, r *http.Request) {
	var e history.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if e.CSSCount < 0 || e.JSCount < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "Counts must not be negative")
		return
	}

	userID := IdentityFrom(r.Context()).UserID
	added, err := h.history.Add(r.Context(), userID, e)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("history add failed")
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "Could not store history")
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, HistoryAddResponse{Added: added})
}

// ClearHistory removes all of the caller's events.
//
//	@Summary		Clear history
//	@Tags			History
//	@Success		204
//	@Failure		401	{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/api/history [delete]
func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID := IdentityFrom(r.Context()).UserID
	if err := h.history.Clear(r.Context(), userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("history clear failed")
		writeError(w, http.StatusInternalServerError, "storage_unavailable", "Could not clear history")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
