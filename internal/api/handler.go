package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-clinical/bedside/internal/bus"
	"github.com/opensource-clinical/bedside/internal/catalog"
	"github.com/opensource-clinical/bedside/internal/domain"
	"github.com/opensource-clinical/bedside/internal/instruments"
	"github.com/opensource-clinical/bedside/internal/report"
	"github.com/opensource-clinical/bedside/internal/repository"
	"github.com/opensource-clinical/bedside/internal/scoring"
	"github.com/opensource-clinical/bedside/internal/usage"
	"github.com/opensource-clinical/bedside/internal/worker"
)

// maxBodyBytes caps request bodies; rule tables are the largest payload.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	repo        domain.Repository
	cache       domain.Cache
	bus         domain.EventBus
	registry    *scoring.Registry
	loader      *catalog.Loader
	usage       *usage.Service
	worker      *worker.Worker
	allowCustom bool
	catalogTTL  time.Duration
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies, allowCustom bool, catalogTTL time.Duration, version string) *Handler {
	if catalogTTL <= 0 {
		catalogTTL = time.Minute
	}
	return &Handler{
		repo:        deps.Repository,
		cache:       deps.Cache,
		bus:         deps.Bus,
		registry:    deps.Registry,
		loader:      deps.Loader,
		usage:       deps.Usage,
		worker:      deps.Worker,
		allowCustom: allowCustom,
		catalogTTL:  catalogTTL,
		version:     version,
	}
}

// EvaluateRequest is the request body for POST /instruments/{id}/evaluate.
type EvaluateRequest struct {
	Inputs map[string]any `json:"inputs"`
}

// EvaluateResponse is the response for POST /instruments/{id}/evaluate.
type EvaluateResponse struct {
	Evaluation *domain.Evaluation `json:"evaluation"`
	Metadata   struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// InstrumentResponse is the response for GET /instruments/{id}.
type InstrumentResponse struct {
	Instrument *domain.Instrument `json:"instrument"`
	Source     string             `json:"source"`
}

// CatalogResponse is the response for GET /instruments.
type CatalogResponse struct {
	Instruments []domain.InstrumentSummary `json:"instruments"`
	Count       int                        `json:"count"`
}

// Evaluate handles POST /instruments/{id}/evaluate requests.
// Supplied inputs are validated against the instrument's schema before scoring.
// ?view=report returns the report view and ?view=markdown its text rendering.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	view := r.URL.Query().Get("view")
	switch view {
	case "", "evaluation", "report", "markdown":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown view %q", view))
		return
	}

	table, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Parse request
	var req EvaluateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	inst := table.Instrument()
	if err := scoring.ValidateInputs(inst, req.Inputs); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "inputs outside declared domain",
			"details": splitJoined(err),
		})
		return
	}

	ctx, span := tracer.Start(ctx, "scoring.evaluate")
	span.SetAttributes(
		attribute.String("instrument.id", id),
		attribute.String("instrument.version", table.Version()),
	)
	eval, err := table.Evaluate(req.Inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		span.End()
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("rule table defect",
				"instrument_id", id,
				"version", table.Version(),
				"error", err,
			)
		}
		writeError(w, status, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("evaluation.score", eval.Score),
		attribute.String("evaluation.tier", eval.Tier.Label),
	)
	span.End()

	worker.Completed(ctx, h.bus, h.usage, eval)

	switch view {
	case "report":
		writeJSON(w, http.StatusOK, report.Build(inst, eval))
		return
	case "markdown":
		writeText(w, http.StatusOK, "text/markdown; charset=utf-8", report.Markdown(report.Build(inst, eval)))
		return
	}

	var resp EvaluateResponse
	resp.Evaluation = eval
	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	body := map[string]any{
		"status":      status,
		"version":     h.version,
		"instruments": h.registry.Count(),
	}
	if h.worker != nil {
		body["worker"] = h.worker.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}

// Ready returns whether the server is ready to accept traffic:
// at least one instrument must be published.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.registry.Count() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListInstruments handles GET /instruments. The listing is cached;
// ?format=markdown renders the catalog page instead.
func (h *Handler) ListInstruments(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "markdown" {
		writeText(w, http.StatusOK, "text/markdown; charset=utf-8", report.CatalogMarkdown(h.registry.List()))
		return
	}

	ctx := r.Context()
	if h.cache != nil {
		if cached, err := h.cache.Get(ctx, catalog.CacheKey); err == nil && cached != nil {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", "HIT")
			w.WriteHeader(http.StatusOK)
			w.Write(cached)
			return
		}
	}

	items := h.registry.List()
	body, err := json.Marshal(CatalogResponse{Instruments: items, Count: len(items)})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode catalog")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, catalog.CacheKey, body, h.catalogTTL); err != nil {
			slog.Warn("failed to cache catalog", "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", "MISS")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// GetInstrument handles GET /instruments/{id}: the full rule table.
func (h *Handler) GetInstrument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	table, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	source, _ := h.registry.Source(id)

	writeJSON(w, http.StatusOK, InstrumentResponse{
		Instrument: table.Instrument(),
		Source:     source,
	})
}

// CreateInstrument handles POST /instruments. The body is a rule table in
// JSON or YAML. It is compiled before it is stored, and published on this
// node immediately; other nodes pick it up from the change event.
func (h *Handler) CreateInstrument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.allowCustom {
		writeError(w, http.StatusForbidden, "custom instruments are disabled")
		return
	}
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	inst, err := instruments.Parse(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.registry.Validate(inst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "invalid rule table",
			"details": splitJoined(err),
		})
		return
	}

	if err := h.repo.SaveInstrument(ctx, inst); err != nil {
		slog.Error("failed to save instrument", "instrument_id", inst.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save instrument")
		return
	}

	if err := h.registry.Load(inst, domain.SourceCustom); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	h.instrumentsChanged(r, domain.InstrumentChange{InstrumentID: inst.ID, Version: inst.Version})

	slog.Info("instrument created",
		"instrument_id", inst.ID,
		"version", inst.Version,
	)

	writeJSON(w, http.StatusCreated, map[string]any{
		"instrument": inst.Summary(domain.SourceCustom),
		"warnings":   inst.Lint(),
	})
}

// DeleteInstrument handles DELETE /instruments/{id}. Only custom instruments
// can be deleted; a built-in the custom table overrode is published again.
func (h *Handler) DeleteInstrument(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if !h.allowCustom {
		writeError(w, http.StatusForbidden, "custom instruments are disabled")
		return
	}
	if h.repo == nil || h.loader == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	source, ok := h.registry.Source(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("%v: %s", domain.ErrUnknownInstrument, id))
		return
	}
	if source != domain.SourceCustom {
		writeError(w, http.StatusConflict, fmt.Sprintf("instrument %s is %s and cannot be deleted", id, source))
		return
	}

	if err := h.repo.DeleteInstrument(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "instrument not found")
			return
		}
		slog.Error("failed to delete instrument", "instrument_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete instrument")
		return
	}

	if err := h.loader.Reload(ctx, h.registry); err != nil {
		slog.Error("reload after delete failed", "instrument_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "instrument deleted but reload failed")
		return
	}

	h.instrumentsChanged(r, domain.InstrumentChange{InstrumentID: id, Deleted: true})

	slog.Info("instrument deleted", "instrument_id", id)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "instrument deleted",
		"id":      id,
	})
}

// ReloadInstruments rebuilds the registry from every source.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadInstruments(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusServiceUnavailable, "instrument loader not available")
		return
	}

	if err := h.loader.Reload(r.Context(), h.registry); err != nil {
		slog.Error("failed to reload instruments", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload instruments: "+err.Error())
		return
	}

	h.instrumentsChanged(r, domain.InstrumentChange{})

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "instruments reloaded successfully",
		"count":   h.registry.Count(),
	})
}

// GetUsage handles GET /instruments/{id}/usage.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if h.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage counters not available")
		return
	}

	table, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	u, err := h.usage.Counts(r.Context(), table.Instrument())
	if err != nil {
		slog.Error("failed to read usage", "instrument_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read usage counters")
		return
	}

	writeJSON(w, http.StatusOK, u)
}

// instrumentsChanged drops the cached catalog and tells other nodes to reload.
func (h *Handler) instrumentsChanged(r *http.Request, change domain.InstrumentChange) {
	ctx := r.Context()
	if h.cache != nil {
		if err := h.cache.Delete(ctx, catalog.CacheKey); err != nil {
			slog.Warn("failed to invalidate catalog cache", "error", err)
		}
	}
	if h.bus != nil {
		if err := bus.PublishJSON(ctx, h.bus, domain.TopicInstrumentChanged, change); err != nil {
			slog.Warn("failed to publish instrument change",
				"instrument_id", change.InstrumentID,
				"error", err,
			)
		}
	}
}

// statusFor maps scoring errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownInstrument):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInputOutOfDomain), errors.Is(err, domain.ErrInvalidTable):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// splitJoined unpacks an errors.Join result into one message per error.
func splitJoined(err error) []string {
	return strings.Split(err.Error(), "\n")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeText(w http.ResponseWriter, status int, contentType, body string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
