package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/star/polargen/internal/batch"
	"github.com/star/polargen/internal/metrics"
	"github.com/star/polargen/internal/polar"
	"github.com/star/polargen/internal/viterna"
)

// maxBodyBytes caps request bodies; a few thousand samples fit comfortably.
const maxBodyBytes = 1 << 20

// Handler serves the polar endpoints.
type Handler struct {
	store      *polar.Store
	runner     *batch.Runner
	base       batch.Config
	limiter    *requestLimiter
	trustProxy bool
	runTimeout time.Duration
	logger     *slog.Logger
}

type extrapolateRequest struct {
	AspectRatio float64        `json:"aspect_ratio"`
	Samples     []polar.Sample `json:"samples"`
}

type runRequest struct {
	Airfoil     string    `json:"airfoil"`
	Reynolds    []float64 `json:"reynolds"`
	AspectRatio float64   `json:"aspect_ratio,omitempty"`
}

type runOutcome struct {
	Reynolds float64 `json:"reynolds"`
	Points   int     `json:"points,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type runResponse struct {
	Airfoil   string       `json:"airfoil"`
	Completed []runOutcome `json:"completed"`
	Failed    []runOutcome `json:"failed"`
}

type polarSummary struct {
	Airfoil     string    `json:"airfoil"`
	Reynolds    float64   `json:"reynolds"`
	Points      int       `json:"points"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HandleExtrapolate completes the posted samples.
// POST /api/v1/extrapolate
func (h *Handler) HandleExtrapolate(w http.ResponseWriter, r *http.Request) {
	var req extrapolateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	start := time.Now()
	table, err := viterna.Extrapolate(req.Samples, req.AspectRatio)
	metrics.RecordExtrapolation(time.Since(start), err)
	if err != nil {
		status := http.StatusInternalServerError
		if isInputError(err) {
			status = http.StatusBadRequest
		}
		h.logger.Debug("extrapolation rejected", "samples", len(req.Samples), "error", err)
		writeError(w, status, err.Error())
		return
	}

	h.respond(w, http.StatusOK, table)
}

// HandleListPolars lists the stored polars.
// GET /api/v1/polars
func (h *Handler) HandleListPolars(w http.ResponseWriter, r *http.Request) {
	entries := h.store.List()
	out := make([]polarSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, polarSummary{
			Airfoil:     e.Key.Airfoil,
			Reynolds:    e.Key.Reynolds,
			Points:      e.Table.Len(),
			GeneratedAt: e.GeneratedAt,
		})
	}
	h.respond(w, http.StatusOK, out)
}

// HandleGetPolar returns one stored polar as text, or JSON with ?format=json.
// GET /api/v1/polars/{airfoil}/{reynolds}
func (h *Handler) HandleGetPolar(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	airfoil := vars["airfoil"]
	re, err := strconv.ParseFloat(vars["reynolds"], 64)
	if err != nil || !(re > 0) {
		writeError(w, http.StatusBadRequest, "invalid reynolds parameter")
		return
	}

	table := h.store.Get(airfoil, re)
	if table == nil {
		writeError(w, http.StatusNotFound, "no polar for "+airfoil+" at Re="+polar.FormatReynolds(re))
		return
	}

	switch r.URL.Query().Get("format") {
	case "json":
		h.respond(w, http.StatusOK, table)
	case "", "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+polar.FileName(airfoil, re)+`"`)
		if err := polar.WriteTable(w, table); err != nil {
			h.logger.Warn("writing polar response failed", "airfoil", airfoil, "reynolds", re, "error", err)
		}
	default:
		writeError(w, http.StatusBadRequest, "format must be text or json")
	}
}

// HandleStats reports store statistics.
// GET /api/v1/polars/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, h.store.Stats())
}

// HandleRuns runs a batch with the server's base config for the posted
// airfoil and Reynolds numbers.
// POST /api/v1/runs
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "solver runs are disabled")
		return
	}

	var req runRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cfg := h.base
	cfg.Airfoil = req.Airfoil
	cfg.Reynolds = req.Reynolds
	if req.AspectRatio != 0 {
		cfg.AspectRatio = req.AspectRatio
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.runTimeout)
	defer cancel()

	res, err := h.runner.Run(ctx, cfg)
	switch {
	case errors.Is(err, batch.ErrInvalidConfig):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn("run interrupted", "airfoil", cfg.Airfoil, "timeout", h.runTimeout.String(), "error", err)
		writeError(w, http.StatusServiceUnavailable, "run interrupted")
		return
	}

	status := http.StatusOK
	if errors.Is(err, batch.ErrNoResults) {
		status = http.StatusBadGateway
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respond(w, status, newRunResponse(res))
}

func newRunResponse(res *batch.Result) runResponse {
	out := runResponse{
		Airfoil:   res.Airfoil,
		Completed: make([]runOutcome, 0, len(res.Polars)),
		Failed:    make([]runOutcome, 0, len(res.Failures)),
	}
	for _, re := range res.Reynolds() {
		out.Completed = append(out.Completed, runOutcome{Reynolds: re, Points: res.Polars[re].Len()})
	}
	for re, err := range res.Failures {
		out.Failed = append(out.Failed, runOutcome{Reynolds: re, Error: err.Error()})
	}
	sort.Slice(out.Failed, func(i, j int) bool { return out.Failed[i].Reynolds < out.Failed[j].Reynolds })
	return out
}

func isInputError(err error) bool {
	return errors.Is(err, viterna.ErrInvalidInput) ||
		errors.Is(err, viterna.ErrDegenerateStall) ||
		errors.Is(err, viterna.ErrOverlap)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// respond writes v as JSON and logs a body that could not be encoded.
func (h *Handler) respond(w http.ResponseWriter, status int, v any) {
	if err := writeJSON(w, status, v); err != nil {
		h.logger.Warn("encoding response failed", "status", status, "error", err)
	}
}

// writeJSON encodes v before writing the header, so an unencodable value
// turns into a 500 instead of a truncated body under the original status.
func writeJSON(w http.ResponseWriter, status int, v any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"encoding response failed"}`+"\n")
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
