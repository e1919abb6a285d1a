// Package handlers implements the HTTP handlers for the yieldcouncil
// decision engine: triggering evaluation cycles, browsing the decision
// ledger, settling outcomes, and reporting engine status.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/yieldcouncil/yieldcouncil/internal/engine"
	"github.com/yieldcouncil/yieldcouncil/internal/ledger"
	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine *engine.Engine
	Ledger ledger.Ledger
}

// New creates a new Handlers instance.
func New(e *engine.Engine, l ledger.Ledger) *Handlers {
	return &Handlers{Engine: e, Ledger: l}
}

// ── Evaluation ──────────────────────────────────────────────

// Evaluate runs one full decision cycle. In reject lock mode a concurrent
// call gets 409; in queue mode it waits its turn.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	decision, err := h.Engine.Evaluate(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrBusy) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, decision)
}

// CancelEvaluate aborts the in-flight cycle, if any. The cycle itself
// resolves to a recorded hold; this endpoint only reports whether there
// was anything to cancel.
func (h *Handlers) CancelEvaluate(w http.ResponseWriter, r *http.Request) {
	if !h.Engine.Cancel() {
		respondError(w, http.StatusNotFound, "no evaluation in progress")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// ── Decision ledger ─────────────────────────────────────────

func (h *Handlers) ListDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.Ledger.History(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.DecisionRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (h *Handlers) GetDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "decisionId")

	record, err := h.Ledger.Get(r.Context(), id)
	if err != nil {
		var notFound *ledger.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// RecordOutcome attaches the execution backend's settlement result to a
// recorded decision, feeding the performance voter's history.
func (h *Handlers) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "decisionId")

	var req models.Outcome
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SettledAt.IsZero() {
		req.SettledAt = time.Now().UTC()
	}

	if err := h.Ledger.RecordOutcome(r.Context(), id, req); err != nil {
		var notFound *ledger.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
		} else {
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	log.Info().Str("id", id).Bool("success", req.Success).Msg("Outcome settled via API")
	respondJSON(w, http.StatusOK, map[string]string{"status": "settled", "id": id})
}

// ── Status ──────────────────────────────────────────────────

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Engine.Status(r.Context()))
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
