package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/identifier"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/risk"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	deps Deps
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{deps: deps}
}

// Assess handles POST /assess: synchronous pre-transaction evaluation.
func (h *Handler) Assess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req risk.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.UserID = GetUserID(ctx)

	assessment, err := h.deps.Evaluator.Evaluate(ctx, &req)
	if err != nil {
		writeError(w, err)
		return
	}

	// High-severity assessments raise an alert even before a transaction
	// exists. Emission failures never block the response.
	if h.deps.Alerts != nil {
		if _, err := h.deps.Alerts.FromAssessment(ctx, req.UserID, "", assessment); err != nil {
			slog.Warn("failed to emit assessment alert", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, assessment)
}

// RecordTransactionRequest is the request body for POST /transactions.
type RecordTransactionRequest struct {
	Amount   float64 `json:"amount"`
	Receiver string  `json:"receiverIdentifier"`
	Note     string  `json:"note,omitempty"`
	DeviceID string  `json:"deviceId,omitempty"`
}

// RecordTransaction handles POST /transactions: records a completed
// transfer and hands it to the async pipeline (profile aggregation and
// post-transaction analysis) via the bus.
func (h *Handler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	var req RecordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := identifier.Validate(req.Receiver, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	payee, err := identifier.Parse(req.Receiver)
	if err != nil {
		writeError(w, err)
		return
	}

	tx := &domain.Transaction{
		ID:         uuid.New().String(),
		UserID:     userID,
		Identifier: payee.String(),
		Amount:     req.Amount,
		Note:       req.Note,
		DeviceID:   req.DeviceID,
		CreatedAt:  time.Now().UTC(),
	}

	if err := h.deps.Repo.SaveTransaction(ctx, tx); err != nil {
		writeError(w, err)
		return
	}

	// Fire-and-forget: analysis happens off the bus, the transfer itself
	// never waits on it.
	if h.deps.Bus != nil {
		payload, _ := json.Marshal(tx)
		if err := h.deps.Bus.Publish(ctx, domain.TopicTransactionRecorded, payload); err != nil {
			slog.Warn("failed to publish transaction", "tx_id", tx.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusCreated, tx)
}

// GetTransaction handles GET /transactions/{id}.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.deps.Repo.GetTransaction(ctx, txID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tx.UserID != GetUserID(ctx) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// AnalyzeTransaction handles POST /transactions/{id}/analyze: synchronous
// re-analysis of a recorded transfer. Appends a new analysis record.
func (h *Handler) AnalyzeTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	tx, err := h.deps.Repo.GetTransaction(ctx, txID)
	if err != nil {
		writeError(w, err)
		return
	}
	if tx.UserID != GetUserID(ctx) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	analysis, err := h.deps.Analyzer.Analyze(ctx, tx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// GetAnalysis handles GET /analyses/{id}.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	analysisID := chi.URLParam(r, "id")

	analysis, err := h.deps.Repo.GetAnalysis(ctx, analysisID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// ListAnalyses handles GET /transactions/{id}/analyses: the append-only
// analysis log for a transaction, newest first.
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := chi.URLParam(r, "id")

	analyses, err := h.deps.Repo.ListAnalysesByTransaction(ctx, txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": analyses,
		"count":    len(analyses),
	})
}

// ReportBlacklistRequest is the request body for POST /blacklist/report.
type ReportBlacklistRequest struct {
	UpiID    string          `json:"upiId"`
	Reason   string          `json:"reason"`
	Severity domain.Severity `json:"severity,omitempty"`
}

// ReportBlacklist handles POST /blacklist/report.
func (h *Handler) ReportBlacklist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReportBlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	entry, err := h.deps.Blacklist.Report(ctx, req.UpiID, req.Reason, req.Severity)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// GetBlacklistEntry handles GET /blacklist/{identifier}.
func (h *Handler) GetBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := chi.URLParam(r, "identifier")

	entry, err := h.deps.Blacklist.Lookup(ctx, raw)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

// CreateContactRequest is the request body for POST /contacts.
type CreateContactRequest struct {
	Identifier  string             `json:"identifier"`
	TrustStatus domain.TrustStatus `json:"trustStatus,omitempty"`
	DisplayName string             `json:"displayName,omitempty"`
}

// CreateContact handles POST /contacts: inserts or updates a directory
// entry for the calling user.
func (h *Handler) CreateContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := GetUserID(ctx)

	var req CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	payee, err := identifier.Parse(req.Identifier)
	if err != nil {
		writeError(w, err)
		return
	}

	status := req.TrustStatus
	if status == "" {
		status = domain.TrustStatusNew
	}
	switch status {
	case domain.TrustStatusTrusted, domain.TrustStatusNew, domain.TrustStatusFlagged:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "trustStatus must be trusted, new, or flagged",
		})
		return
	}

	now := time.Now().UTC()
	contact := &domain.Contact{
		OwnerUserID: userID,
		Identifier:  payee.String(),
		TrustStatus: status,
		DisplayName: req.DisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.deps.Repo.SaveContact(ctx, contact); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, contact)
}

// ListContacts handles GET /contacts.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	contacts, err := h.deps.Repo.ListContacts(ctx, GetUserID(ctx))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contacts": contacts,
		"count":    len(contacts),
	})
}

// ListAlerts handles GET /alerts?status=unread.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := domain.AlertStatus(r.URL.Query().Get("status"))

	alerts, err := h.deps.Alerts.List(ctx, GetUserID(ctx), status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// UpdateAlertStatusRequest is the request body for POST /alerts/{id}/status.
type UpdateAlertStatusRequest struct {
	Status domain.AlertStatus `json:"status"`
}

// UpdateAlertStatus handles POST /alerts/{id}/status: forward-only
// lifecycle transitions.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	alertID := chi.URLParam(r, "id")

	var req UpdateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	a, err := h.deps.Alerts.UpdateStatus(ctx, alertID, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListRules returns all rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.deps.Engine.LoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Expression  string  `json:"expression"`
	Weight      float64 `json:"weight"`
	Reason      string  `json:"reason,omitempty"`
	Enabled     bool    `json:"enabled"`
}

// CreateRule validates and persists a custom rule. Call POST /rules/reload
// afterwards to hot-load it into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.Weight <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "weight must be positive",
		})
		return
	}

	now := time.Now().UTC()
	rule := &domain.RiskRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		Weight:      req.Weight,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.deps.Engine.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.deps.Repo.SaveRiskRule(ctx, rule); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules reloads enabled rules from the database into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	configs, err := h.deps.Repo.ListRiskRules(ctx)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.deps.Engine.ReloadRules(configs); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	slog.Info("rules reloaded", "count", h.deps.Engine.RulesCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded": true,
		"count":    h.deps.Engine.RulesCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.deps.Repo != nil {
		if err := h.deps.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.deps.Cache != nil {
		if err := h.deps.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.deps.Version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, domain.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable"})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
