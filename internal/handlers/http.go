// Package handlers exposes the HTTP query and lifecycle surface used by
// dashboards and the ingestion collaborator.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/parcelops/scan-engine/internal/consignment"
	"github.com/parcelops/scan-engine/internal/engine"
	"github.com/parcelops/scan-engine/internal/metrics"
	"github.com/parcelops/scan-engine/internal/predictor"
	"github.com/parcelops/scan-engine/internal/sequence"
	"github.com/parcelops/scan-engine/internal/store"
	"github.com/parcelops/scan-engine/internal/taxonomy"
)

// HTTPHandler handles HTTP requests for the scan engine.
type HTTPHandler struct {
	logger       *slog.Logger
	alerts       *store.Store
	consignments *consignment.Store
	engine       *engine.Engine
	predictor    *predictor.Predictor
	taxonomy     *taxonomy.Table
	metrics      *metrics.Collector
}

// NewHTTPHandler creates the HTTP handler.
func NewHTTPHandler(
	logger *slog.Logger,
	alerts *store.Store,
	consignments *consignment.Store,
	eng *engine.Engine,
	pred *predictor.Predictor,
	table *taxonomy.Table,
	collector *metrics.Collector,
) *HTTPHandler {
	return &HTTPHandler{
		logger:       logger,
		alerts:       alerts,
		consignments: consignments,
		engine:       eng,
		predictor:    pred,
		taxonomy:     table,
		metrics:      collector,
	}
}

// RegisterRoutes registers HTTP routes.
func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods("GET")

	alertRouter := router.PathPrefix("/alerts").Subrouter()
	alertRouter.HandleFunc("", h.handleListAlerts).Methods("GET")
	alertRouter.HandleFunc("/stats", h.handleAlertStats).Methods("GET")
	alertRouter.HandleFunc("/search", h.handleSearchAlerts).Methods("GET")
	alertRouter.HandleFunc("/rules", h.handleListRules).Methods("GET")
	alertRouter.HandleFunc("/{id}", h.handleGetAlert).Methods("GET")
	alertRouter.HandleFunc("/{id}/acknowledge", h.handleAcknowledgeAlert).Methods("POST")
	alertRouter.HandleFunc("/{id}/resolve", h.handleResolveAlert).Methods("POST")
	alertRouter.HandleFunc("/{id}/override", h.handleOverrideAlert).Methods("POST")
	alertRouter.HandleFunc("/{id}/assign", h.handleAssignAlert).Methods("POST")

	consignmentRouter := router.PathPrefix("/consignments").Subrouter()
	consignmentRouter.HandleFunc("", h.handleCreateConsignment).Methods("POST")
	consignmentRouter.HandleFunc("/{awb}", h.handleGetConsignment).Methods("GET")
	consignmentRouter.HandleFunc("/{awb}/scans", h.handleAppendScan).Methods("POST")
	consignmentRouter.HandleFunc("/{awb}/alerts", h.handleConsignmentAlerts).Methods("GET")
	consignmentRouter.HandleFunc("/{awb}/validation", h.handleValidation).Methods("GET")
	consignmentRouter.HandleFunc("/{awb}/prediction", h.handlePrediction).Methods("GET")
	consignmentRouter.HandleFunc("/{awb}/estimate", h.handleEstimate).Methods("GET")

	taxonomyRouter := router.PathPrefix("/taxonomy").Subrouter()
	taxonomyRouter.HandleFunc("/types", h.handleTaxonomyTypes).Methods("GET")
	taxonomyRouter.HandleFunc("/categories", h.handleTaxonomyCategories).Methods("GET")
	taxonomyRouter.HandleFunc("/categories/{category}", h.handleTaxonomyByCategory).Methods("GET")
	taxonomyRouter.HandleFunc("/critical", h.handleTaxonomyCritical).Methods("GET")
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"consignments": h.consignments.Len(),
	})
}

// Alert queries

func (h *HTTPHandler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if severity := r.URL.Query().Get("severity"); severity != "" {
		h.writeJSON(w, http.StatusOK, h.alerts.BySeverity(store.Severity(severity)))
		return
	}
	h.writeJSON(w, http.StatusOK, h.alerts.All())
}

func (h *HTTPHandler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := h.alerts.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, alert)
}

func (h *HTTPHandler) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.alerts.Stats())
}

func (h *HTTPHandler) handleSearchAlerts(w http.ResponseWriter, r *http.Request) {
	partial := r.URL.Query().Get("awb")
	if partial == "" {
		h.writeError(w, http.StatusBadRequest, "awb query parameter is required")
		return
	}
	h.writeJSON(w, http.StatusOK, h.alerts.SearchByAWB(partial))
}

func (h *HTTPHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Rules())
}

// Alert lifecycle

type transitionRequest struct {
	Note     string `json:"note"`
	Operator string `json:"operator"`
}

func (h *HTTPHandler) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	req := h.decodeTransition(r)
	if err := h.alerts.Acknowledge(mux.Vars(r)["id"], req.Note); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	req := h.decodeTransition(r)
	// Terminal transitions require an audit note at this boundary.
	if req.Note == "" {
		h.writeError(w, http.StatusBadRequest, "a non-empty note is required to resolve an alert")
		return
	}
	if err := h.alerts.Resolve(mux.Vars(r)["id"], req.Note); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleOverrideAlert(w http.ResponseWriter, r *http.Request) {
	req := h.decodeTransition(r)
	if req.Note == "" {
		h.writeError(w, http.StatusBadRequest, "a non-empty note is required to override an alert")
		return
	}
	if err := h.alerts.Override(mux.Vars(r)["id"], req.Note); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleAssignAlert(w http.ResponseWriter, r *http.Request) {
	req := h.decodeTransition(r)
	if req.Operator == "" {
		h.writeError(w, http.StatusBadRequest, "operator is required")
		return
	}
	if err := h.alerts.Assign(mux.Vars(r)["id"], req.Operator); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Consignments and ingestion

type createConsignmentRequest struct {
	AWB               string    `json:"awb"`
	ServiceType       string    `json:"service_type"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
}

func (h *HTTPHandler) handleCreateConsignment(w http.ResponseWriter, r *http.Request) {
	var req createConsignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AWB == "" {
		h.writeError(w, http.StatusBadRequest, "awb is required")
		return
	}

	created := h.consignments.Upsert(&consignment.Consignment{
		AWB:               req.AWB,
		ServiceType:       req.ServiceType,
		CreatedAt:         time.Now(),
		EstimatedDelivery: req.EstimatedDelivery,
	})
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c, _ := h.consignments.Get(req.AWB)
	h.writeJSON(w, status, c)
}

func (h *HTTPHandler) handleGetConsignment(w http.ResponseWriter, r *http.Request) {
	c, err := h.consignments.Get(mux.Vars(r)["awb"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

type appendScanRequest struct {
	Type         string    `json:"type"`
	Subcode      string    `json:"subcode"`
	Timestamp    time.Time `json:"timestamp"`
	Location     string    `json:"location"`
	FacilityCode string    `json:"facility_code"`
	OperatorID   string    `json:"operator_id"`
}

// handleAppendScan is the in-process ingestion boundary: append the
// scan and re-evaluate the consignment in one per-AWB critical section,
// returning any alerts the evaluation created.
func (h *HTTPHandler) handleAppendScan(w http.ResponseWriter, r *http.Request) {
	awb := mux.Vars(r)["awb"]

	var req appendScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		h.writeError(w, http.StatusBadRequest, "scan type is required")
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	var created []*store.Alert
	err := h.consignments.Update(awb, func(c *consignment.Consignment) error {
		consignment.Append(c, consignment.Scan{
			Type:         req.Type,
			Subcode:      req.Subcode,
			Timestamp:    req.Timestamp,
			Location:     req.Location,
			FacilityCode: req.FacilityCode,
			OperatorID:   req.OperatorID,
		})
		created = h.engine.Evaluate(c)
		return nil
	})
	if err != nil {
		h.writeError(w, http.StatusNotFound, "consignment not found")
		return
	}

	h.metrics.ScanIngested()
	h.writeJSON(w, http.StatusCreated, map[string]any{
		"alerts_created": created,
	})
}

func (h *HTTPHandler) handleConsignmentAlerts(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.alerts.ByAWB(mux.Vars(r)["awb"]))
}

func (h *HTTPHandler) handleValidation(w http.ResponseWriter, r *http.Request) {
	c, err := h.consignments.Get(mux.Vars(r)["awb"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	h.writeJSON(w, http.StatusOK, sequence.Validate(c.Scans, c.ServiceType))
}

func (h *HTTPHandler) handlePrediction(w http.ResponseWriter, r *http.Request) {
	c, err := h.consignments.Get(mux.Vars(r)["awb"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	h.writeJSON(w, http.StatusOK, h.predictor.Predict(c))
}

func (h *HTTPHandler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	c, err := h.consignments.Get(mux.Vars(r)["awb"])
	if err != nil {
		h.writeError(w, http.StatusNotFound, "consignment not found")
		return
	}
	h.writeJSON(w, http.StatusOK, h.predictor.EstimateDelivery(c))
}

// Taxonomy queries

func (h *HTTPHandler) handleTaxonomyTypes(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.taxonomy.AllTypes())
}

func (h *HTTPHandler) handleTaxonomyCategories(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.taxonomy.AllCategories())
}

func (h *HTTPHandler) handleTaxonomyByCategory(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.taxonomy.CodesByCategory(mux.Vars(r)["category"]))
}

func (h *HTTPHandler) handleTaxonomyCritical(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.taxonomy.CriticalCodes())
}

// Helpers

func (h *HTTPHandler) decodeTransition(r *http.Request) transitionRequest {
	var req transitionRequest
	if r.Body != nil {
		// An empty or malformed body is an empty note, not an error.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return req
}

// writeStoreError maps store errors onto status codes: unknown alert is
// 404, a rejected lifecycle transition is 409.
func (h *HTTPHandler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAlertNotFound):
		h.writeError(w, http.StatusNotFound, "alert not found")
	case errors.Is(err, store.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "invalid alert status transition")
	default:
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
