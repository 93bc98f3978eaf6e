package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"healthai/db"
	"healthai/inference"
	"healthai/ml"
)

const maxPredictionsLimit = 1000

// PredictionQuerier reads back recorded predictions.
type PredictionQuerier interface {
	QueryPredictions(ctx context.Context, patientID string, limit int) ([]db.Prediction, error)
}

type Handlers struct {
	service *inference.Service
	store   PredictionQuerier
	logger  *zap.Logger
}

// NewHandlers builds the route handlers. store may be nil, which disables
// GET /predictions.
func NewHandlers(service *inference.Service, store PredictionQuerier, logger *zap.Logger) *Handlers {
	return &Handlers{service: service, store: store, logger: logger}
}

func RegisterHandlers(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /model/info", h.handleModelInfo)
	mux.HandleFunc("GET /predictions", h.handlePredictions)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
}

func (h *Handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Health AI API is running!"})
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDetail(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeDetail(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req, err := inference.DecodeRequest(body)
	if err != nil {
		var ve *inference.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string][]string{"detail": ve.Details()})
			return
		}
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := h.service.Predict(r.Context(), req)
	if err != nil {
		fields := []zap.Field{zap.String("request_id", GetRequestID(r.Context())), zap.Error(err)}
		var ie *inference.InferenceError
		if errors.As(err, &ie) {
			fields = append(fields, zap.String("model", ie.Model), zap.String("stage", ie.Stage))
		}
		h.logger.Error("prediction failed", fields...)
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type modelInfo struct {
	Name         string    `json:"name"`
	Kind         string    `json:"kind"`
	Classes      []string  `json:"classes"`
	FeatureNames []string  `json:"feature_names"`
	Explainer    string    `json:"explainer"`
	TrainedAt    time.Time `json:"trained_at"`
}

func describe(p *ml.Pipeline) modelInfo {
	return modelInfo{
		Name:         p.Name,
		Kind:         p.Kind,
		Classes:      p.Classes,
		FeatureNames: p.FeatureNames,
		Explainer:    p.ExplainerMethod(),
		TrainedAt:    p.TrainedAt,
	}
}

func (h *Handlers) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	models := h.service.Models()
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": models.Generation,
		"loaded_at":  models.LoadedAt,
		"models": map[string]modelInfo{
			inference.ReadmissionModel: describe(models.Readmission),
			inference.SeverityModel:    describe(models.Severity),
		},
	})
}

func (h *Handlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeDetail(w, http.StatusNotFound, "prediction store is disabled")
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = min(l, maxPredictionsLimit)
		}
	}
	patientID := r.URL.Query().Get("patient_id")

	predictions, err := h.store.QueryPredictions(r.Context(), patientID, limit)
	if err != nil {
		h.logger.Error("query predictions failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to query predictions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"patient_id":  patientID,
		"predictions": predictions,
	})
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.service.Metrics()
	if metrics == nil {
		writeDetail(w, http.StatusNotFound, "metrics are disabled")
		return
	}
	metrics.CollectRuntime()
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	if err := metrics.ExportPrometheus(w); err != nil {
		h.logger.Warn("failed to write metrics", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
