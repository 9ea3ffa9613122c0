package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"chargeline/internal/charge"
	"chargeline/internal/model"
	"chargeline/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	services map[string]service.ChargeService
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

func NewHandler(services map[string]service.ChargeService, gatherer prometheus.Gatherer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{services: services, gatherer: gatherer, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	if h.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("POST /{backend}/charge", h.Charge)
	mux.HandleFunc("POST /{backend}/reset", h.Reset)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) Charge(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req model.ChargeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	// an empty body is a request without a unit; the engine reports it
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	res, err := svc.Debit(r.Context(), req)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.lookup(w, r)
	if !ok {
		return
	}

	balance, err := svc.ResetBalance(r.Context())
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, model.ResetResult{Balance: balance})
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (service.ChargeService, bool) {
	svc, ok := h.services[r.PathValue("backend")]
	if !ok {
		h.respondError(w, http.StatusNotFound, "unknown_backend")
	}
	return svc, ok
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, charge.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, charge.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			h.logger.Warn("failed to write response", zap.Error(err))
		}
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
