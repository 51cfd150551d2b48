// Package api exposes the gateway over HTTP and WebSocket: translation
// dispatch, cancellation, stats, health and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lmoretti/lingo-gateway/internal/dispatch"
	"github.com/lmoretti/lingo-gateway/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type HandlerConfig struct {
	Dispatcher *dispatch.Dispatcher
	Auth       *APIKeyAuthenticator

	Checkers      []HealthChecker
	HealthTimeout time.Duration

	// Per-WebSocket-connection message rate.
	WSMessageRate  rate.Limit
	WSMessageBurst int
}

type Handler struct {
	dispatcher *dispatch.Dispatcher
	auth       *APIKeyAuthenticator
	wsRate     rate.Limit
	wsBurst    int
	mux        *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Auth == nil {
		cfg.Auth = NewAPIKeyAuthenticator(nil)
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 5 * time.Second
	}
	if cfg.WSMessageRate == 0 {
		cfg.WSMessageRate = rate.Limit(50)
	}
	if cfg.WSMessageBurst == 0 {
		cfg.WSMessageBurst = 100
	}

	h := &Handler{
		dispatcher: cfg.Dispatcher,
		auth:       cfg.Auth,
		wsRate:     cfg.WSMessageRate,
		wsBurst:    cfg.WSMessageBurst,
		mux:        http.NewServeMux(),
	}

	protected := func(fn http.HandlerFunc) http.Handler {
		return cfg.Auth.Middleware(fn)
	}

	h.mux.Handle("POST /v1/translate", protected(h.handleTranslate))
	h.mux.Handle("POST /v1/cancel/{id}", protected(h.handleCancel))
	h.mux.Handle("GET /v1/stats", protected(h.handleStats))
	h.mux.Handle("GET /v1/ws", protected(h.handleWebSocket))
	h.mux.HandleFunc("GET /health", h.handleHealthLive)
	h.mux.HandleFunc("GET /health/live", h.handleHealthLive)
	h.mux.Handle("GET /health/ready", handleHealthReadyWithCheckers(cfg.Checkers, cfg.HealthTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req domain.TranslateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequestID == "" {
		req.RequestID = r.Header.Get("X-Request-ID")
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	result, err := h.dispatcher.Translate(r.Context(), req)
	if err != nil {
		writeDispatchError(w, req.RequestID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", result.RequestID)
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing request id")
		return
	}

	if !h.dispatcher.Cancel(id) {
		writeError(w, http.StatusNotFound, "request not found or already finished")
		return
	}

	slog.Info("request cancelled", "request_id", id)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"request_id": id,
		"cancelled":  true,
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.dispatcher.Stats())
}

func (h *Handler) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeDispatchError maps request-level dispatch failures onto HTTP.
// Per-item failures never reach here; they ride inside a 200 result.
func writeDispatchError(w http.ResponseWriter, requestID string, err error) {
	w.Header().Set("X-Request-ID", requestID)

	var qerr *domain.QuotaError
	if errors.As(err, &qerr) {
		w.Header().Set("Retry-After", strconv.Itoa(int(qerr.Wait.Seconds())+1))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"message":   qerr.Error(),
				"type":      "quota_exceeded",
				"provider":  qerr.Provider,
				"bucket":    qerr.Bucket,
				"wait_ms":   qerr.Wait.Milliseconds(),
				"alternate": qerr.Alternate,
			},
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUnsupportedPair):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrProviderNotFound):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrCancelled):
		writeError(w, http.StatusConflict, "request cancelled")
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		slog.Error("translation failed", "request_id", requestID, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "error",
			"code":    status,
		},
	})
}
