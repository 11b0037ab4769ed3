// Package api exposes the service over HTTP.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hemolink/hemolink/app"
	"github.com/hemolink/hemolink/core/errs"
	"github.com/hemolink/hemolink/core/lifecycle"
	"github.com/hemolink/hemolink/core/model"
	"github.com/hemolink/hemolink/core/ratelimit"
	"github.com/hemolink/hemolink/infra/logger"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hemolink_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hemolink_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Handler serves the public API.
type Handler struct {
	svc         *app.Service
	createLimit ratelimit.Config
	log         logger.Logger
}

// NewHandler creates the API handler. createLimit with zero MaxRequests
// disables creation throttling.
func NewHandler(svc *app.Service, createLimit ratelimit.Config) *Handler {
	return &Handler{svc: svc, createLimit: createLimit, log: logger.New("api")}
}

// Router builds the route table.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/responders", h.RegisterResponderHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/requests", h.CreateRequestHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/requests/{id}", h.GetRequestHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/requests/{id}/candidates", h.CandidatesHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/requests/{id}/dispatch", h.DispatchHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/requests/{id}/responses", h.SubmitResponseHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/requests/{id}/match", h.TryMatchHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/requests/{id}/cancel", h.CancelHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/requests/{id}/complete", h.CompleteHandler).Methods(http.MethodPost)
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRequestBody struct {
	BloodType string          `json:"blood_type"`
	Units     int             `json:"units"`
	Urgency   string          `json:"urgency"`
	Location  *model.Location `json:"location,omitempty"`
}

func (h *Handler) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/api/requests"))
	defer timer.ObserveDuration()

	if h.createLimit.MaxRequests > 0 {
		key := ratelimit.Key{Scope: "requester:" + requesterID(r), Action: "create"}
		if res, err := h.svc.CheckRateLimit(r.Context(), key, h.createLimit); err != nil {
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds()+1)))
			h.respondError(w, "POST", "/api/requests", err)
			return
		}
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.count("POST", "/api/requests", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req, err := h.svc.CreateRequest(r.Context(), lifecycle.CreateSpec{
		BloodType: model.BloodType(body.BloodType),
		Units:     body.Units,
		Urgency:   model.Urgency(body.Urgency),
		Location:  body.Location,
	})
	if err != nil {
		h.respondError(w, "POST", "/api/requests", err)
		return
	}
	h.count("POST", "/api/requests", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, req)
}

func (h *Handler) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.GetRequest(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, "GET", "/api/requests/{id}", err)
		return
	}
	h.count("GET", "/api/requests/{id}", http.StatusOK)
	respondWithJSON(w, http.StatusOK, req)
}

func (h *Handler) CandidatesHandler(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.svc.RankCandidates(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, "GET", "/api/requests/{id}/candidates", err)
		return
	}
	h.count("GET", "/api/requests/{id}/candidates", http.StatusOK)
	respondWithJSON(w, http.StatusOK, candidates)
}

func (h *Handler) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Dispatch(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, "POST", "/api/requests/{id}/dispatch", err)
		return
	}
	h.count("POST", "/api/requests/{id}/dispatch", http.StatusOK)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"request_id":   rep.RequestID,
		"notified":     rep.Notified(),
		"rate_limited": rep.RateLimited(),
		"failed":       rep.Failed(),
		"degraded":     rep.Degraded,
	})
}

type submitResponseBody struct {
	ResponderID string `json:"responder_id"`
	Kind        string `json:"kind"`
	ETAMinutes  int    `json:"eta_minutes"`
}

func (h *Handler) SubmitResponseHandler(w http.ResponseWriter, r *http.Request) {
	var body submitResponseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.count("POST", "/api/requests/{id}/responses", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	resp, err := h.svc.SubmitResponse(r.Context(), mux.Vars(r)["id"], body.ResponderID, model.ResponseKind(body.Kind), body.ETAMinutes)
	if err != nil {
		h.respondError(w, "POST", "/api/requests/{id}/responses", err)
		return
	}
	h.count("POST", "/api/requests/{id}/responses", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, resp)
}

type tryMatchBody struct {
	ResponderID string `json:"responder_id"`
}

func (h *Handler) TryMatchHandler(w http.ResponseWriter, r *http.Request) {
	var body tryMatchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.count("POST", "/api/requests/{id}/match", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req, err := h.svc.TryMatch(r.Context(), mux.Vars(r)["id"], body.ResponderID)
	if err != nil {
		h.respondError(w, "POST", "/api/requests/{id}/match", err)
		return
	}
	h.count("POST", "/api/requests/{id}/match", http.StatusOK)
	respondWithJSON(w, http.StatusOK, req)
}

func (h *Handler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelRequest(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondError(w, "POST", "/api/requests/{id}/cancel", err)
		return
	}
	h.count("POST", "/api/requests/{id}/cancel", http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompleteHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CompleteRequest(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondError(w, "POST", "/api/requests/{id}/complete", err)
		return
	}
	h.count("POST", "/api/requests/{id}/complete", http.StatusNoContent)
	w.WriteHeader(http.StatusNoContent)
}

type registerResponderBody struct {
	ID           string          `json:"id"`
	BloodType    string          `json:"blood_type"`
	Location     *model.Location `json:"location,omitempty"`
	Available    bool            `json:"available"`
	NotifyOptIn  bool            `json:"notify_opt_in"`
	LastDonation *time.Time      `json:"last_donation,omitempty"`
}

func (h *Handler) RegisterResponderHandler(w http.ResponseWriter, r *http.Request) {
	var body registerResponderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.count("POST", "/api/responders", http.StatusBadRequest)
		respondWithError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	resp := model.Responder{
		ID:          body.ID,
		BloodType:   model.BloodType(body.BloodType),
		Location:    body.Location,
		Available:   body.Available,
		NotifyOptIn: body.NotifyOptIn,
	}
	if body.LastDonation != nil {
		resp.LastDonation = *body.LastDonation
	}
	if err := h.svc.RegisterResponder(r.Context(), resp); err != nil {
		h.respondError(w, "POST", "/api/responders", err)
		return
	}
	h.count("POST", "/api/responders", http.StatusCreated)
	respondWithJSON(w, http.StatusCreated, resp)
}

// respondError maps domain errors to HTTP status codes.
func (h *Handler) respondError(w http.ResponseWriter, method, endpoint string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errs.IsNotFound(err):
		status = http.StatusNotFound
	case errs.IsConflict(err):
		status = http.StatusConflict
	case errs.IsExpired(err):
		status = http.StatusGone
	case errs.IsRateLimited(err):
		status = http.StatusTooManyRequests
	}
	if status == http.StatusInternalServerError {
		h.log.Errorf("%s %s: %v", method, endpoint, err)
	}
	h.count(method, endpoint, status)
	respondWithError(w, status, err.Error())
}

func (h *Handler) count(method, endpoint string, status int) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// requesterID keys creation quotas by caller: the X-Requester-ID header when
// present, the client address otherwise.
func requesterID(r *http.Request) string {
	if id := r.Header.Get("X-Requester-ID"); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body) //nolint:errcheck
}
