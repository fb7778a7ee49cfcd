package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// SuccessResponse is the envelope every non-error endpoint returns.
// Data carries the payload; Message is optional human-readable context.
type SuccessResponse struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// HealthResponse reports the state of one service component.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON serialises data with the given status code. An encode
// failure at this point cannot be reported to the client any more, so
// it is only logged.
func WriteJSON(w http.ResponseWriter, r *http.Request, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Err(err).
			Str("request_id", GetRequestID(r)).
			Str("path", r.URL.Path).
			Msg("Failed to encode JSON response")
	}
}

func writeEnvelope(w http.ResponseWriter, r *http.Request, data interface{}, message string, status int) {
	WriteJSON(w, r, SuccessResponse{
		Status:    "success",
		Data:      data,
		Message:   message,
		RequestID: GetRequestID(r),
	}, status)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}, message string) {
	writeEnvelope(w, r, data, message, http.StatusOK)
}

// WriteCreated writes a 201 envelope, used after registration and
// report generation.
func WriteCreated(w http.ResponseWriter, r *http.Request, data interface{}, message string) {
	writeEnvelope(w, r, data, message, http.StatusCreated)
}

// WriteNoContent answers with a bare 204.
func WriteNoContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteHealthy reports a component as up. version may be empty for
// components that do not carry one.
func WriteHealthy(w http.ResponseWriter, r *http.Request, service string, version string) {
	WriteJSON(w, r, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Service:   service,
		Version:   version,
	}, http.StatusOK)
}

// WriteUnhealthy reports a failed component check as 503 so load
// balancers stop routing to this instance.
func WriteUnhealthy(w http.ResponseWriter, r *http.Request, service string, err error) {
	WriteJSON(w, r, HealthResponse{
		Status:    "unhealthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Service:   service,
		Error:     err.Error(),
		RequestID: GetRequestID(r),
	}, http.StatusServiceUnavailable)
}
