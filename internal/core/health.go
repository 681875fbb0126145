package core

import (
	"net/http"
	"time"
)

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// HandleHealth reports process liveness. The service has no critical local
// dependencies to probe -- the entitlement cache is in-process and the billing
// provider is deliberately excluded so a provider outage does not take the
// health endpoint (and with it the whole deployment) down.
//
// This endpoint is public and is mounted at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
