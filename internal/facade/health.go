package facade

import (
	"fmt"
	"net/http"
	"time"

	"github.com/eniz1806/omnistore/internal/metadata"
)

type healthResponse struct {
	Status    string   `json:"status"`
	Service   string   `json:"service"`
	Timestamp string   `json:"timestamp"`
	Uptime    string   `json:"uptime"`
	Protocols []string `json:"protocols"`
}

type readyResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Service:   "omnistore",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    formatDuration(time.Since(h.started)),
		Protocols: []string{"S3", "Azure Blob", "Google Cloud Storage", "WebDAV"},
	})
}

func (h *Handler) ready(w http.ResponseWriter, _ *http.Request) {
	if err := h.store.Ping(); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, readyResponse{Status: "not ready", Error: "metadata unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: "ready"})
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// systemEncoder renders errors for the health endpoints as JSON.
type systemEncoder struct{}

func (systemEncoder) encode(w http.ResponseWriter, _ *http.Request, res *Result) {
	if res.Err == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, statusFor(res.Err), map[string]string{"error": publicMessage(res.Err)})
}

func (systemEncoder) objectHeaders(http.Header, metadata.ObjectMeta) {}

func (systemEncoder) listRequest(*http.Request) listRequest { return listRequest{depth: 1} }
