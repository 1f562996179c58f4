package handlers

import (
	"net/http"

	"github.com/ephyr-control/ephyrsub/internal/httpserver/deps"
	"github.com/ephyr-control/ephyrsub/internal/logger"
)

type dumpResponse struct {
	Triggered bool   `json:"triggered"`
	Path      string `json:"path,omitempty"`
	Message   string `json:"message"`
}

// Dump asks the persistence loop for an immediate snapshot write.
func Dump(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Dumper == nil {
			writeJSON(w, d, http.StatusServiceUnavailable, dumpResponse{Message: "persistence is disabled"})
			return
		}

		path := d.Dumper.Status().Path
		if !d.Dumper.Trigger() {
			d.Logger.Warn("state dump already pending",
				logger.String("remote_ip", r.RemoteAddr))
			writeJSON(w, d, http.StatusTooManyRequests, dumpResponse{
				Path:    path,
				Message: "dump already pending, please wait",
			})
			return
		}

		d.Logger.Info("manual state dump triggered via endpoint",
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, d, http.StatusAccepted, dumpResponse{
			Triggered: true,
			Path:      path,
			Message:   "dump triggered",
		})
	}
}
