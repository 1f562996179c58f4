package handlers

import (
	"net/http"

	"github.com/ephyr-control/ephyrsub/internal/httpserver/deps"
	"github.com/ephyr-control/ephyrsub/internal/orchestrator"
)

type readyzResponse struct {
	Ready     bool `json:"ready"`
	Streaming int  `json:"streaming"`
	Total     int  `json:"total"`
}

// Readyz is ready once at least one instance task is streaming.
func Readyz(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := readyzResponse{Total: d.State.Count()}
		for _, t := range d.Tasks.List() {
			if t.Address != "" && t.State == orchestrator.StateStreaming {
				resp.Streaming++
			}
		}
		resp.Ready = resp.Streaming > 0

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, d, status, resp)
	}
}
