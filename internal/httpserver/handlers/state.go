package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/httpserver/deps"
	"github.com/ephyr-control/ephyrsub/internal/logger"
)

type errorResponse struct {
	Error string `json:"error"`
}

// State returns the whole aggregate keyed by address. Credentials are
// never served.
func State(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.State.Snapshot()
		for addr, st := range snap {
			snap[addr] = redact(st)
		}
		writeJSON(w, d, http.StatusOK, snap)
	}
}

func InstanceState(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := chi.URLParam(r, "address")
		st, ok := d.State.Get(addr)
		if !ok {
			writeJSON(w, d, http.StatusNotFound, errorResponse{Error: "unknown instance " + addr})
			return
		}
		writeJSON(w, d, http.StatusOK, redact(st))
	}
}

func Tasks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, d, http.StatusOK, d.Tasks.List())
	}
}

func Task(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		st, ok := d.Tasks.Get(name)
		if !ok {
			writeJSON(w, d, http.StatusNotFound, errorResponse{Error: "unknown task " + name})
			return
		}
		writeJSON(w, d, http.StatusOK, st)
	}
}

func redact(st domain.InstanceState) domain.InstanceState {
	st.Password = ""
	return st
}

func writeJSON(w http.ResponseWriter, d deps.Deps, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.Logger.Debug("failed to write response", logger.Error(err))
	}
}
