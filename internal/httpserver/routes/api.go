package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/ephyr-control/ephyrsub/internal/httpserver/deps"
	"github.com/ephyr-control/ephyrsub/internal/httpserver/handlers"
	"github.com/ephyr-control/ephyrsub/internal/httpserver/mw"
)

func init() { Register(registerAPI) }

func registerAPI(r chi.Router, d deps.Deps) {
	r.Route("/api", func(api chi.Router) {
		api.Use(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger))
		api.Get("/state", handlers.State(d))
		api.Get("/state/{address}", handlers.InstanceState(d))
		api.Get("/tasks", handlers.Tasks(d))
		api.Get("/tasks/{name}", handlers.Task(d))
		api.Post("/dump", handlers.Dump(d))
	})
}
