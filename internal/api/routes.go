package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Builds
	mux.Handle("GET /api/v1/builds", chain(http.HandlerFunc(h.ListBuilds)))
	mux.Handle("POST /api/v1/builds", chain(http.HandlerFunc(h.CreateBuild)))
	mux.Handle("GET /api/v1/builds/{id}", chain(http.HandlerFunc(h.GetBuild)))
}
