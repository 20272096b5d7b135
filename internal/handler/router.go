package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/outlet-console/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware консоли.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(custommiddleware.Logger(h.logger))

	// promhttp сжимает ответ сам, поэтому /metrics монтируется вне GzipMiddleware.
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.With(custommiddleware.GzipMiddleware).Route("/api", func(r chi.Router) {
		r.Post("/session/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/session/logout", h.Logout)
			r.Post("/session/refresh", h.RefreshSession)
			r.Get("/session", h.GetSession)
			r.Get("/session/capabilities/{tag}", h.CheckCapability)

			r.Get("/outlets/{outletID}/orders", h.LoadOrders)

			r.Get("/orders", h.GetOrders)
			r.Post("/orders/refetch", h.RefetchOrders)
			r.Get("/orders/search", h.SearchOrders)
			r.Get("/orders/lookup/{id}", h.LookupOrder)
			r.Post("/orders/{id}/status", h.RequestTransition)
			r.Get("/orders/{id}/transitions", h.GetHistory)
			r.Get("/orders/{id}/available", h.AvailableTransitions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
