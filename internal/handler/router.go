package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	custommiddleware "github.com/mmeshcher/canteen-station/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware станции.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.Logger(h.logger, h.observer))
	r.Use(custommiddleware.Compress())
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.BearerToken)

	r.Route("/api", func(r chi.Router) {
		r.Get("/menu", h.GetMenu)

		r.Group(func(r chi.Router) {
			r.Use(h.sessions.Middleware)

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items/{id}", h.AddItem)
			r.Delete("/cart/items/{id}", h.RemoveItem)

			r.Post("/checkout", h.Checkout)
			r.Get("/orders/{id}/qr", h.GetOrderQR)
			r.Post("/orders/{id}/pay", h.PayOrder)

			r.Get("/notices", h.GetNotices)
		})

		r.Route("/staff", func(r chi.Router) {
			r.Use(custommiddleware.RequireToken)

			r.Get("/scan", h.GetScan)
			r.Post("/scan/start", h.StartScan)
			r.Post("/scan/next", h.NextScan)
			r.Post("/scan/decode", h.Decode)
			r.Get("/notices", h.GetStaffNotices)
			r.Get("/history", h.GetHistory)
		})
	})

	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
