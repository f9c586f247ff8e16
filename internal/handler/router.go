package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	custommiddleware "github.com/mkovalev/kudos-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса кудос.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(httprate.Limit(100, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))

	r.Route("/api", func(r chi.Router) {
		r.Post("/students", h.CreateStudent)
		r.Get("/students/{id}", h.GetStudent)
		r.Get("/students/{id}/redemptions", h.ListRedemptions)

		r.Post("/recognitions", h.CreateRecognition)
		r.Get("/recognitions", h.ListRecognitions)
		r.Get("/recognitions/{id}", h.GetRecognition)

		r.Post("/endorsements", h.CreateEndorsement)
		r.Post("/redemptions", h.CreateRedemption)

		r.Get("/leaderboard", h.Leaderboard)

		r.Post("/admin/reset-month", h.ResetMonth)
	})

	r.Get("/health", h.Health)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
