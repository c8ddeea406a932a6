package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// Public routes
	r.Post("/token", apiHandler.LoginHandler)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// The streaming session authenticates with a query parameter.
	r.Get("/ws/chat", apiHandler.ChatWebSocketHandler)

	// User-authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(apiHandler.JWTAuthMiddleware)

		r.Get("/profile/{user_id}", apiHandler.GetProfileHandler)
		r.Post("/profile", apiHandler.UpdateProfileHandler)

		r.Post("/chat", apiHandler.ChatHandler)
		r.Post("/chat/history", apiHandler.SaveChatHandler)
		r.Get("/chat/history/{user_id}", apiHandler.GetChatHistoryHandler)
	})

	return r
}
