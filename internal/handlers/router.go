package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the HTTP surface.
func NewRouter(api *APIHandlers, authHandlers *AuthHandlers, wsHandlers *WebSocketHandlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Get("/healthz", api.Health)

	r.Post("/register", authHandlers.Register)
	r.Post("/login", authHandlers.Login)

	r.Get("/history", api.History)
	r.Get("/search", api.Search)
	r.Post("/upload", api.Upload)
	r.Get("/uploads/{name}", api.ServeUpload)

	r.Get("/ws", wsHandlers.HandleWebSocket)

	return r
}
