package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/", apiHandler.RootHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		r.Post("/chat", apiHandler.ChatHandler)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", apiHandler.ListDocumentsHandler)
			r.Post("/", apiHandler.UploadDocumentHandler)
			r.Post("/index-all", apiHandler.IndexAllHandler)
			r.Post("/train", apiHandler.TrainHandler)
		})

		r.Post("/conversations", apiHandler.CreateConversationHandler)
		r.Get("/conversations/{conversationID}", apiHandler.GetConversationHandler)
	})

	return r
}
