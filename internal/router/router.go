package router

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"ava-backend/internal/frame"
	"ava-backend/internal/handlers"
	"ava-backend/internal/middleware"
)

// Options carries the route-level settings that are not handlers.
type Options struct {
	FrontendURL        string
	AdminPassword      string
	AdminPasswordHash  string
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New wires every route. ctx bounds the background cleanup of the rate
// limiter and should be cancelled on shutdown.
func New(
	ctx context.Context,
	opts Options,
	tokens *middleware.SessionTokens,
	assistHandler *handlers.AssistHandler,
	sessionHandler *handlers.SessionHandler,
	projectHandler *handlers.ProjectHandler,
	liveHandler *handlers.LiveHandler,
	wsHandler http.HandlerFunc,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{opts.FrontendURL},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Scripts loaded by the tested site and the participant page.
	r.Get("/observer.js", frame.ServeObserver)
	r.Get("/host.js", frame.ServeHost)

	adminAuth := middleware.AdminAuth(opts.AdminPassword, opts.AdminPasswordHash)
	limiter := middleware.RateLimitByIP(ctx, opts.RateLimitPerSecond, opts.RateLimitBurst)

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Participant assist routes ────
		r.Group(func(r chi.Router) {
			r.Use(limiter)
			r.Post("/chat", assistHandler.Chat)
			r.Post("/summary", assistHandler.Summary)
			r.Post("/tts", assistHandler.TextToSpeech)
			r.Post("/stt", assistHandler.SpeechToText)
			r.Get("/proxy", assistHandler.Proxy)
		})
		r.Post("/events", assistHandler.LogEvent)
		r.Post("/sessions", sessionHandler.Save)

		// ──── Live session routes ────
		r.Route("/live", func(r chi.Router) {
			r.With(limiter).Post("/sessions", liveHandler.Start)
			r.With(tokens.Middleware).Post("/sessions/{id}/end", liveHandler.End)
			r.Get("/ws", wsHandler)
		})
		r.Get("/jobs/{id}", sessionHandler.JobStatus)
		r.Get("/survey/questions", liveHandler.SurveyQuestions)
		r.Get("/demo-config", liveHandler.DemoConfig)

		// ──── Admin routes ────
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth)
			r.Get("/sessions", sessionHandler.List)
			r.Post("/summarize", sessionHandler.Summarize)
		})

		// ──── Project routes (admin) ────
		r.Route("/projects", func(r chi.Router) {
			r.Use(adminAuth)
			r.Get("/", projectHandler.List)
			r.Post("/", projectHandler.Create)
			r.Get("/{id}", projectHandler.Get)
			r.Put("/{id}", projectHandler.Update)
			r.Delete("/{id}", projectHandler.Delete)
			r.Get("/{id}/sessions", projectHandler.Sessions)
			r.Get("/{id}/analytics", projectHandler.Analytics)
		})
	})

	return r
}
