package api

import (
	"net/http"
	"time"

	"manualqa-backend/internal/config"
	"manualqa-backend/internal/handlers"
	"manualqa-backend/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	ChatHandler *handlers.ChatHandlers
	Config      *config.Config
	Logger      *logger.Logger
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	r := chi.NewRouter()

	// --- Base Middleware Stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	// Synthesis with retries can take a while.
	r.Use(middleware.Timeout(120 * time.Second))

	// --- CORS Configuration ---
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173", "https://*.vercel.app"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Public Routes (No JWT Required) ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// --- Authenticated Routes (JWT Required) ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(JwtAuthMiddleware(deps.Config.JWTSecret, log))

		if deps.ChatHandler == nil {
			log.Warn("ChatHandler dependency is nil, skipping /v1 chat routes")
			return
		}
		h := deps.ChatHandler

		r.Post("/chat", h.HandleChat)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.HandleCreateSession)
			r.Get("/", h.HandleListSessions)
			r.Get("/{sessionID}", h.HandleGetSession)
			r.Post("/{sessionID}/threads", h.HandleCreateThread)
			r.Get("/{sessionID}/threads", h.HandleListThreads)
		})

		r.Route("/threads", func(r chi.Router) {
			r.Get("/{threadID}", h.HandleGetThread)
			r.Get("/{threadID}/messages", h.HandleListMessages)
		})

		r.Get("/vector/stats", h.HandleVectorStats)
	})

	return r
}
