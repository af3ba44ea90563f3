package httpserver

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"securechat/internal/config"
	"securechat/internal/presence"
	"securechat/internal/router"
	"securechat/internal/security"
	"securechat/internal/service"
	"securechat/internal/store/sqlite"
	"securechat/internal/ws"
)

// NewRouter constructs the main HTTP router and wires repositories,
// services, the presence registry, and the sync gateway.
func NewRouter(cfg *config.Config, db *sql.DB, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Repositories
	userRepo := sqlite.NewUserRepo(db)
	groupRepo := sqlite.NewGroupRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	// Services and the sync engine
	authSvc := service.NewAuthService(userRepo, groupRepo, tokenSvc, passwordHasher)
	syncSvc := service.NewSyncService(userRepo, groupRepo, msgRepo)
	registry := presence.NewRegistry()
	rt := router.New(registry, groupRepo, msgRepo, log)
	gateway := ws.NewGateway(registry, rt, syncSvc, tokenSvc, userRepo, log)

	// Request-scoped endpoints carry the timeout. The sync endpoint is
	// mounted outside this group: its connections are long-lived and a
	// request deadline would go off mid-connection.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		})

		// Credential endpoints: the only operations that surface
		// user-visible error strings.
		r.Post("/signup", handleSignup(authSvc))
		r.Post("/login", handleLogin(authSvc))

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokenSvc, userRepo))
			r.Get("/api/me", handleMe())
		})
	})

	// Real-time sync endpoint
	r.Get("/ws", gateway.Handler(cfg.CORSOrigins))

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
