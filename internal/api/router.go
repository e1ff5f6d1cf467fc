package api

import (
	"net/http"

	"github.com/example/cafe-orders/internal/api/middleware"
	"github.com/example/cafe-orders/internal/auth"
	"github.com/example/cafe-orders/internal/monitoring"
	"github.com/example/cafe-orders/internal/realtime"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RouterConfig collects what the HTTP surface needs besides the handlers.
type RouterConfig struct {
	JWT      *auth.JWTService
	Hub      *realtime.Hub
	Upgrader *websocket.Upgrader
	Logger   *zap.Logger
}

func NewRouter(handlers *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.Health)
	r.Method(http.MethodGet, "/metrics", monitoring.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.JWT))

		// Every ordering surface may place orders.
		r.With(middleware.RequireRole(auth.RoleKiosk, auth.RoleStaff, auth.RoleAdmin)).
			Post("/orders", handlers.CreateOrder)

		// Kitchen and counter
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleStaff, auth.RoleAdmin))
			r.Get("/orders", handlers.ListOrders)
			r.Get("/orders/{id}", handlers.GetOrder)
			r.Patch("/orders/{id}/status", handlers.ChangeStatus)
			r.Post("/orders/refresh", handlers.RequestRefresh)
			r.Get("/ws", realtime.ServeWS(cfg.Hub, cfg.Upgrader, cfg.Logger))
		})
	})

	return r
}
