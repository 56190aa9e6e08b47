// Package theriq собирает HTTP API: маршруты, хранилище, кеш и сервис прав.
package theriq

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	clientscreate "github.com/magabrotheeeer/theriq/internal/http/handlers/clients/create"
	clientsexport "github.com/magabrotheeeer/theriq/internal/http/handlers/clients/export"
	clientslist "github.com/magabrotheeeer/theriq/internal/http/handlers/clients/list"
	"github.com/magabrotheeeer/theriq/internal/http/handlers/entitlements/feature"
	"github.com/magabrotheeeer/theriq/internal/http/handlers/entitlements/summary"
	"github.com/magabrotheeeer/theriq/internal/http/handlers/health"
	"github.com/magabrotheeeer/theriq/internal/http/handlers/profile/provision"
	"github.com/magabrotheeeer/theriq/internal/http/handlers/subscription/update"
	tierslist "github.com/magabrotheeeer/theriq/internal/http/handlers/tiers/list"
	"github.com/magabrotheeeer/theriq/internal/http/middlewarectx"
	"github.com/magabrotheeeer/theriq/internal/services/entitlement"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

// ClientStore хранилище клиентов.
type ClientStore interface {
	clientscreate.Repository
	clientslist.Repository
}

// Deps зависимости маршрутов.
type Deps struct {
	Entitlements *entitlement.Service
	Clients      ClientStore
	Tokens       middlewarectx.TokenParser
	Pingers      map[string]health.Pinger
	Metrics      http.Handler
	RateRPS      float64
	RateBurst    int
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Get("/tiers", tierslist.New(logger, d.Entitlements.Catalog()).ServeHTTP)

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(d.Tokens, logger))
			r.Use(middlewarectx.RateLimitMiddleware(logger, d.RateRPS, d.RateBurst))

			r.Post("/profile", provision.New(logger, d.Entitlements).ServeHTTP)
			r.Get("/entitlements", summary.New(logger, d.Entitlements).ServeHTTP)
			r.Get("/entitlements/features/{feature}", feature.New(logger, d.Entitlements).ServeHTTP)
			r.Put("/subscription", update.New(logger, d.Entitlements).ServeHTTP)
			r.Get("/clients", clientslist.New(logger, d.Clients).ServeHTTP)
			r.Post("/clients", clientscreate.New(logger, d.Entitlements, d.Clients).ServeHTTP)
			r.With(middlewarectx.RequireFeature(logger, d.Entitlements, tier.FeatureExport)).
				Get("/clients/export", clientsexport.New(logger, d.Clients).ServeHTTP)
		})
	})

	r.Get("/health", health.New(logger, d.Pingers).ServeHTTP)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}
}
