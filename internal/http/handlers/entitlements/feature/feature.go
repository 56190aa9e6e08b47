// Package feature отвечает, включена ли функция в тарифе пользователя.
package feature

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/theriq/internal/http/middlewarectx"
	"github.com/magabrotheeeer/theriq/internal/http/response"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

// Service проверяет функцию.
type Service interface {
	IsFeatureEnabled(ctx context.Context, userID string, f tier.Feature) bool
}

// Handler обработчик GET /entitlements/features/{feature}.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.entitlements.feature"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	userID, ok := middlewarectx.UserIDFromContext(r.Context())
	if !ok {
		log.Error("user id not found in context")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("unauthorized"))
		return
	}

	raw := chi.URLParam(r, "feature")
	f, ok := tier.ParseFeature(raw)
	if !ok {
		log.Warn("unknown feature requested", slog.String("feature", raw))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("unknown feature"))
		return
	}

	render.JSON(w, r, response.StatusOKWithData(map[string]any{
		"feature": f,
		"enabled": h.service.IsFeatureEnabled(r.Context(), userID, f),
	}))
}
