package middlewarectx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/magabrotheeeer/theriq/internal/http/response"
	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

// FeatureChecker отвечает, включена ли функция у пользователя.
type FeatureChecker interface {
	IsFeatureEnabled(ctx context.Context, userID string, f tier.Feature) bool
}

// RequireFeature пропускает запрос, только если функция f входит в тариф
// пользователя. Иначе возвращает HTTP 403 Forbidden.
func RequireFeature(log *slog.Logger, checker FeatureChecker, f tier.Feature) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				log.Error("user identification missing")
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, response.Error("user identification missing"))
				return
			}

			if !checker.IsFeatureEnabled(r.Context(), userID, f) {
				log.Info("feature not available on current tier",
					sl.User(userID),
					slog.String("feature", string(f)))
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("feature "+string(f)+" is not available on your plan"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
