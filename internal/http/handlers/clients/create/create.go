// Package create добавляет клиента, если лимит тарифа ещё не достигнут.
package create

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/theriq/internal/http/middlewarectx"
	"github.com/magabrotheeeer/theriq/internal/http/response"
	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/models"
)

// Limiter проверяет лимит клиентов.
type Limiter interface {
	HasReachedClientLimit(ctx context.Context, userID string) bool
	ClientLimit(ctx context.Context, userID string) int
}

// Repository сохраняет клиента, не превышая limit.
type Repository interface {
	CreateClient(ctx context.Context, client models.Client, limit int) (*models.Client, error)
}

// Handler обработчик POST /clients.
type Handler struct {
	log      *slog.Logger
	limiter  Limiter
	repo     Repository
	validate *validator.Validate
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, limiter Limiter, repo Repository) *Handler {
	return &Handler{
		log:      log,
		limiter:  limiter,
		repo:     repo,
		validate: validator.New(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.clients.create"

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

	var req models.DummyClient
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Error("failed to decode request body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("failed to decode request"))
		return
	}

	if err := h.validate.Struct(req); err != nil {
		log.Error("validation failed", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.ValidationError(err.(validator.ValidationErrors)))
		return
	}

	if h.limiter.HasReachedClientLimit(r.Context(), userID) {
		log.Info("client limit reached", sl.User(userID))
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.Error("client limit reached for your plan"))
		return
	}

	client, err := h.repo.CreateClient(r.Context(), models.Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   req.Name,
	}, h.limiter.ClientLimit(r.Context(), userID))
	switch {
	case errors.Is(err, models.ErrClientLimitReached):
		log.Info("client limit reached on insert", sl.User(userID))
		render.Status(r, http.StatusForbidden)
		render.JSON(w, r, response.Error("client limit reached for your plan"))
		return
	case errors.Is(err, models.ErrProfileNotFound):
		log.Warn("profile not provisioned", sl.User(userID))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("profile not provisioned"))
		return
	case err != nil:
		log.Error("failed to create client", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not create client"))
		return
	}

	log.Info("client created", slog.String("client_id", client.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.StatusOKWithData(client))
}
