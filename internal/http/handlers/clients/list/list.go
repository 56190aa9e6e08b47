// Package list отдаёт клиентов текущего пользователя постранично.
package list

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/theriq/internal/http/middlewarectx"
	"github.com/magabrotheeeer/theriq/internal/http/response"
	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/models"
)

// Параметры пагинации.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

// Repository читает клиентов.
type Repository interface {
	ListClients(ctx context.Context, userID string, limit, offset int) ([]*models.Client, error)
}

// Handler обработчик GET /clients.
type Handler struct {
	log  *slog.Logger
	repo Repository
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, repo Repository) *Handler {
	return &Handler{
		log:  log,
		repo: repo,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.clients.list"

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

	limit, err := queryInt(r, "limit", DefaultLimit)
	if err != nil || limit <= 0 || limit > MaxLimit {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid limit"))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid offset"))
		return
	}

	clients, err := h.repo.ListClients(r.Context(), userID, limit, offset)
	if err != nil {
		log.Error("failed to list clients", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("could not list clients"))
		return
	}
	if clients == nil {
		clients = []*models.Client{}
	}

	render.JSON(w, r, response.StatusOKWithData(clients))
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
