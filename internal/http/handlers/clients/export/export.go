// Package export выгружает всех клиентов пользователя в CSV. Доступ к
// маршруту ограничивается функцией тарифа export.
package export

import (
	"context"
	"encoding/csv"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/theriq/internal/http/middlewarectx"
	"github.com/magabrotheeeer/theriq/internal/http/response"
	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/models"
)

const pageSize = 100

// Repository читает клиентов.
type Repository interface {
	ListClients(ctx context.Context, userID string, limit, offset int) ([]*models.Client, error)
}

// Handler обработчик GET /clients/export.
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
	const op = "handlers.clients.export"

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

	// Собираем всё до записи заголовков, чтобы ошибка хранилища
	// не оборвала уже начатый CSV.
	var all []*models.Client
	for offset := 0; ; offset += pageSize {
		page, err := h.repo.ListClients(r.Context(), userID, pageSize, offset)
		if err != nil {
			log.Error("failed to list clients", sl.Err(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.Error("could not export clients"))
			return
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="clients.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "name", "created_at"})
	for _, c := range all {
		_ = cw.Write([]string{c.ID, c.Name, c.CreatedAt.UTC().Format(time.RFC3339)})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Error("failed to write csv", sl.Err(err))
		return
	}

	log.Info("clients exported", slog.Int("count", len(all)))
}
