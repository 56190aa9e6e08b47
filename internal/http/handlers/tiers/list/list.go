// Package list отдаёт публичный каталог тарифов.
package list

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/theriq/internal/http/response"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

// Catalog источник тарифов.
type Catalog interface {
	Tiers() []tier.Entitlements
}

// TierView тариф в ответе API.
type TierView struct {
	Tier        tier.Tier             `json:"tier"`
	Price       string                `json:"price"`
	PriceCents  int64                 `json:"price_cents"`
	ClientLimit int                   `json:"client_limit"`
	Flags       map[tier.Feature]bool `json:"flags"`
	Features    []string              `json:"features"`
}

// Handler обработчик GET /tiers.
type Handler struct {
	log     *slog.Logger
	catalog Catalog
}

// New создает новый экземпляр Handler.
func New(log *slog.Logger, catalog Catalog) *Handler {
	return &Handler{
		log:     log,
		catalog: catalog,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.tiers.list"

	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	entries := h.catalog.Tiers()
	views := make([]TierView, 0, len(entries))
	for _, e := range entries {
		flags := make(map[tier.Feature]bool, len(tier.Features))
		for _, f := range tier.Features {
			flags[f] = e.Enabled(f)
		}
		views = append(views, TierView{
			Tier:        e.Tier,
			Price:       e.Price(),
			PriceCents:  e.PriceCents,
			ClientLimit: e.ClientLimit,
			Flags:       flags,
			Features:    e.Descriptions,
		})
	}

	log.Debug("tiers listed", slog.Int("count", len(views)))
	render.JSON(w, r, response.StatusOKWithData(views))
}
