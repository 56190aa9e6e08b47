package tier

import (
	"errors"
	"fmt"
)

// ErrInvalidCatalog возвращается, если таблица тарифов нарушает порядок возможностей.
var ErrInvalidCatalog = errors.New("invalid tier catalog")

// Catalog неизменяемое отображение тарифа в его права.
type Catalog struct {
	tiers map[Tier]Entitlements
}

var defaultDefinitions = []Entitlements{
	{
		Tier:        Starter,
		ClientLimit: 5,
		PriceCents:  0,
		Descriptions: []string{
			"Up to 5 clients",
			"Session scheduling",
			"Basic session notes",
		},
	},
	{
		Tier:        Pro,
		ClientLimit: 25,
		FullNotes:   true,
		Export:      true,
		PriceCents:  2900,
		Descriptions: []string{
			"Up to 25 clients",
			"Full session notes",
			"Export to PDF and CSV",
			"Task management",
		},
	},
	{
		Tier:        Premium,
		ClientLimit: 100,
		FullNotes:   true,
		AINotes:     true,
		Export:      true,
		Analytics:   true,
		PriceCents:  7900,
		Descriptions: []string{
			"Up to 100 clients",
			"Full session notes",
			"AI-assisted notes",
			"Export to PDF and CSV",
			"Practice analytics",
		},
	},
}

// Default возвращает эталонный каталог. Паникует, если эталонная таблица
// некорректна: такая ошибка должна всплыть при старте.
func Default() *Catalog {
	c, err := NewCatalog(defaultDefinitions)
	if err != nil {
		panic(err)
	}
	return c
}

// NewCatalog строит каталог и проверяет инварианты: все тарифы описаны,
// лимиты положительны и не убывают, цены неотрицательны, а флаг, включённый
// на тарифе n, включён на всех тарифах выше n.
func NewCatalog(defs []Entitlements) (*Catalog, error) {
	const op = "tier.NewCatalog"

	tiers := make(map[Tier]Entitlements, len(defs))
	for _, d := range defs {
		if !d.Tier.Valid() {
			return nil, fmt.Errorf("%s: %w: unknown tier %q", op, ErrInvalidCatalog, d.Tier)
		}
		if _, dup := tiers[d.Tier]; dup {
			return nil, fmt.Errorf("%s: %w: duplicate tier %q", op, ErrInvalidCatalog, d.Tier)
		}
		if d.ClientLimit <= 0 {
			return nil, fmt.Errorf("%s: %w: tier %q client limit must be positive", op, ErrInvalidCatalog, d.Tier)
		}
		if d.PriceCents < 0 {
			return nil, fmt.Errorf("%s: %w: tier %q price is negative", op, ErrInvalidCatalog, d.Tier)
		}
		d.Descriptions = append([]string(nil), d.Descriptions...)
		tiers[d.Tier] = d
	}

	for i, t := range Order {
		cur, ok := tiers[t]
		if !ok {
			return nil, fmt.Errorf("%s: %w: tier %q is missing", op, ErrInvalidCatalog, t)
		}
		if i == 0 {
			continue
		}
		prev := tiers[Order[i-1]]
		if cur.ClientLimit < prev.ClientLimit {
			return nil, fmt.Errorf("%s: %w: %q allows fewer clients than %q", op, ErrInvalidCatalog, t, prev.Tier)
		}
		for _, f := range Features {
			if prev.Enabled(f) && !cur.Enabled(f) {
				return nil, fmt.Errorf("%s: %w: feature %q enabled on %q but not on %q",
					op, ErrInvalidCatalog, f, prev.Tier, t)
			}
		}
	}

	return &Catalog{tiers: tiers}, nil
}

// Lookup возвращает права тарифа. Для неизвестного тарифа возвращаются
// права Starter.
func (c *Catalog) Lookup(t Tier) Entitlements {
	if e, ok := c.tiers[t]; ok {
		return e.clone()
	}
	return c.tiers[Starter].clone()
}

// Tiers возвращает права всех тарифов в порядке возрастания возможностей.
func (c *Catalog) Tiers() []Entitlements {
	out := make([]Entitlements, 0, len(Order))
	for _, t := range Order {
		out = append(out, c.tiers[t].clone())
	}
	return out
}

func (e Entitlements) clone() Entitlements {
	e.Descriptions = append([]string(nil), e.Descriptions...)
	return e
}
