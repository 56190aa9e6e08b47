// Package tier содержит статический каталог тарифов Theriq и права,
// которые даёт каждый тариф: лимит клиентов, флаги функций, цену и
// список описаний для отображения.
package tier

import (
	"fmt"
	"strings"
)

// Tier идентификатор тарифа. Тарифы упорядочены по возможностям:
// Starter < Pro < Premium.
type Tier string

const (
	Starter Tier = "starter"
	Pro     Tier = "pro"
	Premium Tier = "premium"
)

// Order перечисляет тарифы по возрастанию возможностей.
var Order = []Tier{Starter, Pro, Premium}

var aliases = map[string]Tier{
	"starter":      Starter,
	"pro":          Pro,
	"premium":      Premium,
	"basic":        Starter,
	"professional": Pro,
	"enterprise":   Premium,
}

// Parse приводит сохранённое значение (включая устаревшие имена
// basic/professional/enterprise) к тарифу.
func Parse(s string) (Tier, bool) {
	t, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	return t, ok
}

// Valid сообщает, входит ли значение в закрытое множество тарифов.
func (t Tier) Valid() bool {
	return t.rank() >= 0
}

func (t Tier) rank() int {
	for i, o := range Order {
		if o == t {
			return i
		}
	}
	return -1
}

// Less сравнивает тарифы по возможностям.
func (t Tier) Less(other Tier) bool {
	return t.rank() < other.rank()
}

func (t Tier) String() string {
	return string(t)
}

// Feature закрытое перечисление функций, которые включаются тарифом.
type Feature string

const (
	FeatureFullNotes Feature = "full_notes"
	FeatureAINotes   Feature = "ai_notes"
	FeatureExport    Feature = "export"
	FeatureAnalytics Feature = "analytics"
)

// Features все известные функции.
var Features = []Feature{FeatureFullNotes, FeatureAINotes, FeatureExport, FeatureAnalytics}

// ParseFeature возвращает функцию по имени. Неизвестные имена отклоняются.
func ParseFeature(s string) (Feature, bool) {
	for _, f := range Features {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Entitlements права одного тарифа.
type Entitlements struct {
	Tier         Tier     `json:"tier"`
	ClientLimit  int      `json:"client_limit"`
	FullNotes    bool     `json:"full_notes"`
	AINotes      bool     `json:"ai_notes"`
	Export       bool     `json:"export"`
	Analytics    bool     `json:"analytics"`
	PriceCents   int64    `json:"price_cents"`
	Descriptions []string `json:"features"`
}

// Enabled возвращает флаг функции.
func (e Entitlements) Enabled(f Feature) bool {
	switch f {
	case FeatureFullNotes:
		return e.FullNotes
	case FeatureAINotes:
		return e.AINotes
	case FeatureExport:
		return e.Export
	case FeatureAnalytics:
		return e.Analytics
	default:
		return false
	}
}

// Price возвращает месячную цену в виде строки "29.00".
func (e Entitlements) Price() string {
	return fmt.Sprintf("%d.%02d", e.PriceCents/100, e.PriceCents%100)
}
