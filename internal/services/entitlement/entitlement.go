// Package entitlement определяет тариф пользователя и отвечает на вопросы
// о правах: включена ли функция, сколько клиентов можно завести, достигнут
// ли лимит. Ответы кешируются; при любой ошибке хранилища возвращается
// самый консервативный ответ, ошибки наружу не пробрасываются.
package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/magabrotheeeer/theriq/internal/cache"
	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/metrics"
	"github.com/magabrotheeeer/theriq/internal/models"
	"github.com/magabrotheeeer/theriq/internal/tier"
)

// ProfileStore определяет методы хранилища профилей.
type ProfileStore interface {
	// GetSubscription возвращает подписку или models.ErrProfileNotFound.
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	// CreateProfile создаёт профиль, если его ещё нет.
	CreateProfile(ctx context.Context, sub models.Subscription) (bool, error)
	// UpdateSubscription перезаписывает подписку.
	UpdateSubscription(ctx context.Context, sub models.Subscription) error
	// DowngradeExpired атомарно понижает истёкшую активную подписку.
	DowngradeExpired(ctx context.Context, userID string, now time.Time) (bool, error)
	// CountClients возвращает число клиентов пользователя.
	CountClients(ctx context.Context, userID string) (int, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	Get(key string, result any) (bool, error)
	Set(key string, value any, expiration time.Duration) error
	Invalidate(key string) error
	ClearUser(userID string) error
}

// Config время жизни кешированных ответов и длительность оплаченного периода.
type Config struct {
	TierTTL            time.Duration
	FeatureTTL         time.Duration
	SubscriptionPeriod time.Duration
}

// DefaultConfig значения по умолчанию.
func DefaultConfig() Config {
	return Config{
		TierTTL:            30 * time.Minute,
		FeatureTTL:         15 * time.Minute,
		SubscriptionPeriod: 30 * 24 * time.Hour,
	}
}

// Summary сводка прав пользователя для отображения.
type Summary struct {
	Tier               tier.Tier             `json:"tier"`
	ClientLimit        int                   `json:"client_limit"`
	ClientLimitReached bool                  `json:"client_limit_reached"`
	Features           map[tier.Feature]bool `json:"features"`
}

// resolution кешируемый результат определения тарифа. Expiry заполнен только
// для активной подписки с датой окончания.
type resolution struct {
	Tier   tier.Tier  `json:"tier"`
	Expiry *time.Time `json:"expiry,omitempty"`
}

type featureAnswer struct {
	Enabled bool       `json:"enabled"`
	Expiry  *time.Time `json:"expiry,omitempty"`
}

// Service реализует определение тарифа и проверки прав.
type Service struct {
	store   ProfileStore
	cache   Cache
	catalog *tier.Catalog
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
	group   singleflight.Group

	// generations растёт при каждой явной инвалидации пользователя. Ответ,
	// прочитанный в старом поколении, в кеш не пишется.
	mu          sync.Mutex
	generations map[string]uint64
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCatalog подменяет каталог тарифов.
func WithCatalog(c *tier.Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

// WithMetrics подключает счётчики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithConfig задаёт TTL и длительность периода. Нулевые поля остаются по умолчанию.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.TierTTL > 0 {
			s.cfg.TierTTL = cfg.TierTTL
		}
		if cfg.FeatureTTL > 0 {
			s.cfg.FeatureTTL = cfg.FeatureTTL
		}
		if cfg.SubscriptionPeriod > 0 {
			s.cfg.SubscriptionPeriod = cfg.SubscriptionPeriod
		}
	}
}

// NewService создает новый экземпляр Service.
func NewService(store ProfileStore, c Cache, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cache:   c,
		catalog: tier.Default(),
		log:     log,
		cfg:     DefaultConfig(),
		now:     time.Now,

		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// Catalog возвращает каталог тарифов, с которым работает сервис.
func (s *Service) Catalog() *tier.Catalog {
	return s.catalog
}

func tierKey(userID string) string {
	return cache.UserKey(userID, "tier")
}

func featureKey(userID string, f tier.Feature) string {
	return cache.UserKey(userID, "feature", string(f))
}

// ResolveTier возвращает текущий тариф пользователя. Пустой userID и любые
// ошибки дают Starter.
func (s *Service) ResolveTier(ctx context.Context, userID string) tier.Tier {
	if userID == "" {
		return tier.Starter
	}
	res, err := s.resolve(ctx, userID)
	if err != nil {
		s.log.Error("failed to resolve tier, falling back to starter",
			sl.User(userID), sl.Err(err))
		s.metrics.Degrade("resolve_tier")
		return tier.Starter
	}
	return res.Tier
}

func (s *Service) resolve(ctx context.Context, userID string) (resolution, error) {
	key := tierKey(userID)

	var res resolution
	found, err := s.cache.Get(key, &res)
	if err != nil {
		s.log.Warn("failed to read from cache", slog.String("key", key), sl.Err(err))
	}
	if found && res.Tier.Valid() && fresh(res.Expiry, s.now()) {
		s.metrics.CacheHit("tier")
		return res, nil
	}
	s.metrics.CacheMiss("tier")

	v, err, _ := s.group.Do(userID, func() (any, error) {
		return s.load(ctx, userID)
	})
	if err != nil {
		return resolution{}, err
	}
	return v.(resolution), nil
}

// load читает профиль, применяет правило истечения и кеширует результат.
// Консервативный ответ после ошибки не кешируется.
func (s *Service) load(ctx context.Context, userID string) (resolution, error) {
	const op = "entitlement.load"
	now := s.now()
	gen := s.generation(userID)

	sub, err := s.store.GetSubscription(ctx, userID)
	if errors.Is(err, models.ErrProfileNotFound) {
		s.log.Warn("profile not found, treating as starter", sl.User(userID))
		res := resolution{Tier: tier.Starter}
		s.rememberAt(userID, gen, tierKey(userID), res, nil, s.cfg.TierTTL, now)
		return res, nil
	}
	if err != nil {
		return resolution{}, fmt.Errorf("%s: %w", op, err)
	}

	if sub.Expired(now) {
		if sub, err = s.downgrade(ctx, sub, now); err != nil {
			return resolution{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	res := s.fromSubscription(sub)
	s.rememberAt(userID, gen, tierKey(userID), res, res.Expiry, s.cfg.TierTTL, now)
	return res, nil
}

// downgrade понижает истёкшую подписку и возвращает её новое состояние.
// Если условное обновление ничего не изменило, строку поменяли после
// чтения: решение принимается по свежей строке.
func (s *Service) downgrade(ctx context.Context, sub *models.Subscription, now time.Time) (*models.Subscription, error) {
	downgraded, err := s.store.DowngradeExpired(ctx, sub.UserID, now)
	if err != nil {
		return nil, err
	}
	if downgraded {
		s.metrics.Downgrades.Inc()
		s.log.Info("subscription expired, downgraded to starter",
			sl.User(sub.UserID),
			slog.String("previous_tier", sub.Tier))
		if err := s.cache.ClearUser(sub.UserID); err != nil {
			s.log.Warn("failed to clear user cache", sl.User(sub.UserID), sl.Err(err))
		}
		return &models.Subscription{
			UserID: sub.UserID,
			Tier:   string(tier.Starter),
			Status: models.StatusCanceled,
			Expiry: sub.Expiry,
		}, nil
	}

	current, err := s.store.GetSubscription(ctx, sub.UserID)
	if err != nil {
		return nil, err
	}
	if current.Expired(now) {
		return nil, errors.New("expired subscription was not downgraded")
	}
	s.log.Info("subscription changed before downgrade, using current state",
		sl.User(sub.UserID),
		slog.String("tier", current.Tier),
		slog.String("status", current.Status))
	return current, nil
}

// fromSubscription переводит сохранённую подписку в ответ. Неизвестный
// тариф даёт Starter без изменения профиля.
func (s *Service) fromSubscription(sub *models.Subscription) resolution {
	t, ok := tier.Parse(sub.Tier)
	if !ok {
		s.log.Warn("unknown subscription tier, treating as starter",
			sl.User(sub.UserID),
			slog.String("tier", sub.Tier))
		t = tier.Starter
	}
	res := resolution{Tier: t}
	if sub.Status == models.StatusActive && sub.Expiry != nil {
		res.Expiry = sub.Expiry
	}
	return res
}

// IsFeatureEnabled сообщает, включена ли функция в текущем тарифе
// пользователя. При ошибке возвращает false.
func (s *Service) IsFeatureEnabled(ctx context.Context, userID string, f tier.Feature) bool {
	if userID == "" {
		return s.catalog.Lookup(tier.Starter).Enabled(f)
	}

	key := featureKey(userID, f)
	var cached featureAnswer
	found, err := s.cache.Get(key, &cached)
	if err != nil {
		s.log.Warn("failed to read from cache", slog.String("key", key), sl.Err(err))
	}
	if found && fresh(cached.Expiry, s.now()) {
		s.metrics.CacheHit("feature")
		s.metrics.Decision("feature", cached.Enabled)
		return cached.Enabled
	}
	s.metrics.CacheMiss("feature")

	gen := s.generation(userID)
	res, err := s.resolve(ctx, userID)
	if err != nil {
		s.log.Error("failed to check feature, denying",
			sl.User(userID),
			slog.String("feature", string(f)),
			sl.Err(err))
		s.metrics.Degrade("feature")
		s.metrics.Decision("feature", false)
		return false
	}

	answer := featureAnswer{
		Enabled: s.catalog.Lookup(res.Tier).Enabled(f),
		Expiry:  res.Expiry,
	}
	s.rememberAt(userID, gen, key, answer, answer.Expiry, s.cfg.FeatureTTL, s.now())
	s.metrics.Decision("feature", answer.Enabled)
	return answer.Enabled
}

// ClientLimit возвращает лимит клиентов текущего тарифа.
func (s *Service) ClientLimit(ctx context.Context, userID string) int {
	return s.catalog.Lookup(s.ResolveTier(ctx, userID)).ClientLimit
}

// HasReachedClientLimit сравнивает число клиентов с лимитом тарифа.
// Если число клиентов получить не удалось, лимит считается достигнутым.
func (s *Service) HasReachedClientLimit(ctx context.Context, userID string) bool {
	if userID == "" {
		s.metrics.Decision("client_limit", false)
		return true
	}

	limit := s.ClientLimit(ctx, userID)
	count, err := s.store.CountClients(ctx, userID)
	if err != nil {
		s.log.Error("failed to count clients, reporting limit reached",
			sl.User(userID), sl.Err(err))
		s.metrics.Degrade("client_limit")
		s.metrics.Decision("client_limit", false)
		return true
	}

	reached := count >= limit
	s.metrics.Decision("client_limit", !reached)
	return reached
}

// UpdateSubscriptionTier переводит пользователя на тариф t с активным
// статусом и новым оплаченным периодом. Возвращает false при любой ошибке.
func (s *Service) UpdateSubscriptionTier(ctx context.Context, userID string, t tier.Tier) bool {
	if userID == "" || !t.Valid() {
		s.log.Warn("rejected subscription update",
			sl.User(userID),
			slog.String("tier", string(t)))
		return false
	}

	now := s.now()
	expiry := now.Add(s.cfg.SubscriptionPeriod)
	sub := models.Subscription{
		UserID: userID,
		Tier:   string(t),
		Status: models.StatusActive,
		Expiry: &expiry,
	}
	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		s.log.Error("failed to update subscription tier",
			sl.User(userID),
			slog.String("tier", string(t)),
			sl.Err(err))
		s.metrics.Degrade("update_tier")
		return false
	}

	gen, err := s.invalidate(userID)
	if err != nil {
		s.log.Warn("failed to clear user cache", sl.User(userID), sl.Err(err))
	}
	res := resolution{Tier: t, Expiry: &expiry}
	s.rememberAt(userID, gen, tierKey(userID), res, res.Expiry, s.cfg.TierTTL, now)

	s.log.Info("subscription tier updated",
		sl.User(userID),
		slog.String("tier", string(t)),
		slog.Time("expiry", expiry))
	return true
}

// ProvisionProfile создаёт профиль с тарифом Starter, если его ещё нет.
// Повторный вызов ничего не меняет и возвращает true.
func (s *Service) ProvisionProfile(ctx context.Context, userID string) bool {
	if userID == "" {
		return false
	}

	expiry := s.now().Add(s.cfg.SubscriptionPeriod)
	created, err := s.store.CreateProfile(ctx, models.Subscription{
		UserID: userID,
		Tier:   string(tier.Starter),
		Status: models.StatusActive,
		Expiry: &expiry,
	})
	if err != nil {
		s.log.Error("failed to provision profile", sl.User(userID), sl.Err(err))
		s.metrics.Degrade("provision")
		return false
	}
	if created {
		if _, err := s.invalidate(userID); err != nil {
			s.log.Warn("failed to clear user cache", sl.User(userID), sl.Err(err))
		}
		s.log.Info("profile provisioned", sl.User(userID))
	}
	return true
}

// HandleDowngraded сбрасывает кеш пользователя по событию понижения от
// планировщика. Тело сообщения models.DowngradeEvent в JSON.
func (s *Service) HandleDowngraded(body []byte) error {
	const op = "entitlement.HandleDowngraded"

	var event models.DowngradeEvent
	if err := json.Unmarshal(body, &event); err != nil {
		// Повторная доставка не исправит битое сообщение.
		s.log.Error("discarding malformed downgrade event", sl.Err(err))
		return nil
	}
	if event.UserID == "" {
		s.log.Error("discarding downgrade event without user id")
		return nil
	}

	if _, err := s.invalidate(event.UserID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("cache cleared after downgrade",
		sl.User(event.UserID),
		slog.String("previous_tier", event.PreviousTier))
	return nil
}

// Summary собирает все права пользователя для отображения.
func (s *Service) Summary(ctx context.Context, userID string) Summary {
	t := s.ResolveTier(ctx, userID)
	features := make(map[tier.Feature]bool, len(tier.Features))
	for _, f := range tier.Features {
		features[f] = s.IsFeatureEnabled(ctx, userID, f)
	}
	return Summary{
		Tier:               t,
		ClientLimit:        s.catalog.Lookup(t).ClientLimit,
		ClientLimitReached: s.HasReachedClientLimit(ctx, userID),
		Features:           features,
	}
}

func (s *Service) generation(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[userID]
}

// invalidate открывает новое поколение пользователя, забывает незавершённые
// чтения и очищает его записи в кеше. Возвращает номер нового поколения.
func (s *Service) invalidate(userID string) (uint64, error) {
	s.mu.Lock()
	s.generations[userID]++
	gen := s.generations[userID]
	s.mu.Unlock()

	s.group.Forget(userID)
	return gen, s.cache.ClearUser(userID)
}

// rememberAt пишет в кеш, только если с момента чтения поколение не сменилось.
// Проверка и запись идут под одной блокировкой с увеличением поколения.
func (s *Service) rememberAt(userID string, gen uint64, key string, value any, expiry *time.Time, ttl time.Duration, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[userID] != gen {
		s.log.Debug("skipping stale cache write", sl.User(userID), slog.String("key", key))
		return
	}
	s.remember(key, value, expiry, ttl, now)
}

// remember пишет значение с TTL, урезанным до окончания подписки.
func (s *Service) remember(key string, value any, expiry *time.Time, ttl time.Duration, now time.Time) {
	ttl, ok := clampTTL(ttl, expiry, now)
	if !ok {
		return
	}
	if err := s.cache.Set(key, value, ttl); err != nil {
		s.log.Warn("failed to write to cache", slog.String("key", key), sl.Err(err))
	}
}

func clampTTL(ttl time.Duration, expiry *time.Time, now time.Time) (time.Duration, bool) {
	if expiry == nil {
		return ttl, true
	}
	remaining := expiry.Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	if remaining < ttl {
		return remaining, true
	}
	return ttl, true
}

func fresh(expiry *time.Time, now time.Time) bool {
	return expiry == nil || expiry.After(now)
}
