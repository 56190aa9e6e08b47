// Package scheduler периодически понижает истёкшие активные подписки до
// starter, не дожидаясь, пока пользователь обратится к API.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/theriq/internal/lib/sl"
	"github.com/magabrotheeeer/theriq/internal/metrics"
	"github.com/magabrotheeeer/theriq/internal/models"
)

// SubscriptionRepository методы хранилища, нужные планировщику.
type SubscriptionRepository interface {
	FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.ExpiredSubscription, error)
	DowngradeExpired(ctx context.Context, userID string, now time.Time) (bool, error)
}

// Publisher отправляет событие о понижении.
type Publisher interface {
	PublishDowngraded(event any) error
}

// Cache сбрасывает закешированные права пользователя.
type Cache interface {
	ClearUser(userID string) error
}

// Service планировщик понижения истёкших подписок.
type Service struct {
	repo      SubscriptionRepository
	publisher Publisher
	cache     Cache
	log       *slog.Logger
	metrics   *metrics.Metrics
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// NewService создает новый экземпляр Service. publisher и cache могут быть nil.
func NewService(repo SubscriptionRepository, publisher Publisher, c Cache, log *slog.Logger,
	interval time.Duration, batchSize int, m *metrics.Metrics) *Service {
	if interval <= 0 {
		interval = time.Hour
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		cache:     c,
		log:       log,
		metrics:   m,
		interval:  interval,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Run выполняет проход сразу и затем на каждом тике, пока ctx не отменён.
func (s *Service) Run(ctx context.Context) {
	s.runOnceLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry scheduler stopped")
			return
		case <-ticker.C:
			s.runOnceLogged(ctx)
		}
	}
}

func (s *Service) runOnceLogged(ctx context.Context) {
	s.log.Info("starting sweep of expired subscriptions")
	n, err := s.RunOnce(ctx)
	if err != nil {
		s.log.Error("expiry sweep failed", slog.Int("downgraded", n), sl.Err(err))
		return
	}
	if n == 0 {
		s.log.Info("no expired subscriptions found")
		return
	}
	s.log.Info("expired subscriptions downgraded", slog.Int("count", n))
}

// RunOnce понижает все найденные истёкшие подписки страницами по batchSize
// и возвращает число пониженных. Ошибки отдельных подписок и публикации
// логируются и не прерывают проход.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	const op = "scheduler.RunOnce"
	now := s.now()
	total := 0

	for {
		batch, err := s.repo.FindExpiredActive(ctx, now, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("%s: %w", op, err)
		}

		progressed := 0
		for _, sub := range batch {
			if err := ctx.Err(); err != nil {
				return total, fmt.Errorf("%s: %w", op, err)
			}
			if s.downgrade(ctx, sub, now) {
				progressed++
			}
		}
		total += progressed

		// Неудачные записи остаются в выборке; без прогресса следующая
		// страница вернула бы их же.
		if len(batch) < s.batchSize || progressed == 0 {
			return total, nil
		}
	}
}

func (s *Service) downgrade(ctx context.Context, sub models.ExpiredSubscription, now time.Time) bool {
	ok, err := s.repo.DowngradeExpired(ctx, sub.UserID, now)
	if err != nil {
		s.log.Error("failed to downgrade subscription", sl.User(sub.UserID), sl.Err(err))
		return false
	}
	if !ok {
		return false
	}
	s.metrics.Downgrades.Inc()

	if s.cache != nil {
		if err := s.cache.ClearUser(sub.UserID); err != nil {
			s.log.Warn("failed to clear user cache", sl.User(sub.UserID), sl.Err(err))
		}
	}
	if s.publisher != nil {
		event := models.DowngradeEvent{
			UserID:       sub.UserID,
			PreviousTier: sub.Tier,
			DowngradedAt: now,
		}
		if err := s.publisher.PublishDowngraded(event); err != nil {
			s.log.Error("failed to publish message", sl.User(sub.UserID), sl.Err(err))
		}
	}
	return true
}
