// Package breaker оборачивает хранилище профилей автоматом защиты:
// после серии подряд идущих ошибок обращения к базе временно прекращаются,
// а вызывающий код сразу получает ошибку и выбирает консервативный ответ.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/magabrotheeeer/theriq/internal/models"
)

// Store методы хранилища профилей, которые защищает автомат.
type Store interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	CreateProfile(ctx context.Context, sub models.Subscription) (bool, error)
	UpdateSubscription(ctx context.Context, sub models.Subscription) error
	DowngradeExpired(ctx context.Context, userID string, now time.Time) (bool, error)
	CountClients(ctx context.Context, userID string) (int, error)
}

// Settings параметры автомата.
type Settings struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// GuardedStore хранилище за автоматом защиты.
type GuardedStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker[any]
}

// New создаёт GuardedStore. Отсутствие профиля и отмена контекста
// не считаются отказом базы.
func New(next Store, s Settings, log *slog.Logger) *GuardedStore {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "profile-store",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, models.ErrProfileNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &GuardedStore{next: next, cb: cb}
}

// State текущее состояние автомата.
func (g *GuardedStore) State() gobreaker.State {
	return g.cb.State()
}

func (g *GuardedStore) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return g.next.GetSubscription(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return res.(*models.Subscription), nil
}

func (g *GuardedStore) CreateProfile(ctx context.Context, sub models.Subscription) (bool, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return g.next.CreateProfile(ctx, sub)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (g *GuardedStore) UpdateSubscription(ctx context.Context, sub models.Subscription) error {
	_, err := g.cb.Execute(func() (any, error) {
		return nil, g.next.UpdateSubscription(ctx, sub)
	})
	return err
}

func (g *GuardedStore) DowngradeExpired(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return g.next.DowngradeExpired(ctx, userID, now)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (g *GuardedStore) CountClients(ctx context.Context, userID string) (int, error) {
	res, err := g.cb.Execute(func() (any, error) {
		return g.next.CountClients(ctx, userID)
	})
	if err != nil {
		return 0, err
	}
	return res.(int), nil
}
