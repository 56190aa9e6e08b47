package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/theriq/internal/metrics"
	"github.com/magabrotheeeer/theriq/internal/models"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]models.ExpiredSubscription, error) {
	args := m.Called(ctx, now, limit)
	subs, _ := args.Get(0).([]models.ExpiredSubscription)
	return subs, args.Error(1)
}

func (m *MockRepository) DowngradeExpired(ctx context.Context, userID string, now time.Time) (bool, error) {
	args := m.Called(ctx, userID, now)
	return args.Bool(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishDowngraded(event any) error {
	return m.Called(event).Error(0)
}

type MockCache struct {
	mock.Mock
}

func (m *MockCache) ClearUser(userID string) error {
	return m.Called(userID).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

var fixedNow = time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC)

func expired(userID, tier string) models.ExpiredSubscription {
	return models.ExpiredSubscription{UserID: userID, Tier: tier, Expiry: fixedNow.Add(-time.Hour)}
}

func newTestService(repo *MockRepository, pub Publisher, c Cache, batch int, m *metrics.Metrics) *Service {
	s := NewService(repo, pub, c, newNoopLogger(), time.Hour, batch, m)
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestService_RunOnce(t *testing.T) {
	tests := []struct {
		name       string
		setupMocks func(*MockRepository, *MockPublisher, *MockCache)
		want       int
		wantErr    bool
	}{
		{
			name: "pages until a short batch",
			setupMocks: func(r *MockRepository, p *MockPublisher, c *MockCache) {
				r.On("FindExpiredActive", mock.Anything, fixedNow, 2).
					Return([]models.ExpiredSubscription{expired("u1", "pro"), expired("u2", "premium")}, nil).Once()
				r.On("FindExpiredActive", mock.Anything, fixedNow, 2).
					Return([]models.ExpiredSubscription{expired("u3", "pro")}, nil).Once()
				r.On("DowngradeExpired", mock.Anything, mock.Anything, fixedNow).Return(true, nil).Times(3)
				c.On("ClearUser", mock.Anything).Return(nil).Times(3)
				p.On("PublishDowngraded", mock.Anything).Return(nil).Times(3)
			},
			want: 3,
		},
		{
			name: "nothing expired",
			setupMocks: func(r *MockRepository, _ *MockPublisher, _ *MockCache) {
				r.On("FindExpiredActive", mock.Anything, fixedNow, 2).Return(nil, nil).Once()
			},
			want: 0,
		},
		{
			name: "repository error",
			setupMocks: func(r *MockRepository, _ *MockPublisher, _ *MockCache) {
				r.On("FindExpiredActive", mock.Anything, fixedNow, 2).Return(nil, errors.New("db error")).Once()
			},
			wantErr: true,
		},
		{
			name: "publish error does not stop the sweep",
			setupMocks: func(r *MockRepository, p *MockPublisher, c *MockCache) {
				r.On("FindExpiredActive", mock.Anything, fixedNow, 2).
					Return([]models.ExpiredSubscription{expired("u1", "pro")}, nil).Once()
				r.On("DowngradeExpired", mock.Anything, "u1", fixedNow).Return(true, nil).Once()
				c.On("ClearUser", "u1").Return(nil).Once()
				p.On("PublishDowngraded", mock.Anything).Return(errors.New("channel closed")).Once()
			},
			want: 1,
		},
		{
			name: "already downgraded elsewhere is skipped",
			setupMocks: func(r *MockRepository, p *MockPublisher, c *MockCache) {
				r.On("FindExpiredActive", mock.Anything, fixedNow, 2).
					Return([]models.ExpiredSubscription{expired("u1", "pro")}, nil).Once()
				r.On("DowngradeExpired", mock.Anything, "u1", fixedNow).Return(false, nil).Once()
			},
			want: 0,
		},
		{
			name: "failing rows stop paging",
			setupMocks: func(r *MockRepository, _ *MockPublisher, _ *MockCache) {
				r.On("FindExpiredActive", mock.Anything, fixedNow, 2).
					Return([]models.ExpiredSubscription{expired("u1", "pro"), expired("u2", "pro")}, nil).Once()
				r.On("DowngradeExpired", mock.Anything, mock.Anything, fixedNow).Return(false, errors.New("deadlock")).Twice()
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			pub := new(MockPublisher)
			c := new(MockCache)
			tt.setupMocks(repo, pub, c)

			got, err := newTestService(repo, pub, c, 2, nil).RunOnce(context.Background())
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)

			repo.AssertExpectations(t)
			pub.AssertExpectations(t)
			c.AssertExpectations(t)
		})
	}
}

func TestService_RunOnce_PublishesEvent(t *testing.T) {
	repo := new(MockRepository)
	pub := new(MockPublisher)
	m := metrics.New(nil)

	repo.On("FindExpiredActive", mock.Anything, fixedNow, 10).
		Return([]models.ExpiredSubscription{expired("u7", "premium")}, nil).Once()
	repo.On("DowngradeExpired", mock.Anything, "u7", fixedNow).Return(true, nil).Once()
	pub.On("PublishDowngraded", models.DowngradeEvent{
		UserID:       "u7",
		PreviousTier: "premium",
		DowngradedAt: fixedNow,
	}).Return(nil).Once()

	n, err := newTestService(repo, pub, nil, 10, m).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downgrades))
	pub.AssertExpectations(t)
}

func TestService_RunOnce_CancelledContext(t *testing.T) {
	repo := new(MockRepository)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	repo.On("FindExpiredActive", mock.Anything, fixedNow, 10).
		Return([]models.ExpiredSubscription{expired("u1", "pro")}, nil).Once()

	_, err := newTestService(repo, nil, nil, 10, nil).RunOnce(ctx)
	require.ErrorIs(t, err, context.Canceled)
	repo.AssertNotCalled(t, "DowngradeExpired", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RunStopsOnCancel(t *testing.T) {
	repo := new(MockRepository)
	var calls atomic.Int32
	repo.On("FindExpiredActive", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { calls.Add(1) }).
		Return(nil, nil)

	s := NewService(repo, nil, nil, newNoopLogger(), 10*time.Millisecond, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
