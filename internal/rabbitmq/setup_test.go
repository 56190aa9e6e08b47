package rabbitmq

import (
	"errors"
	"testing"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type TopologyMock struct {
	mock.Mock
}

func (m *TopologyMock) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *TopologyMock) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *TopologyMock) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	ret := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return amqp.Queue{Name: name}, ret.Error(0)
}

func (m *TopologyMock) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *TopologyMock) Close() error {
	return m.Called().Error(0)
}

func TestDeclareTopology_Success(t *testing.T) {
	ch := new(TopologyMock)
	ch.On("Qos", 10, 0, false).Return(nil).Once()
	ch.On("ExchangeDeclare", ExchangeSubscriptions, "direct", true, false, false, false, mock.Anything).Return(nil).Once()
	ch.On("QueueDeclare", "theriq.cache-invalidation", true, false, false, false, mock.Anything).Return(nil).Once()
	ch.On("QueueBind", "theriq.cache-invalidation", RoutingKeyDowngraded, ExchangeSubscriptions, false, mock.Anything).Return(nil).Once()

	require.NoError(t, declareTopology(ch, CacheInvalidationQueues()))

	ch.AssertExpectations(t)
	ch.AssertNotCalled(t, "Close")
}

func TestDeclareTopology_ClosesChannelOnFailure(t *testing.T) {
	failure := errors.New("channel/connection is not open")

	tests := []struct {
		name  string
		setup func(ch *TopologyMock)
	}{
		{
			name: "qos",
			setup: func(ch *TopologyMock) {
				ch.On("Qos", 10, 0, false).Return(failure)
			},
		},
		{
			name: "exchange",
			setup: func(ch *TopologyMock) {
				ch.On("Qos", 10, 0, false).Return(nil)
				ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(failure)
			},
		},
		{
			name: "queue declare",
			setup: func(ch *TopologyMock) {
				ch.On("Qos", 10, 0, false).Return(nil)
				ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(failure)
			},
		},
		{
			name: "queue bind",
			setup: func(ch *TopologyMock) {
				ch.On("Qos", 10, 0, false).Return(nil)
				ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				ch.On("QueueDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
				ch.On("QueueBind", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(failure)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := new(TopologyMock)
			tt.setup(ch)
			ch.On("Close").Return(nil).Once()

			err := declareTopology(ch, CacheInvalidationQueues())

			require.Error(t, err)
			assert.ErrorIs(t, err, failure)
			ch.AssertCalled(t, "Close")
		})
	}
}
