package rabbitmq

import (
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"
)

// Channel часть *amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch Channel, exchange string, routingKey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Publisher публикует события подписок в обменник subscriptions.
type Publisher struct {
	ch Channel
}

// NewPublisher создает новый экземпляр Publisher.
func NewPublisher(ch Channel) *Publisher {
	return &Publisher{ch: ch}
}

// PublishDowngraded публикует событие с ключом downgraded.
func (p *Publisher) PublishDowngraded(event any) error {
	return PublishMessage(p.ch, ExchangeSubscriptions, RoutingKeyDowngraded, event)
}
