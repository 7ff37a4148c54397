// README: RabbitMQ publisher for tracking alerts on a topic exchange, routing key alert.<type>.
package alerting

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"ridetrack/internal/modules/tracking"
)

// Channel is the subset of *amqp091.Channel used by Publisher.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

type Publisher struct {
	ch       Channel
	exchange string
}

func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

func RoutingKey(t tracking.AlertType) string {
	return "alert." + string(t)
}

func (p *Publisher) Publish(ctx context.Context, a tracking.TrackingAlert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	err = p.ch.PublishWithContext(ctx,
		p.exchange,         // exchange
		RoutingKey(a.Type), // routing key
		false,              // mandatory
		false,              // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    a.ID,
			Timestamp:    a.Timestamp,
		})
	if err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", a.ID, err)
	}
	return nil
}
