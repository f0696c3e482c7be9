package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"ridepool/internal/offer-service/domain"
	"ridepool/pkg/logger"
	"ridepool/pkg/rabbitmq"
)

const offerExchange = "offer_topic"

// RabbitMQPublisher publishes offer outcomes to the offer topic
// exchange.
type RabbitMQPublisher struct {
	conn *rabbitmq.Connection
	log  logger.Logger
}

func NewRabbitMQPublisher(conn *rabbitmq.Connection, log logger.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{conn: conn, log: log}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event.EventType(), err)
	}

	if err := p.conn.Publish(ctx, offerExchange, event.RoutingKey(), body); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType(), err)
	}

	p.log.WithFields(logger.LogFields{
		"event_type": event.EventType(),
	}).Debug("event_published", "Offer event published")
	return nil
}
