package consumer

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"ridepool/pkg/logger"
	"ridepool/pkg/rabbitmq"
	"ridepool/pkg/websocket"
)

// MessageConsumer forwards committed trip events from the broker to
// connected websocket clients. Delivery is best effort: a passenger who
// is offline simply misses the push and sees fresh state on next fetch.
type MessageConsumer struct {
	conn     *rabbitmq.Connection
	managers []*websocket.Manager
	log      logger.Logger
}

func NewMessageConsumer(conn *rabbitmq.Connection, log logger.Logger, managers ...*websocket.Manager) *MessageConsumer {
	return &MessageConsumer{conn: conn, managers: managers, log: log}
}

type bookingEvent struct {
	BookingID string `json:"booking_id"`
	TripID    string `json:"trip_id"`
	UserID    string `json:"user_id"`
}

type assignedEvent struct {
	TripID   string `json:"trip_id"`
	DriverID string `json:"driver_id"`
	OwnerID  string `json:"owner_id"`
}

// Start subscribes to the trip queues. It returns once the consumers
// are installed; message handling happens on the connection's consumer
// goroutines.
func (c *MessageConsumer) Start() error {
	if err := c.conn.Consume("trip_bookings", c.handleBooking); err != nil {
		return fmt.Errorf("failed to consume trip_bookings: %w", err)
	}
	if err := c.conn.Consume("trip_status", c.handleStatus); err != nil {
		return fmt.Errorf("failed to consume trip_status: %w", err)
	}
	return nil
}

func (c *MessageConsumer) handleBooking(d amqp.Delivery) {
	var event bookingEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.log.Error("consume_booking_event", err)
		return
	}

	c.notify(event.UserID, map[string]any{
		"type":       d.RoutingKey,
		"booking_id": event.BookingID,
		"trip_id":    event.TripID,
	})
}

func (c *MessageConsumer) handleStatus(d amqp.Delivery) {
	if d.RoutingKey == "trip.assigned" {
		var event assignedEvent
		if err := json.Unmarshal(d.Body, &event); err != nil {
			c.log.Error("consume_assigned_event", err)
			return
		}
		c.notify(event.OwnerID, map[string]any{
			"type":      d.RoutingKey,
			"trip_id":   event.TripID,
			"driver_id": event.DriverID,
		})
		return
	}

	var event struct {
		TripID    string `json:"trip_id"`
		NewStatus string `json:"new_status"`
	}
	if err := json.Unmarshal(d.Body, &event); err != nil {
		c.log.Error("consume_status_event", err)
		return
	}
	// Status changes fan out to every connected client; the payload is
	// small and clients filter by trip id.
	for _, m := range c.managers {
		m.Broadcast(map[string]any{
			"type":    d.RoutingKey,
			"trip_id": event.TripID,
			"status":  event.NewStatus,
		})
	}
}

func (c *MessageConsumer) notify(userID string, message map[string]any) {
	for _, m := range c.managers {
		if m.IsUserConnected(userID) {
			if err := m.SendToUser(userID, message); err != nil {
				c.log.Error("ws_notify", err)
			}
			return
		}
	}
}
