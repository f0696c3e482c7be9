package websocket

import (
	"sync"

	"ridepool/pkg/logger"
)

// Manager tracks the live connection per user. Passengers receive
// booking updates, drivers receive trip offers.
type Manager struct {
	connections map[string]*Connection // user_id -> connection
	mu          sync.RWMutex
	log         logger.Logger
}

func NewManager(log logger.Logger) *Manager {
	return &Manager{
		connections: make(map[string]*Connection),
		log:         log,
	}
}

// AddConnection registers a connection, replacing any existing one for
// the same user.
func (m *Manager) AddConnection(userID string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.connections[userID]; ok {
		existing.Close()
	}

	m.connections[userID] = conn
	m.log.WithFields(logger.LogFields{
		"user_id": userID,
		"total":   len(m.connections),
	}).Info("websocket_connected", "New connection added")
}

func (m *Manager) RemoveConnection(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.connections[userID]; ok {
		conn.Close()
		delete(m.connections, userID)
	}
}

// SendToUser delivers a message to a specific user. A disconnected user
// is not an error; the message is simply dropped.
func (m *Manager) SendToUser(userID string, message interface{}) error {
	m.mu.RLock()
	conn, ok := m.connections[userID]
	m.mu.RUnlock()

	if !ok {
		return nil
	}

	if err := conn.WriteJSON(message); err != nil {
		m.log.WithFields(logger.LogFields{"user_id": userID}).Error("websocket_send_failed", err)
		m.RemoveConnection(userID)
		return err
	}
	return nil
}

// Broadcast sends a message to every connected user.
func (m *Manager) Broadcast(message interface{}) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteJSON(message); err != nil {
			m.log.Error("websocket_broadcast_failed", err)
		}
	}
}

func (m *Manager) IsUserConnected(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.connections[userID]
	return ok
}
