package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ridepool/pkg/auth"
	"ridepool/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Period of sending ping messages
	pingPeriod = (pongWait * 9) / 10

	// Max inbound message size
	maxMessageSize = 512

	// Time allowed for the client to send its auth message
	authTime = 5 * time.Second
)

type wsErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type authRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Connection is an authenticated client connection with a buffered
// outbound queue drained by writePump.
type Connection struct {
	conn       *websocket.Conn
	log        logger.Logger
	send       chan []byte
	done       chan struct{}
	writeMutex sync.Mutex
	Claims     *auth.AppClaims
}

func newConnection(conn *websocket.Conn, log logger.Logger, claims *auth.AppClaims) *Connection {
	return &Connection{
		conn:   conn,
		log:    log,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		Claims: claims,
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.log.Error("websocket_write", err)
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Connection) write(mt int, payload []byte) error {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(mt, payload)
}

// WriteJSON queues a JSON payload for delivery. Messages are dropped
// rather than blocking when the send buffer is full.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errors.New("connection closed")
	case c.send <- data:
		return nil
	default:
		c.log.WithFields(logger.LogFields{"user_id": c.Claims.UserID}).Error("websocket_send_buffer_full", errors.New("dropping message"))
		return errors.New("send buffer full")
	}
}

// ReadPump consumes inbound messages until the connection errors or
// closes, then invokes onDisconnect.
func (c *Connection) ReadPump(onMessage func(msgType int, p []byte), onDisconnect func()) {
	defer func() {
		onDisconnect()
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway) {
				c.log.Error("websocket_read_error", err)
			}
			break
		}
		onMessage(msgType, msg)
	}
}

// Close is idempotent and safe to race with WriteJSON. The send
// channel is never closed; shutdown is signalled through done so a
// concurrent sender can never hit a closed channel.
func (c *Connection) Close() {
	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()

	select {
	case <-c.done:
		return
	default:
		close(c.done)
		c.conn.Close()
	}
}

// Handler upgrades an HTTP request, performs the in-band auth handshake
// and hands the authenticated connection to onConnect.
type Handler struct {
	log          logger.Logger
	jwtManager   *auth.JWTManager
	onConnect    func(conn *Connection)
	expectedRole auth.Role
}

func NewHandler(log logger.Logger, jwtManager *auth.JWTManager, onConnect func(conn *Connection), expectedRole auth.Role) *Handler {
	return &Handler{
		log:          log,
		jwtManager:   jwtManager,
		onConnect:    onConnect,
		expectedRole: expectedRole,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket_upgrade_failed", err)
		return
	}

	conn.SetReadDeadline(time.Now().Add(authTime))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		sendErrorAndClose(conn, "Authentication timeout")
		return
	}

	var req authRequest
	if err := json.Unmarshal(msg, &req); err != nil || req.Type != "auth" || req.Token == "" {
		sendErrorAndClose(conn, "Invalid authentication request format")
		return
	}

	tokenString := strings.TrimPrefix(req.Token, "Bearer ")
	claims, err := h.jwtManager.ParseToken(tokenString)
	if err != nil {
		sendErrorAndClose(conn, "Invalid or expired token")
		return
	}

	if claims.Role != h.expectedRole {
		h.log.WithFields(logger.LogFields{
			"user_id":  claims.UserID,
			"got_role": claims.Role,
			"expected": h.expectedRole,
		}).Error("websocket_auth_role_mismatch", errors.New("invalid role"))
		sendErrorAndClose(conn, "Invalid or expired token")
		return
	}

	wsConn := newConnection(conn, h.log, claims)
	go wsConn.writePump()
	go h.onConnect(wsConn)
}

func sendErrorAndClose(conn *websocket.Conn, msg string) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteJSON(wsErrorResponse{
		Type:    "error",
		Message: msg,
	})
	conn.Close()
}
