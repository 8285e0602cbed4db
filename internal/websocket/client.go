package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/thereayou/article-chat/pkg/log"
)

const (
	// Время ожидания записи
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал отправки ping
	pingPeriod = (pongWait * 9) / 10

	// Максимальный размер кадра
	maxFrameSize = 64 * 1024

	sendBuffer = 256
)

// FrameHandler обрабатывает кадры клиента (кроме pong)
type FrameHandler interface {
	HandleFrame(client *Client, frame *Frame) error
}

type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	mu           sync.RWMutex
	closed       bool
	destinations map[string]struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		ID:           uuid.NewString(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan []byte, sendBuffer),
		Hub:          hub,
		destinations: make(map[string]struct{}),
	}
}

// ReadPump читает кадры клиента до ошибки соединения, затем снимает клиента с хаба
func (c *Client) ReadPump(handler FrameHandler) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxFrameSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame Frame
		err := c.Conn.ReadJSON(&frame)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger := log.L()
				logger.Warn().Err(err).Str(log.FieldConnID, c.ID).Msg("websocket read failed")
			}
			break
		}

		if frame.Type == TypePong {
			c.Conn.SetReadDeadline(time.Now().Add(pongWait))
			continue
		}

		if handler != nil {
			if err := handler.HandleFrame(c, &frame); err != nil {
				c.SendError(frame.Destination, err)
			}
		}
	}
}

// WritePump пишет очередь клиента в соединение
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Дописываем накопившиеся кадры
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendFrame ставит кадр в очередь клиента
func (c *Client) SendFrame(frameType FrameType, destination string, data interface{}) error {
	frame := Frame{
		Type:        frameType,
		Destination: destination,
		Timestamp:   time.Now().UTC(),
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		frame.Data = jsonData
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.enqueue(raw)
}

func (c *Client) SendError(destination string, err error) {
	if sendErr := c.SendFrame(TypeError, destination, errorBody{Error: err.Error()}); sendErr != nil {
		logger := log.L()
		logger.Debug().Err(sendErr).Str(log.FieldConnID, c.ID).Msg("error frame dropped")
	}
}

// IsSubscribed проверяет подписку клиента
func (c *Client) IsSubscribed(destination string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.destinations[destination]
	return ok
}

func (c *Client) Destinations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.destinations))
	for dest := range c.destinations {
		out = append(out, dest)
	}
	return out
}

func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return ErrHubStopped
	}
	select {
	case c.Send <- data:
		return nil
	default:
		return ErrClientQueueFull
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

func (c *Client) addDestination(dest string) {
	c.mu.Lock()
	c.destinations[dest] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeDestination(dest string) {
	c.mu.Lock()
	delete(c.destinations, dest)
	c.mu.Unlock()
}
