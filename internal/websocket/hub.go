package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/thereayou/article-chat/pkg/log"
)

const pingInterval = 30 * time.Second

// DisconnectFunc вызывается после снятия клиента с хаба
type DisconnectFunc func(client *Client)

// Hub держит локальные соединения и подписки destination -> клиенты
type Hub struct {
	clients map[string]*Client

	// Подписчики по destination
	subs map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client

	onDisconnect DisconnectFunc
	// незавершенные вызовы onDisconnect
	callbacks sync.WaitGroup

	mu sync.RWMutex

	done     chan struct{}
	stopOnce sync.Once
}

// NewHub создает новый Hub
func NewHub(onDisconnect DisconnectFunc) *Hub {
	return &Hub{
		clients:      make(map[string]*Client),
		subs:         make(map[string]map[string]*Client),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		onDisconnect: onDisconnect,
		done:         make(chan struct{}),
	}
}

// Run обрабатывает регистрации до отмены ctx
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer h.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-h.done:
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.ping()
		}
	}
}

// Stop закрывает все соединения и снимает их так же, как при обычном отключении.
// Возвращается после завершения всех вызовов onDisconnect
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for id, client := range h.clients {
			client.closeSend()
			client.Conn.Close()
			delete(h.clients, id)
			h.disconnectedUnsafe(client)
		}
		h.subs = make(map[string]map[string]*Client)
		h.mu.Unlock()

		h.callbacks.Wait()
	})
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.done:
		return ErrHubStopped
	}
}

// Unregister отменяет регистрацию клиента
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	select {
	case <-h.done:
		h.mu.Unlock()
		client.closeSend()
		client.Conn.Close()
		return
	default:
	}
	h.clients[client.ID] = client
	h.mu.Unlock()

	logger := log.L()
	logger.Debug().Str(log.FieldConnID, client.ID).Str(log.FieldUserID, client.UserID).Msg("client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for _, dest := range client.Destinations() {
		h.removeSubUnsafe(client, dest)
	}
	delete(h.clients, client.ID)
	client.closeSend()
	h.disconnectedUnsafe(client)
	h.mu.Unlock()

	logger := log.L()
	logger.Debug().Str(log.FieldConnID, client.ID).Str(log.FieldUserID, client.UserID).Msg("client unregistered")
}

// disconnectedUnsafe запускает onDisconnect вне цикла хаба. Вызывается под h.mu,
// клиент к этому моменту уже удален из h.clients
func (h *Hub) disconnectedUnsafe(client *Client) {
	if h.onDisconnect == nil {
		return
	}
	h.callbacks.Add(1)
	go func() {
		defer h.callbacks.Done()
		h.onDisconnect(client)
	}()
}

// Subscribe подписывает клиента на destination
func (h *Hub) Subscribe(client *Client, destination string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	if _, ok := h.subs[destination]; !ok {
		h.subs[destination] = make(map[string]*Client)
	}
	h.subs[destination][client.ID] = client
	client.addDestination(destination)
}

// Unsubscribe снимает подписку. false, если подписки не было
func (h *Hub) Unsubscribe(client *Client, destination string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeSubUnsafe(client, destination)
}

func (h *Hub) removeSubUnsafe(client *Client, destination string) bool {
	members, ok := h.subs[destination]
	if !ok {
		return false
	}
	if _, ok := members[client.ID]; !ok {
		return false
	}
	delete(members, client.ID)
	client.removeDestination(destination)
	if len(members) == 0 {
		delete(h.subs, destination)
	}
	return true
}

// Deliver отправляет тело всем локальным подписчикам destination.
// Сигнатура совпадает с обработчиком живого топика
func (h *Hub) Deliver(_ context.Context, destination string, body []byte) {
	frame, err := json.Marshal(Frame{
		Type:        TypeMessage,
		Destination: destination,
		Data:        body,
		Timestamp:   time.Now().UTC(),
	})
	if err != nil {
		logger := log.L()
		logger.Warn().Err(err).Str("destination", destination).Msg("drop undeliverable live event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.subs[destination] {
		if err := client.enqueue(frame); err != nil {
			logger := log.L()
			logger.Warn().Err(err).Str(log.FieldConnID, client.ID).Msg("live event not queued")
		}
	}
}

// Subscribers число локальных подписчиков destination
func (h *Hub) Subscribers(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[destination])
}

func (h *Hub) ping() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(Frame{Type: TypePing, Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	for _, client := range h.clients {
		_ = client.enqueue(data)
	}
}
