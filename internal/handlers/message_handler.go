package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/thereayou/article-chat/internal/broker"
	"github.com/thereayou/article-chat/internal/handlers/dto"
	"github.com/thereayou/article-chat/internal/models"
	"github.com/thereayou/article-chat/internal/services"
	"github.com/thereayou/article-chat/internal/websocket"
	"github.com/thereayou/article-chat/pkg/log"
)

const frameTimeout = 5 * time.Second

var errNotStored = errors.New("message not stored, try again")

// MessageHandler обрабатывает кадры WebSocket: подписки ведут присутствие, send идет в пайплайн
type MessageHandler struct {
	ctx      context.Context
	chat     ChatService
	presence PresenceTracker
	dest     broker.Destinations

	// conn id -> комната, в которой соединение учтено в присутствии
	rooms sync.Map
}

func NewMessageHandler(ctx context.Context, chat ChatService, presence PresenceTracker, dest broker.Destinations) *MessageHandler {
	return &MessageHandler{
		ctx:      ctx,
		chat:     chat,
		presence: presence,
		dest:     dest,
	}
}

func (h *MessageHandler) HandleFrame(client *websocket.Client, frame *websocket.Frame) error {
	ctx, cancel := context.WithTimeout(h.ctx, frameTimeout)
	defer cancel()

	logger := log.Ctx(ctx).With().Str(log.FieldConnID, client.ID).Str(log.FieldUserID, client.UserID).Logger()
	ctx = log.WithLogger(ctx, logger)

	switch frame.Type {
	case websocket.TypeSubscribe:
		return h.subscribe(ctx, client, frame.Destination)

	case websocket.TypeUnsubscribe:
		return h.unsubscribe(ctx, client, frame.Destination)

	case websocket.TypeSend:
		if frame.Destination != h.dest.Send() {
			return websocket.ErrUnknownDestination
		}
		return h.send(ctx, client, frame.Data)

	default:
		logger.Debug().Str("type", string(frame.Type)).Msg("unknown frame type")
		return websocket.ErrInvalidFrame
	}
}

func (h *MessageHandler) subscribe(ctx context.Context, client *websocket.Client, destination string) error {
	roomID, isCount, ok := h.dest.Parse(destination)
	if !ok {
		return websocket.ErrUnknownDestination
	}
	client.Hub.Subscribe(client, destination)

	if isCount {
		_, err := h.presence.Count(ctx, roomID)
		return err
	}

	if _, err := h.presence.Join(ctx, roomID, client.ID); err != nil {
		return err
	}
	h.rooms.Store(client.ID, roomID)
	return nil
}

func (h *MessageHandler) unsubscribe(ctx context.Context, client *websocket.Client, destination string) error {
	roomID, isCount, ok := h.dest.Parse(destination)
	if !ok {
		return websocket.ErrUnknownDestination
	}
	if !client.IsSubscribed(destination) {
		return nil
	}
	client.Hub.Unsubscribe(client, destination)

	if isCount {
		return nil
	}
	if current, ok := h.rooms.Load(client.ID); !ok || current.(string) != roomID {
		return nil
	}
	h.rooms.Delete(client.ID)
	_, _, _, err := h.presence.Leave(ctx, client.ID)
	return err
}

func (h *MessageHandler) send(ctx context.Context, client *websocket.Client, data json.RawMessage) error {
	var payload dto.SendPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return websocket.ErrInvalidFrame
	}

	msg, err := models.NewChatMessage(payload.RoomID, client.UserID, payload.Content, payload.Kind, time.Now())
	if err != nil {
		return err
	}
	if err := h.chat.Send(ctx, msg); err != nil {
		var perr *services.PipelineError
		if errors.As(err, &perr) {
			return errNotStored
		}
		return err
	}
	return nil
}

// OnDisconnect снимает соединение с присутствия. Передается в websocket.NewHub
func (h *MessageHandler) OnDisconnect(client *websocket.Client) {
	h.rooms.Delete(client.ID)

	// при остановке сервера h.ctx уже отменен, а присутствие все равно нужно снять
	ctx, cancel := context.WithTimeout(context.WithoutCancel(h.ctx), frameTimeout)
	defer cancel()

	if _, _, _, err := h.presence.Leave(ctx, client.ID); err != nil {
		logger := log.Ctx(ctx)
		logger.Error().Err(err).Str(log.FieldConnID, client.ID).Msg("presence leave on disconnect failed")
	}
}
