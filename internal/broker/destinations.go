package broker

import "strings"

const (
	DefaultTopicPrefix = "/topic/room"
	DefaultAppPrefix   = "/app"

	countSuffix = ".count"
	sendPath    = "/chat.send"
)

// Destinations адреса клиентского протокола:
// <topic>.<id> сообщения комнаты, <topic>.<id>.count счетчик, <app>/chat.send отправка
type Destinations struct {
	TopicPrefix string
	AppPrefix   string
}

func NewDestinations(topicPrefix, appPrefix string) Destinations {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	if appPrefix == "" {
		appPrefix = DefaultAppPrefix
	}
	return Destinations{
		TopicPrefix: strings.TrimSuffix(topicPrefix, "."),
		AppPrefix:   strings.TrimSuffix(appPrefix, "/"),
	}
}

func (d Destinations) Room(roomID string) string {
	return d.TopicPrefix + "." + roomID
}

func (d Destinations) Count(roomID string) string {
	return d.Room(roomID) + countSuffix
}

func (d Destinations) Send() string {
	return d.AppPrefix + sendPath
}

// Parse разбирает адрес топика. count=true для топика счетчика
func (d Destinations) Parse(destination string) (roomID string, count bool, ok bool) {
	rest, found := strings.CutPrefix(destination, d.TopicPrefix+".")
	if !found || rest == "" {
		return "", false, false
	}
	if id, isCount := strings.CutSuffix(rest, countSuffix); isCount {
		return id, true, id != ""
	}
	return rest, false, true
}
