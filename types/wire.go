package types

import "encoding/json"

// Event names on the wire, client -> server.
const (
	EventSetUsername = "set-username"
	EventChatMessage = "chat-message"
	EventVcJoin      = "vc-join"
	EventVcLeave     = "vc-leave"
	EventSignal      = "signal"
)

// Event names on the wire, server -> client. EventChatMessage and EventSignal are used
// in both directions.
const (
	EventHistory        = "history"
	EventDmHistorySync  = "dm-history-sync"
	EventUserListUpdate = "user-list-update"
	EventStatusUpdate   = "status-update"
	EventVcUserJoined   = "vc-user-joined"
	EventVcUserLeft     = "vc-user-left"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// JSON-serialized WebsocketMessage is what is actually sent via the Websocket connection
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewWebsocketMessage marshals data into the websocket envelope for the given event.
func NewWebsocketMessage(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: raw})
}

// WireMessage is the formatted message shape delivered to clients. Time is the server
// timestamp rendered as a 12-hour clock string.
type WireMessage struct {
	Text   string `json:"text"`
	Image  string `json:"image"`
	Sender string `json:"sender"`
	Avatar string `json:"avatar"`
	Time   string `json:"time"`
	Type   string `json:"type"`
	Target string `json:"target"`
}

// StatusUpdate announces a user going online or offline.
type StatusUpdate struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// The different types of event payloads transferred from the client to here.

type SetUsernamePayload struct {
	Username string `json:"username" mapstructure:"username"`
	Avatar   string `json:"avatar" mapstructure:"avatar"`
}

type ChatMessagePayload struct {
	Text   string `json:"text" mapstructure:"text"`
	Image  string `json:"image" mapstructure:"image"`
	Avatar string `json:"avatar" mapstructure:"avatar"`
	Type   string `json:"type" mapstructure:"type"`
	Target string `json:"target" mapstructure:"target"`
}

// SignalPayload addresses an opaque signaling blob to a connection id. The blob is
// relayed as-is, the server never inspects it.
type SignalPayload struct {
	Target string          `json:"target"`
	Signal json.RawMessage `json:"signal"`
}

// SignalForward is the relayed form of a signaling payload, carrying the connection id
// of the originating session.
type SignalForward struct {
	Sender string          `json:"sender"`
	Signal json.RawMessage `json:"signal"`
}
