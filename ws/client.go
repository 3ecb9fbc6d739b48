package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/voxchat/voxchat/globals"
	"github.com/voxchat/voxchat/types"
)

// Client is a middleman between the websocket connection and the hub. It is also the
// session entry: the connection id, the claimed username and the admin and voice flags
// live here, guarded by the hub lock.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	// Id is the connection id, unique among live sessions, used as the address for
	// targeted signaling.
	Id string

	// Session state, guarded by the hub lock. Username stays empty until a successful
	// set-username claim.
	Username string
	Avatar   string
	IsAdmin  bool
	InVoice  bool

	// RemoteAddr is the derived client address (x-forwarded-for aware).
	RemoteAddr string

	// closed by ReadLoop when the connection is gone
	doneChan chan struct{}

	// WaitGroup tracking the registration handshake and the write loop. When it is
	// done, no loop is running any more.
	sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, doneChan chan struct{}) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		Send:       make(chan []byte, sendChannelSize),
		Id:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		doneChan:   doneChan,
	}
}

// decodePayload runs the usual unmarshal-then-weak-decode dance on an event payload.
func decodePayload(data json.RawMessage, out interface{}) bool {
	payloadMap := make(map[string]interface{})
	if err := json.Unmarshal(data, &payloadMap); err != nil {
		globals.AppLogger.Error("could not unmarshal event payload", "error", err)
		return false
	}
	if err := mapstructure.WeakDecode(payloadMap, out); err != nil {
		globals.AppLogger.Error("could not decode event payload", "error", err)
		return false
	}
	return true
}

// ReadLoop pumps events from the websocket connection into the handlers.
//
// The application runs ReadLoop on the connection's handler goroutine. The application
// ensures that there is at most one reader on a connection by executing all reads from
// this goroutine, which is also what serializes event handling per connection.
func (c *Client) ReadLoop() {
	defer close(c.doneChan)
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				globals.AppLogger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Error("could not unmarshal ws message", "error", err)
			return
		}

		switch message.Event {
		case types.EventSetUsername:
			payload := types.SetUsernamePayload{}
			if !decodePayload(message.Data, &payload) {
				return
			}
			if !c.handleSetUsername(payload) {
				return
			}

		case types.EventChatMessage:
			payload := types.ChatMessagePayload{}
			if !decodePayload(message.Data, &payload) {
				return
			}
			c.handleChatMessage(payload)

		case types.EventVcJoin:
			c.handleVoiceJoin()

		case types.EventVcLeave:
			c.handleVoiceLeave(false)

		case types.EventSignal:
			payload := types.SignalPayload{}
			if err := json.Unmarshal(message.Data, &payload); err != nil {
				// malformed signaling is dropped, not fatal
				continue
			}
			c.handleSignal(payload)
		}
	}
}

// WriteLoop pumps messages from the Send channel to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The application ensures
// that there is at most one writer to a connection by executing all writes from this
// goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Done()
	}()
	for {
		select {
		case <-c.doneChan:
			// flush what is already queued (f.e. the ban notice) before tearing down
			c.flushSend()
			return

		case message, ok := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				globals.AppLogger.Debug("could not write to ws connection, exiting write loop")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				globals.AppLogger.Debug("could not send ping message, exiting write loop")
				return
			}
		}
	}
}

func (c *Client) flushSend() {
	for i := len(c.Send); i > 0; i-- {
		message, ok := <-c.Send
		if !ok {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
