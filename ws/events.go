package ws

import (
	"fmt"
	"strings"
	"time"

	"github.com/voxchat/voxchat/globals"
	"github.com/voxchat/voxchat/persistence"
	"github.com/voxchat/voxchat/types"
)

// handleSetUsername performs the username claim: ban check, user record upsert, session
// binding, then the full presence and history sync. A false return tears the connection
// down; only an empty name and a ban are fatal to the session, a failing persister just
// drops the claim so the client may retry.
func (c *Client) handleSetUsername(payload types.SetUsernamePayload) bool {
	username := strings.TrimSpace(payload.Username)
	if username == "" {
		// nothing to bind, drop the connection
		return false
	}
	now := time.Now()
	user := types.User{Username: username}
	err := c.hub.Persister.GetUser(&user)
	switch {
	case err == persistence.ErrNotFound:
		user = types.User{Username: username, Avatar: payload.Avatar, LastSeen: now, IP: c.RemoteAddr}
		if err := c.hub.Persister.StoreUser(user); err != nil {
			globals.AppLogger.Error("could not store user", "username", username, "error", err)
			return true
		}

	case err != nil:
		globals.AppLogger.Error("could not load user", "username", username, "error", err)
		return true

	case user.IsBanned:
		c.sendSystemNotice("You are banned.")
		return false

	default:
		user.Avatar = payload.Avatar
		user.LastSeen = now
		user.IP = c.RemoteAddr
		if err := c.hub.Persister.StoreUser(user); err != nil {
			globals.AppLogger.Error("could not store user", "username", username, "error", err)
			return true
		}
	}

	c.hub.Claim(c, username, payload.Avatar)

	// to this connection only, in this order: public history, then the private
	// conversations involving this username
	c.sendHistory()
	c.sendPrivateHistory(username)

	// then everyone learns about the (re)arrival
	c.hub.BroadcastUserList()
	c.hub.BroadcastEvent(types.EventStatusUpdate, types.StatusUpdate{Username: username, Status: types.StatusOnline})
	return true
}

func (c *Client) sendHistory() {
	messages, err := c.hub.Persister.GetPublicHistory(c.hub.historySize())
	if err != nil {
		globals.AppLogger.Error("could not load public history", "error", err)
		return
	}
	wire := make([]*types.WireMessage, 0, len(messages))
	for _, message := range messages {
		wire = append(wire, message.Wire())
	}
	c.hub.SendEvent(c, types.EventHistory, wire)
}

func (c *Client) sendPrivateHistory(username string) {
	messages, err := c.hub.Persister.GetPrivateHistory(username)
	if err != nil {
		globals.AppLogger.Error("could not load private history", "error", err)
		return
	}
	groups := make(map[string][]*types.WireMessage)
	for _, message := range messages {
		key := types.ConversationKey(message.Sender, message.Target)
		groups[key] = append(groups[key], message.Wire())
	}
	c.hub.SendEvent(c, types.EventDmHistorySync, groups)
}

// handleChatMessage is the chat pipeline: slash commands, validation, the optional
// message filter, persist, then route.
func (c *Client) handleChatMessage(payload types.ChatMessagePayload) {
	username := c.hub.SessionUsername(c)
	if username == "" {
		// unauthenticated events are dropped silently
		return
	}
	if strings.HasPrefix(payload.Text, "/") {
		if c.runCommand(username, payload.Text) {
			return
		}
		// unknown commands fall through as regular messages
	}
	message := types.Message{
		Text:      payload.Text,
		Image:     payload.Image,
		Sender:    username,
		Avatar:    payload.Avatar,
		Type:      payload.Type,
		Target:    payload.Target,
		Timestamp: time.Now(),
	}
	if message.Type == "" {
		message.Type = types.MessageTypeGeneral
	}
	if message.Type == types.MessageTypePrivate && message.Target == "" {
		// a private message without a recipient is just a public message
		message.Type = types.MessageTypeGeneral
	}
	if c.hub.RejectsMessage(&message) {
		c.sendSystemNotice("Message rejected.")
		return
	}
	if err := message.CreateId(); err != nil {
		globals.AppLogger.Error("could not hash chat message", "error", err)
		return
	}
	// persist first so a reconnecting client observes the message via history
	if err := c.hub.Persister.StoreMessage(message); err != nil {
		globals.AppLogger.Error("could not persist chat message", "error", err)
		return
	}
	if message.Type == types.MessageTypePrivate {
		c.hub.SendEvent(c, types.EventChatMessage, message.Wire())
		for _, peer := range c.hub.ClientsByUsername(message.Target) {
			if peer == c {
				continue
			}
			c.hub.SendEvent(peer, types.EventChatMessage, message.Wire())
		}
	} else {
		c.hub.BroadcastEvent(types.EventChatMessage, message.Wire())
	}
}

// runCommand handles the slash-command sub-protocol. It reports whether the command was
// consumed; unconsumed text is treated as a regular message.
func (c *Client) runCommand(username, text string) bool {
	parts := strings.Split(text, " ")
	switch parts[0] {
	case "/auth":
		if len(parts) > 1 && parts[1] == c.hub.Cfg.AdminPassword {
			c.hub.Elevate(c)
			globals.AppLogger.Info("admin elevated", "username", username, "connection", c.Id)
			c.sendSystemNotice("Admin logged in.")
		}
		return true

	case "/kick", "/ban":
		if !c.hub.IsAdmin(c) {
			c.sendSystemNotice("Permission denied.")
			return true
		}
		if len(parts) < 2 {
			return true
		}
		target := parts[1]
		if parts[0] == "/ban" {
			c.hub.BanUser(target)
		} else {
			c.hub.CloseSessions(target)
		}
		globals.AppLogger.Info("moderation command", "command", parts[0], "by", username, "target", target)
		return true
	}
	return false
}

// handleVoiceJoin adds the session to the voice roster and announces it, both as a
// persisted system chat message and as a peer-discovery event to everyone else.
func (c *Client) handleVoiceJoin() {
	username := c.hub.SessionUsername(c)
	if username == "" {
		return
	}
	if !c.hub.JoinVoice(c) {
		return
	}
	c.announceVoice(fmt.Sprintf("**%s** joined Voice Chat.", username))
	c.hub.BroadcastEventExcept(c, types.EventVcUserJoined, c.Id)
}

func (c *Client) handleVoiceLeave(disconnect bool) {
	username := c.hub.SessionUsername(c)
	if username == "" {
		return
	}
	if !c.hub.LeaveVoice(c) {
		return
	}
	if disconnect {
		c.announceVoice(fmt.Sprintf("**%s** left Voice Chat (Disconnect).", username))
	} else {
		c.announceVoice(fmt.Sprintf("**%s** left Voice Chat.", username))
	}
	c.hub.BroadcastEventExcept(c, types.EventVcUserLeft, c.Id)
}

// announceVoice persists a system message and broadcasts it to all connections.
func (c *Client) announceVoice(text string) {
	message := types.NewSystemMessage(text)
	if err := message.CreateId(); err != nil {
		globals.AppLogger.Error("could not hash system message", "error", err)
		return
	}
	if err := c.hub.Persister.StoreMessage(*message); err != nil {
		globals.AppLogger.Error("could not persist system message", "error", err)
		return
	}
	c.hub.BroadcastEvent(types.EventChatMessage, message.Wire())
}

// handleSignal forwards an opaque signaling blob to the session addressed by connection
// id. A vanished target is a silent drop.
func (c *Client) handleSignal(payload types.SignalPayload) {
	if payload.Target == "" {
		return
	}
	peer := c.hub.ClientById(payload.Target)
	if peer == nil {
		return
	}
	c.hub.SendEvent(peer, types.EventSignal, types.SignalForward{Sender: c.Id, Signal: payload.Signal})
}

// HandleDisconnect runs the disconnect sequence after the read loop has exited: voice
// roster cleanup with its announcement, the lastSeen update and the offline broadcast.
// The caller unregisters the client afterwards.
func (c *Client) HandleDisconnect() {
	username := c.hub.SessionUsername(c)
	if username == "" {
		return
	}
	c.handleVoiceLeave(true)
	if err := c.hub.Persister.UpdateUserLastSeen(username, time.Now()); err != nil {
		globals.AppLogger.Error("could not update lastSeen", "username", username, "error", err)
	}
	c.hub.BroadcastEvent(types.EventStatusUpdate, types.StatusUpdate{Username: username, Status: types.StatusOffline})
}

// sendSystemNotice delivers an unpersisted system chat message to this connection only.
func (c *Client) sendSystemNotice(text string) {
	c.hub.SendEvent(c, types.EventChatMessage, types.NewSystemMessage(text).Wire())
}
