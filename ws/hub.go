package ws

import (
	"sync"
	"time"

	"github.com/antonmedv/expr/vm"
	lru "github.com/hashicorp/golang-lru"
	"github.com/robfig/cron/v3"
	"github.com/voxchat/voxchat/config"
	"github.com/voxchat/voxchat/globals"
	"github.com/voxchat/voxchat/persistence"
	"github.com/voxchat/voxchat/types"
)

const (
	maxMessageSize = 1 << 20 // image data URLs ride inside chat payloads
	pongWait       = 2 * time.Minute
	pingPeriod     = time.Minute
	writeWait      = 10 * time.Second

	sendChannelSize = 1000
	banCacheSize    = 1024

	defaultHistorySize = 50

	// persist lastSeen for connected named sessions once a minute
	lastSeenCronSpec = "* * * * *"
)

// Hub owns all live sessions: the client registry with its connection-id and username
// indices, the voice roster and the admin flags on the sessions themselves. All of it
// is guarded by the embedded RWMutex; targeted sends happen under RLock with a
// membership check so nothing is ever written to a torn-down session.
type Hub struct {
	// Registered clients, plus an index by connection id.
	clients    map[*Client]struct{}
	clientById map[string]*Client

	// Connection ids currently in the voice channel.
	voice map[string]struct{}

	// Register a new client to the hub.
	Register chan *Client

	// Unregister a client from the hub.
	Unregister chan *Client

	// global configuration
	Cfg *config.Config

	// persistence
	Persister persistence.Persister

	// compiled message filter, nil if none is configured
	filterProg *vm.Program

	// verdict cache in front of the banned-address query on connection accept
	banCache *lru.Cache

	// mutex for manipulating the registry, the voice roster and client session state
	sync.RWMutex
}

func NewHub(cfg *config.Config, persister persistence.Persister) *Hub {
	banCache, err := lru.New(banCacheSize)
	if err != nil {
		panic(err)
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		clientById: make(map[string]*Client),
		voice:      make(map[string]struct{}),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Cfg:        cfg,
		Persister:  persister,
		filterProg: compileMessageFilter(cfg.MessageFilter),
		banCache:   banCache,
	}
}

// NoClients returns the number of clients registered.
func (h *Hub) NoClients() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.clients)
}

// Run is the main hub event loop handling register and unregister events.
func (h *Hub) Run() {
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if h.Persister != nil {
		entryId, err := cronRunner.AddFunc(lastSeenCronSpec, h.refreshLastSeen)
		if err != nil {
			panic(err)
		}
		defer cronRunner.Remove(entryId)
	}
	cronRunner.Start()
	defer cronRunner.Stop()
	for {
		select {
		case client := <-h.Register:
			globals.AppLogger.Debug("register new client", "connection", client.Id)
			h.Lock()
			h.clients[client] = struct{}{}
			h.clientById[client.Id] = client
			h.Unlock()
			client.Done() // registration acknowledged

		case client := <-h.Unregister:
			h.Lock()
			if _, ok := h.clients[client]; ok {
				globals.AppLogger.Debug("unregister client", "connection", client.Id)
				delete(h.clients, client)
				delete(h.clientById, client.Id)
				delete(h.voice, client.Id)
				client.conn.Close()
				// no send can be in flight here: all sends happen under RLock with a
				// membership check, so closing the channel is safe
				close(client.Send)
			}
			h.Unlock()
		}
	}
}

// broadcastRaw queues an envelope on every registered client. Sends are synchronous
// under RLock, which is what preserves per-connection delivery order.
func (h *Hub) broadcastRaw(data []byte) {
	h.RLock()
	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
			globals.AppLogger.Warn("send buffer full, dropping", "connection", client.Id)
		}
	}
	h.RUnlock()
}

// SendEvent marshals and queues an event for a single client. Late events for a
// torn-down session are dropped silently.
func (h *Hub) SendEvent(c *Client, event string, data interface{}) {
	raw, err := types.NewWebsocketMessage(event, data)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	if _, ok := h.clients[c]; ok {
		select {
		case c.Send <- raw:
		default:
			globals.AppLogger.Warn("send buffer full, dropping", "connection", c.Id)
		}
	}
	h.RUnlock()
}

// BroadcastEvent marshals an event once and queues it on every client.
func (h *Hub) BroadcastEvent(event string, data interface{}) {
	raw, err := types.NewWebsocketMessage(event, data)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.broadcastRaw(raw)
}

// BroadcastEventExcept queues an event on every client except the given one.
func (h *Hub) BroadcastEventExcept(except *Client, event string, data interface{}) {
	raw, err := types.NewWebsocketMessage(event, data)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.RLock()
	for client := range h.clients {
		if client == except {
			continue
		}
		select {
		case client.Send <- raw:
		default:
			globals.AppLogger.Warn("send buffer full, dropping", "connection", client.Id)
		}
	}
	h.RUnlock()
}

// Claim binds a username and avatar to the session.
func (h *Hub) Claim(c *Client, username, avatar string) {
	h.Lock()
	c.Username = username
	c.Avatar = avatar
	h.Unlock()
}

// SessionUsername returns the username bound to the session, or "" before any claim.
func (h *Hub) SessionUsername(c *Client) string {
	h.RLock()
	defer h.RUnlock()
	return c.Username
}

// ClientById resolves a connection id to its live session, nil if there is none.
func (h *Hub) ClientById(id string) *Client {
	h.RLock()
	defer h.RUnlock()
	return h.clientById[id]
}

// ClientsByUsername returns every live session bound to the given username. Multiple
// concurrent sessions may share a name, private messages fan out to all of them.
func (h *Hub) ClientsByUsername(username string) []*Client {
	clients := make([]*Client, 0, 1)
	h.RLock()
	for client := range h.clients {
		if client.Username == username {
			clients = append(clients, client)
		}
	}
	h.RUnlock()
	return clients
}

// Elevate marks the session as admin after a successful /auth.
func (h *Hub) Elevate(c *Client) {
	h.Lock()
	c.IsAdmin = true
	h.Unlock()
}

func (h *Hub) IsAdmin(c *Client) bool {
	h.RLock()
	defer h.RUnlock()
	return c.IsAdmin
}

// JoinVoice adds the session to the voice roster. It reports false if the session is
// unnamed or already a member.
func (h *Hub) JoinVoice(c *Client) bool {
	h.Lock()
	defer h.Unlock()
	if c.Username == "" {
		return false
	}
	if _, ok := h.voice[c.Id]; ok {
		return false
	}
	h.voice[c.Id] = struct{}{}
	c.InVoice = true
	return true
}

// LeaveVoice removes the session from the voice roster. It reports false if the
// session was not a member.
func (h *Hub) LeaveVoice(c *Client) bool {
	h.Lock()
	defer h.Unlock()
	if _, ok := h.voice[c.Id]; !ok {
		return false
	}
	delete(h.voice, c.Id)
	c.InVoice = false
	return true
}

func (h *Hub) InVoice(c *Client) bool {
	h.RLock()
	defer h.RUnlock()
	return c.InVoice
}

// CloseSessions closes the transport of every session bound to the given username.
// The regular disconnect path takes care of the rest.
func (h *Hub) CloseSessions(username string) {
	for _, client := range h.ClientsByUsername(username) {
		client.conn.Close()
	}
}

// IsAddressBanned reports whether a connection from the given address must be refused.
// Verdicts are cached, BanUser invalidates the relevant entry.
func (h *Hub) IsAddressBanned(addr string) bool {
	if v, ok := h.banCache.Get(addr); ok {
		return v.(bool)
	}
	banned, err := h.Persister.IsIPBanned(addr)
	if err != nil {
		globals.AppLogger.Error("could not check address ban", "error", err)
		return false
	}
	h.banCache.Add(addr, banned)
	return banned
}

// BanUser flags the user record as banned and drops the cached verdict for its
// recorded address, then closes all of the user's live sessions.
func (h *Hub) BanUser(username string) {
	if err := h.Persister.SetUserBanned(username, true); err != nil {
		globals.AppLogger.Error("could not ban user", "username", username, "error", err)
		return
	}
	user := types.User{Username: username}
	if err := h.Persister.GetUser(&user); err == nil && user.IP != "" {
		h.banCache.Remove(user.IP)
	}
	h.CloseSessions(username)
}

// BroadcastUserList sends the full user list, most recently seen first, to everyone.
func (h *Hub) BroadcastUserList() {
	users, err := h.Persister.GetUsers()
	if err != nil {
		globals.AppLogger.Error("could not load user list", "error", err)
		return
	}
	h.BroadcastEvent(types.EventUserListUpdate, users)
}

func (h *Hub) historySize() int {
	if h.Cfg != nil && h.Cfg.HistorySize > 0 {
		return h.Cfg.HistorySize
	}
	return defaultHistorySize
}

func (h *Hub) refreshLastSeen() {
	names := make(map[string]struct{})
	h.RLock()
	for client := range h.clients {
		if client.Username != "" {
			names[client.Username] = struct{}{}
		}
	}
	h.RUnlock()
	now := time.Now()
	for username := range names {
		if err := h.Persister.UpdateUserLastSeen(username, now); err != nil {
			globals.AppLogger.Error("could not refresh lastSeen", "username", username, "error", err)
		}
	}
}
