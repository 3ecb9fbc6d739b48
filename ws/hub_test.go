package ws

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxchat/voxchat/config"
	"github.com/voxchat/voxchat/persistence"
	"github.com/voxchat/voxchat/types"
)

func newRegistryHub(t *testing.T, cfg *config.Config) *Hub {
	if cfg == nil {
		cfg = &config.Config{AdminPassword: "admin123", HistorySize: 50}
	}
	cfg.PersistenceConfig = config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"}
	persister, err := persistence.NewPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { persister.Close() })
	return NewHub(cfg, persister)
}

// addSession registers a session directly, bypassing the run loop; fine for registry
// tests that never touch the transport.
func addSession(h *Hub, username string) *Client {
	c := NewClient(h, nil, "127.0.0.1", make(chan struct{}))
	h.Lock()
	h.clients[c] = struct{}{}
	h.clientById[c.Id] = c
	h.Unlock()
	if username != "" {
		h.Claim(c, username, "")
	}
	return c
}

func TestClaimAndLookup(t *testing.T) {
	h := newRegistryHub(t, nil)
	bob1 := addSession(h, "bob")
	bob2 := addSession(h, "bob")
	alice := addSession(h, "alice")
	unnamed := addSession(h, "")

	assert.Equal(t, 4, h.NoClients())
	assert.Equal(t, "bob", h.SessionUsername(bob1))
	assert.Equal(t, "", h.SessionUsername(unnamed))

	// duplicate usernames are permitted, lookup returns every matching session
	bobs := h.ClientsByUsername("bob")
	assert.Len(t, bobs, 2)
	assert.Contains(t, bobs, bob1)
	assert.Contains(t, bobs, bob2)
	assert.Len(t, h.ClientsByUsername("alice"), 1)
	assert.Len(t, h.ClientsByUsername("nobody"), 0)

	assert.Equal(t, alice, h.ClientById(alice.Id))
	assert.Nil(t, h.ClientById("gone"))
}

func TestVoiceRoster(t *testing.T) {
	h := newRegistryHub(t, nil)
	alice := addSession(h, "alice")
	unnamed := addSession(h, "")

	// only named sessions may join
	assert.False(t, h.JoinVoice(unnamed))
	assert.False(t, h.InVoice(unnamed))

	assert.True(t, h.JoinVoice(alice))
	assert.True(t, h.InVoice(alice))
	// joining twice is a no-op
	assert.False(t, h.JoinVoice(alice))

	assert.True(t, h.LeaveVoice(alice))
	assert.False(t, h.InVoice(alice))
	// leaving twice is a no-op
	assert.False(t, h.LeaveVoice(alice))
}

func TestElevate(t *testing.T) {
	h := newRegistryHub(t, nil)
	alice := addSession(h, "alice")
	assert.False(t, h.IsAdmin(alice))
	h.Elevate(alice)
	assert.True(t, h.IsAdmin(alice))
}

// failingUserStore wraps a real persister and lets single user operations fail on
// demand.
type failingUserStore struct {
	persistence.Persister
	getErr   error
	storeErr error
}

func (f *failingUserStore) GetUser(user *types.User) error {
	if f.getErr != nil {
		return f.getErr
	}
	return f.Persister.GetUser(user)
}

func (f *failingUserStore) StoreUser(user types.User) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	return f.Persister.StoreUser(user)
}

func TestClaimWithFailingPersister(t *testing.T) {
	h := newRegistryHub(t, nil)
	store := &failingUserStore{Persister: h.Persister, getErr: errors.New("backend down")}
	h.Persister = store
	c := addSession(h, "")

	// a failing load drops the claim but keeps the session alive, nothing is sent
	assert.True(t, c.handleSetUsername(types.SetUsernamePayload{Username: "alice"}))
	assert.Equal(t, "", h.SessionUsername(c))
	assert.Len(t, c.Send, 0)

	// same for a failing insert of a fresh record
	store.getErr = nil
	store.storeErr = errors.New("backend down")
	assert.True(t, c.handleSetUsername(types.SetUsernamePayload{Username: "alice"}))
	assert.Equal(t, "", h.SessionUsername(c))
	assert.Len(t, c.Send, 0)

	// an empty name stays fatal to the session
	assert.False(t, c.handleSetUsername(types.SetUsernamePayload{Username: "   "}))

	// once the backend recovers the same connection can claim
	store.storeErr = nil
	assert.True(t, c.handleSetUsername(types.SetUsernamePayload{Username: "alice"}))
	assert.Equal(t, "alice", h.SessionUsername(c))
}

func TestSendEventDroppedAfterDetach(t *testing.T) {
	h := newRegistryHub(t, nil)
	alice := addSession(h, "alice")

	h.SendEvent(alice, types.EventStatusUpdate, types.StatusUpdate{Username: "bob", Status: types.StatusOnline})
	assert.Len(t, alice.Send, 1)

	h.Lock()
	delete(h.clients, alice)
	delete(h.clientById, alice.Id)
	h.Unlock()

	// late events for a torn-down session are dropped silently
	h.SendEvent(alice, types.EventStatusUpdate, types.StatusUpdate{Username: "bob", Status: types.StatusOffline})
	assert.Len(t, alice.Send, 1)
}

func TestBroadcastEventExcept(t *testing.T) {
	h := newRegistryHub(t, nil)
	alice := addSession(h, "alice")
	bob := addSession(h, "bob")

	h.BroadcastEventExcept(alice, types.EventVcUserJoined, alice.Id)
	assert.Len(t, alice.Send, 0)
	assert.Len(t, bob.Send, 1)
}

func TestRejectsMessage(t *testing.T) {
	cfg := &config.Config{AdminPassword: "admin123", MessageFilter: `Text contains "spam"`}
	h := newRegistryHub(t, cfg)

	spam := types.Message{Text: "buy spam now", Sender: "mallory", Type: types.MessageTypeGeneral}
	ham := types.Message{Text: "hello", Sender: "alice", Type: types.MessageTypeGeneral}
	assert.True(t, h.RejectsMessage(&spam))
	assert.False(t, h.RejectsMessage(&ham))
}

func TestRejectsMessageNoFilter(t *testing.T) {
	h := newRegistryHub(t, nil)
	m := types.Message{Text: "anything goes", Sender: "alice", Type: types.MessageTypeGeneral}
	assert.False(t, h.RejectsMessage(&m))
}

func TestIsAddressBanned(t *testing.T) {
	h := newRegistryHub(t, nil)
	require.NoError(t, h.Persister.StoreUser(types.User{Username: "mallory", IP: "1.2.3.4", LastSeen: time.Now()}))

	assert.False(t, h.IsAddressBanned("1.2.3.4"))

	// BanUser must invalidate the cached verdict for the recorded address
	h.BanUser("mallory")
	assert.True(t, h.IsAddressBanned("1.2.3.4"))
	assert.False(t, h.IsAddressBanned("5.6.7.8"))
}
