package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "alice:bob", ConversationKey("alice", "bob"))
	assert.Equal(t, "alice:bob", ConversationKey("bob", "alice"))
	assert.Equal(t, "bob:bob", ConversationKey("bob", "bob"))
}

func TestWireClock(t *testing.T) {
	m := Message{Text: "hi", Sender: "alice", Type: MessageTypeGeneral}

	m.Timestamp = time.Date(2021, time.May, 3, 15, 4, 0, 0, time.UTC)
	assert.Equal(t, "3:04 PM", m.Wire().Time)

	m.Timestamp = time.Date(2021, time.May, 3, 9, 7, 59, 0, time.UTC)
	assert.Equal(t, "9:07 AM", m.Wire().Time)

	m.Timestamp = time.Date(2021, time.May, 3, 0, 5, 0, 0, time.UTC)
	assert.Equal(t, "12:05 AM", m.Wire().Time)
}

func TestWireShape(t *testing.T) {
	m := Message{
		Text:      "psst",
		Image:     "data:image/png;base64,xyz",
		Sender:    "alice",
		Avatar:    "a1",
		Type:      MessageTypePrivate,
		Target:    "bob",
		Timestamp: time.Date(2021, time.May, 3, 12, 0, 0, 0, time.UTC),
	}
	w := m.Wire()
	assert.Equal(t, "psst", w.Text)
	assert.Equal(t, "data:image/png;base64,xyz", w.Image)
	assert.Equal(t, "alice", w.Sender)
	assert.Equal(t, "a1", w.Avatar)
	assert.Equal(t, MessageTypePrivate, w.Type)
	assert.Equal(t, "bob", w.Target)
	assert.Equal(t, "12:00 PM", w.Time)
}

func TestCreateId(t *testing.T) {
	ts := time.Now()
	m1 := Message{Text: "hi", Sender: "alice", Type: MessageTypeGeneral, Timestamp: ts}
	m2 := Message{Text: "hi", Sender: "alice", Type: MessageTypeGeneral, Timestamp: ts}
	if err := m1.CreateId(); err != nil {
		t.Fatal(err)
	}
	if err := m2.CreateId(); err != nil {
		t.Fatal(err)
	}
	assert.NotEmpty(t, m1.Id)
	assert.Equal(t, m1.Id, m2.Id)

	// the id itself must not feed back into the hash
	m2.Id = "something else"
	if err := m2.CreateId(); err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, m1.Id, m2.Id)

	m3 := Message{Text: "bye", Sender: "alice", Type: MessageTypeGeneral, Timestamp: ts}
	if err := m3.CreateId(); err != nil {
		t.Fatal(err)
	}
	assert.NotEqual(t, m1.Id, m3.Id)
}

func TestNewSystemMessage(t *testing.T) {
	m := NewSystemMessage("Admin logged in.")
	assert.Equal(t, SystemSender, m.Sender)
	assert.Equal(t, MessageTypeSystem, m.Type)
	assert.Equal(t, "Admin logged in.", m.Text)
	assert.False(t, m.Timestamp.IsZero())
}
