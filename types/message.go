package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

const (
	MessageTypeGeneral = "general"
	MessageTypePrivate = "private"
	MessageTypeSystem  = "system"

	// SystemSender is the reserved sender name for server-generated messages.
	SystemSender = "System"
)

// clockLayout renders timestamps the way the web client expects them, the en-US
// 12-hour clock. This is frozen on purpose, clients display the string verbatim.
const clockLayout = "3:04 PM"

// Message is a persisted chat message. Messages are append-only, there is no edit or
// delete. For type "private", Target holds the recipient username.
type Message struct {
	Id        string    `json:"-" gorm:"primaryKey" hash:"ignore"`
	Text      string    `json:"text"`
	Image     string    `json:"image"`
	Sender    string    `json:"sender"`
	Avatar    string    `json:"avatar"`
	Type      string    `json:"type"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp" gorm:"index"`
}

// CreateId derives the message id from a hash over its content and timestamp.
func (m *Message) CreateId() error {
	hash, err := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", hash)
	return nil
}

// Wire returns the transport form of the message, with the timestamp already rendered
// as a clock string.
func (m *Message) Wire() *WireMessage {
	return &WireMessage{
		Text:   m.Text,
		Image:  m.Image,
		Sender: m.Sender,
		Avatar: m.Avatar,
		Time:   m.Timestamp.Format(clockLayout),
		Type:   m.Type,
		Target: m.Target,
	}
}

// NewSystemMessage returns an unpersisted system message with the current timestamp.
func NewSystemMessage(text string) *Message {
	return &Message{
		Text:      text,
		Sender:    SystemSender,
		Type:      MessageTypeSystem,
		Timestamp: time.Now(),
	}
}

// ConversationKey canonically identifies the private-message dialog between two
// usernames: both names sorted lexicographically and joined by ":".
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}
