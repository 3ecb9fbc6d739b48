package types

import "time"

// User is the persisted identity behind a username claim. The username doubles as the
// primary key, which is what enforces its uniqueness. IP is the most recently observed
// client address and is what a ban is enforced against on future connections.
type User struct {
	Username string    `json:"username" gorm:"primaryKey"`
	Avatar   string    `json:"avatar"`
	LastSeen time.Time `json:"lastSeen" gorm:"index"`
	IsMuted  bool      `json:"isMuted"`
	IsBanned bool      `json:"isBanned"`
	IP       string    `json:"-"`
}
