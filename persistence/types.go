package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxchat/voxchat/config"
	"github.com/voxchat/voxchat/types"
)

// ErrNotFound is returned by GetUser when no record matches the given username.
var ErrNotFound = errors.New("not found")

type Persister interface {
	StoreUser(types.User) error
	GetUser(*types.User) error
	GetUsers() ([]*types.User, error)
	UpdateUserLastSeen(username string, ts time.Time) error
	SetUserBanned(username string, banned bool) error
	IsIPBanned(ip string) (bool, error)
	StoreMessage(types.Message) error
	GetPublicHistory(maxCount int) ([]*types.Message, error)
	GetPrivateHistory(username string) ([]*types.Message, error)
	Close() error
}

// NewPersister dispatches on the configured persistence type.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "sqlite", "postgres":
		return NewGormPersister(cfg)

	case "buntdb":
		return NewBuntPersister(cfg)

	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
}
