package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/tidwall/buntdb"
	"github.com/voxchat/voxchat/config"
	"github.com/voxchat/voxchat/globals"
	"github.com/voxchat/voxchat/types"
)

// BuntDBPersist is the file-backed alternative to the gorm persister. User records are
// stored under "user:<username>", messages under "message:<padded unix nanos>:<id>" so
// that plain key order is chronological order.
type BuntDBPersist struct {
	db       *buntdb.DB
	fileLock *flock.Flock
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	var fileLock *flock.Flock
	if cfg.PersistenceConfig.DSN != ":memory:" {
		fileLock = flock.New(cfg.PersistenceConfig.DSN + ".lock")
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("database %s is locked by another process", cfg.PersistenceConfig.DSN)
		}
	}
	db, err := buntdb.Open(cfg.PersistenceConfig.DSN)
	if err != nil {
		if fileLock != nil {
			fileLock.Unlock()
		}
		return nil, err
	}
	return &BuntDBPersist{db: db, fileLock: fileLock}, nil
}

// messageKey is chronologically sortable: nanosecond timestamps are zero-padded to a
// fixed width, the message id breaks ties.
func messageKey(message *types.Message) string {
	return fmt.Sprintf("message:%020d:%s", message.Timestamp.UnixNano(), message.Id)
}

// storedUser is the storage encoding of a user record. It cannot be types.User itself:
// there the IP carries `json:"-"` so it never leaves the server, here it has to survive
// the round trip or bans stop matching addresses.
type storedUser struct {
	Username string    `json:"username"`
	Avatar   string    `json:"avatar"`
	LastSeen time.Time `json:"lastSeen"`
	IsMuted  bool      `json:"isMuted"`
	IsBanned bool      `json:"isBanned"`
	IP       string    `json:"ip"`
}

func toStoredUser(user types.User) storedUser {
	return storedUser(user)
}

func (s storedUser) user() types.User {
	return types.User(s)
}

func (p *BuntDBPersist) StoreUser(user types.User) error {
	u, err := json.Marshal(toStoredUser(user))
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("user:"+user.Username, string(u), nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Username == "" {
		return fmt.Errorf("no username")
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get("user:" + user.Username)
		if err == buntdb.ErrNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		stored := storedUser{}
		if err := json.Unmarshal([]byte(u), &stored); err != nil {
			return err
		}
		*user = stored.user()
		return nil
	})
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("user:*", func(key, val string) bool {
			stored := storedUser{}
			if err := json.Unmarshal([]byte(val), &stored); err == nil {
				user := stored.user()
				users = append(users, &user)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].LastSeen.After(users[j].LastSeen) })
	return users, nil
}

func (p *BuntDBPersist) UpdateUserLastSeen(username string, ts time.Time) error {
	user := types.User{Username: username}
	if err := p.GetUser(&user); err != nil {
		return err
	}
	user.LastSeen = ts
	return p.StoreUser(user)
}

func (p *BuntDBPersist) SetUserBanned(username string, banned bool) error {
	user := types.User{Username: username}
	if err := p.GetUser(&user); err != nil {
		return err
	}
	user.IsBanned = banned
	return p.StoreUser(user)
}

func (p *BuntDBPersist) IsIPBanned(ip string) (bool, error) {
	banned := false
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("user:*", func(key, val string) bool {
			stored := storedUser{}
			if err := json.Unmarshal([]byte(val), &stored); err != nil {
				return true
			}
			if stored.IsBanned && stored.IP == ip {
				banned = true
				return false
			}
			return true
		})
	})
	return banned, err
}

func (p *BuntDBPersist) StoreMessage(message types.Message) error {
	m, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(messageKey(&message), string(m), nil)
		return err
	})
}

// GetPublicHistory returns the most recent general and system messages, oldest first.
func (p *BuntDBPersist) GetPublicHistory(maxCount int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.DescendKeys("message:*", func(key, val string) bool {
			message := &types.Message{}
			if err := json.Unmarshal([]byte(val), message); err != nil {
				globals.AppLogger.Error("could not unmarshal message", "error", err)
				return true
			}
			if message.Type != types.MessageTypeGeneral && message.Type != types.MessageTypeSystem {
				return true
			}
			messages = append(messages, message)
			return maxCount <= 0 || len(messages) < maxCount
		})
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetPrivateHistory returns all private messages sent or received by the given
// username, in ascending timestamp order.
func (p *BuntDBPersist) GetPrivateHistory(username string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("message:*", func(key, val string) bool {
			message := &types.Message{}
			if err := json.Unmarshal([]byte(val), message); err != nil {
				globals.AppLogger.Error("could not unmarshal message", "error", err)
				return true
			}
			if message.Type != types.MessageTypePrivate {
				return true
			}
			if message.Sender != username && message.Target != username {
				return true
			}
			messages = append(messages, message)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (p *BuntDBPersist) Close() error {
	err := p.db.Close()
	if p.fileLock != nil {
		p.fileLock.Unlock()
	}
	return err
}
