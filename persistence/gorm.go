package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/voxchat/voxchat/config"
	"github.com/voxchat/voxchat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the persister
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	db.Migrator().AutoMigrate(&types.User{}, &types.Message{})
	return db, nil
}

func (p *GormPersist) StoreUser(user types.User) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (p *GormPersist) GetUser(user *types.User) error {
	err := p.db.First(user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Order("last_seen DESC").Find(&users).Error
	return users, err
}

func (p *GormPersist) UpdateUserLastSeen(username string, ts time.Time) error {
	return p.db.Model(&types.User{Username: username}).Update("last_seen", ts).Error
}

func (p *GormPersist) SetUserBanned(username string, banned bool) error {
	return p.db.Model(&types.User{Username: username}).Update("is_banned", banned).Error
}

func (p *GormPersist) IsIPBanned(ip string) (bool, error) {
	var count int64
	err := p.db.Model(&types.User{}).Where("is_banned = ? AND ip = ?", true, ip).Count(&count).Error
	return count > 0, err
}

func (p *GormPersist) StoreMessage(message types.Message) error {
	return p.db.Create(&message).Error
}

// GetPublicHistory returns the most recent general and system messages, oldest first.
func (p *GormPersist) GetPublicHistory(maxCount int) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.
		Where("type IN ?", []string{types.MessageTypeGeneral, types.MessageTypeSystem}).
		Order("timestamp DESC").Limit(maxCount).Find(&messages).Error
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
func (p *GormPersist) GetPrivateHistory(username string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.
		Where("type = ? AND (sender = ? OR target = ?)", types.MessageTypePrivate, username, username).
		Order("timestamp ASC").Find(&messages).Error
	return messages, err
}

func (p *GormPersist) Close() error {
	return nil
}
