// Package dbstore persists session tokens in a SQLite database through GORM.
package dbstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/go-authgate/admin-session/session"
)

// Entry is one stored value of one profile.
type Entry struct {
	Profile   string `gorm:"primaryKey"`
	Key       string `gorm:"column:name;primaryKey"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

// TableName keeps the table name stable across struct renames.
func (Entry) TableName() string { return "session_tokens" }

// Storage implements session.Storage on top of a GORM database.
type Storage struct {
	db      *gorm.DB
	profile string
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path, profile string) (*Storage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return New(db, profile)
}

// New wraps an open database, migrating the token table.
func New(db *gorm.DB, profile string) (*Storage, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate token table: %w", err)
	}
	return &Storage{db: db, profile: profile}, nil
}

func (s *Storage) Load(key string) (string, error) {
	var e Entry
	err := s.db.Where("profile = ? AND name = ?", s.profile, key).First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", session.ErrNotFound
		}
		return "", err
	}
	return e.Value, nil
}

func (s *Storage) Save(key, value string) error {
	e := Entry{Profile: s.profile, Key: key, Value: value}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "profile"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (s *Storage) Delete(key string) error {
	return s.db.Where("profile = ? AND name = ?", s.profile, key).Delete(&Entry{}).Error
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
