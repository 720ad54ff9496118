package journal

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cjeanneret/turret/internal/debug"
)

// Kind classifies a journal entry.
type Kind string

const (
	SessionOpen     Kind = "session_open"
	SessionClose    Kind = "session_close"
	SessionRejected Kind = "session_rejected"
	Fire            Kind = "fire"
	Reset           Kind = "reset"
	EStopTrip       Kind = "estop_trip"
)

// Event is one safety-relevant occurrence.
type Event struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
	Kind      Kind      `json:"kind" gorm:"size:32;index"`
	Session   string    `json:"session" gorm:"size:36;index"`
	Detail    string    `json:"detail" gorm:"size:255"`
}

// Journal appends events to a local SQLite file. A nil *Journal discards
// everything, so callers need not check whether journaling is enabled.
type Journal struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite journal at path and migrates
// the schema. ":memory:" gives a private in-memory journal.
func Open(path string) (*Journal, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	// ":memory:" databases exist per connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Event{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	debug.Logger().Info().Str("path", path).Msg("Event journal ready")
	return &Journal{db: db}, nil
}

// Record appends an event. Failures are logged, never returned.
func (j *Journal) Record(kind Kind, session, detail string) {
	if j == nil {
		return
	}
	ev := Event{Kind: kind, Session: session, Detail: truncate(detail, 255)}
	if err := j.db.Create(&ev).Error; err != nil {
		debug.Warn("journal %s: %v", kind, err)
	}
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	if j == nil {
		return nil, nil
	}
	var events []Event
	err := j.db.Order("id desc").Limit(limit).Find(&events).Error
	return events, err
}

// Count returns how many events of kind have been recorded.
func (j *Journal) Count(kind Kind) (int64, error) {
	if j == nil {
		return 0, nil
	}
	var n int64
	err := j.db.Model(&Event{}).Where("kind = ?", kind).Count(&n).Error
	return n, err
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
