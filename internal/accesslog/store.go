package accesslog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fshare/fshare/internal/constants"
)

// Record is the persisted form of an Entry.
type Record struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	Time     time.Time `gorm:"index;not null"`
	Address  string    `gorm:"type:varchar(45);index"`
	Identity string    `gorm:"type:varchar(100)"`
	Action   string    `gorm:"type:varchar(20);not null;index"`
	Detail   string    `gorm:"type:text"`
}

// TableName pins the table name.
func (Record) TableName() string { return "access_log" }

// Store persists entries to SQLite, keeping only the newest keep rows.
type Store struct {
	db   *gorm.DB
	keep int
}

// OpenStore opens (creating if needed) a SQLite database at path and migrates
// the access_log table. keep <= 0 uses the default retention.
func OpenStore(path string, keep int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty access log db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir access log dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate access log: %w", err)
	}
	if keep <= 0 {
		keep = constants.AccessLogRetention
	}
	return &Store{db: db, keep: keep}, nil
}

// Write implements Sink.
func (s *Store) Write(e Entry) error {
	rec := Record{
		Time:     e.Time,
		Address:  e.Address,
		Identity: e.Identity,
		Action:   e.Action,
		Detail:   e.Detail,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return err
	}
	// IDs only grow, so everything keep rows behind the new one is stale.
	if int(rec.ID) > s.keep {
		return s.db.Where("id <= ?", int(rec.ID)-s.keep).Delete(&Record{}).Error
	}
	return nil
}

// Recent returns up to limit persisted entries, oldest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []Record
	if err := s.db.Order("id desc").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, len(recs))
	for i, r := range recs {
		out[len(recs)-1-i] = Entry{
			Time:     r.Time,
			Address:  r.Address,
			Identity: r.Identity,
			Action:   r.Action,
			Detail:   r.Detail,
		}
	}
	return out, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
