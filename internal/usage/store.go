// Package usage persists per-request accounting records in SQLite.
package usage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is the GORM model for one completed (or failed) chat request.
type Record struct {
	ID            uint      `gorm:"primaryKey;autoIncrement;column:id"`
	RequestID     string    `gorm:"column:request_id;index;not null"`
	Provider      string    `gorm:"column:provider;index:idx_provider_model;not null"`
	Model         string    `gorm:"column:model;index:idx_provider_model;not null"`
	FinishReason  string    `gorm:"column:finish_reason;index;not null"`
	Events        int       `gorm:"column:events;not null"`
	Bytes         int64     `gorm:"column:bytes;not null"`
	ContentTokens int       `gorm:"column:content_tokens;not null"`
	WebSearchUsed bool      `gorm:"column:web_search_used;default:0"`
	LatencyMs     int       `gorm:"column:latency_ms"`
	CreatedAt     time.Time `gorm:"column:created_at;index;not null"`
}

func (Record) TableName() string {
	return "chat_usage"
}

// Store writes usage records to a SQLite database.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open creates or loads the usage database at path.
func Open(path string) (*Store, error) {
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate usage database: %w", err)
	}
	logrus.Infof("usage store opened at %s", path)
	return &Store{db: db}, nil
}

// Add persists one record. A zero CreatedAt is filled in.
func (s *Store) Add(record *Record) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	return s.db.Create(record).Error
}

// ModelStat is one row of the per-model aggregation.
type ModelStat struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	RequestCount  int64  `json:"request_count"`
	ContentTokens int64  `json:"content_tokens"`
	ErrorCount    int64  `json:"error_count"`
}

// StatsByModel aggregates usage per provider/model pair since the given time.
func (s *Store) StatsByModel(since time.Time) ([]ModelStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats []ModelStat
	err := s.db.Model(&Record{}).
		Select(`provider, model,
			COUNT(*) as request_count,
			SUM(content_tokens) as content_tokens,
			SUM(CASE WHEN finish_reason != 'stream_end' THEN 1 ELSE 0 END) as error_count`).
		Where("created_at >= ?", since).
		Group("provider, model").
		Order("content_tokens DESC").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate usage stats: %w", err)
	}
	return stats, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EstimateTokens approximates the token count of generated text, falling
// back to a characters/4 estimate when the tokenizer is unavailable.
func EstimateTokens(content string) int {
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return len(content) / 4
	}
	count, err := enc.Count(content)
	if err != nil {
		return len(content) / 4
	}
	return count
}
