package state

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Operation outcomes recorded in the journal.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

// OperationRecord is one row of the operation audit journal. Both committed
// and rejected operations are recorded.
type OperationRecord struct {
	ID        string `gorm:"primaryKey;size:36"`
	Height    uint64 `gorm:"index"`
	Action    string `gorm:"size:32;index"`
	Caller    string `gorm:"size:64;index"`
	Subject   string `gorm:"size:64;index"`
	Asset     string `gorm:"size:64"`
	Amount    string `gorm:"size:80"`
	Value     string `gorm:"size:80"`
	Outcome   string `gorm:"size:16;index"`
	ErrorKind string `gorm:"size:64"`
	Error     string `gorm:"size:512"`
	Events    string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName pins the journal table name.
func (OperationRecord) TableName() string { return "lending_operations" }

// SetEvents stores the supplied events as JSON.
func (r *OperationRecord) SetEvents(v interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.Events = string(encoded)
	return nil
}

// OperationLog stores OperationRecords in a SQL database through gorm.
type OperationLog struct {
	db *gorm.DB
}

// OpenOperationLog opens the journal. Supported drivers are "sqlite" (the
// default; dsn may be ":memory:" or a file path) and "postgres".
func OpenOperationLog(driver, dsn string) (*OperationLog, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("state: unsupported journal driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("state: open journal: %w", err)
	}
	return NewOperationLog(db)
}

// NewOperationLog wraps an existing gorm handle and migrates the schema.
func NewOperationLog(db *gorm.DB) (*OperationLog, error) {
	if db == nil {
		return nil, fmt.Errorf("state: journal database required")
	}
	if err := db.AutoMigrate(&OperationRecord{}); err != nil {
		return nil, fmt.Errorf("state: migrate journal: %w", err)
	}
	return &OperationLog{db: db}, nil
}

// Record appends rec to the journal.
func (l *OperationLog) Record(ctx context.Context, rec *OperationRecord) error {
	if rec == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return l.db.WithContext(ctx).Create(rec).Error
}

// Get returns the record with the supplied identifier.
func (l *OperationLog) Get(ctx context.Context, id string) (*OperationRecord, error) {
	var rec OperationRecord
	if err := l.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByAccount returns the most recent operations where account was the
// caller or the subject, newest first.
func (l *OperationLog) ListByAccount(ctx context.Context, account string, limit int) ([]OperationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []OperationRecord
	err := l.db.WithContext(ctx).
		Where("caller = ? OR subject = ?", account, account).
		Order("height DESC").Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Count returns the number of records with the given outcome, or all records
// when outcome is empty.
func (l *OperationLog) Count(ctx context.Context, outcome string) (int64, error) {
	var n int64
	q := l.db.WithContext(ctx).Model(&OperationRecord{})
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}
	err := q.Count(&n).Error
	return n, err
}

// Close releases the underlying connection pool.
func (l *OperationLog) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
