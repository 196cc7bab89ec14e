package explorer

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"ctfadapter/core/events"
	"ctfadapter/core/types"
	"ctfadapter/native/market"
)

// ResolutionRecord is one finalized market outcome, kept for operator
// queries. The live question ledger stays in the key-value store; this table
// is a derived read model fed off the event stream.
type ResolutionRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	QuestionID string    `gorm:"index;size:64" json:"questionId"`
	EventType  string    `gorm:"size:64" json:"eventType"`
	Price      string    `gorm:"size:80" json:"price,omitempty"`
	Outcome    string    `gorm:"size:16" json:"outcome"`
	PayoutYes  string    `gorm:"size:24" json:"payoutYes"`
	PayoutNo   string    `gorm:"size:24" json:"payoutNo"`
	RecordedAt time.Time `gorm:"autoCreateTime" json:"recordedAt"`
}

// History persists resolution outcomes to a relational store.
type History struct {
	db *gorm.DB
}

// Open connects to the history database. Supported drivers are "sqlite" and
// "postgres"; sqlite with an empty DSN falls back to a shared in-memory
// database for tests and throwaway deployments.
func Open(driver, dsn string) (*History, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("explorer: unsupported history driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("explorer: open history database: %w", err)
	}
	if err := db.AutoMigrate(&ResolutionRecord{}); err != nil {
		return nil, fmt.Errorf("explorer: migrate history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Record appends one resolution row.
func (h *History) Record(rec *ResolutionRecord) error {
	if h == nil || h.db == nil {
		return fmt.Errorf("explorer: history not configured")
	}
	return h.db.Create(rec).Error
}

// Recent returns the latest rows, newest first.
func (h *History) Recent(limit int) ([]ResolutionRecord, error) {
	if h == nil || h.db == nil {
		return nil, fmt.Errorf("explorer: history not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []ResolutionRecord
	err := h.db.Order("id desc").Limit(limit).Find(&rows).Error
	return rows, err
}

// ByQuestion returns the rows recorded for one question fingerprint.
func (h *History) ByQuestion(questionID string) ([]ResolutionRecord, error) {
	if h == nil || h.db == nil {
		return nil, fmt.Errorf("explorer: history not configured")
	}
	var rows []ResolutionRecord
	err := h.db.Where("question_id = ?", questionID).Order("id asc").Find(&rows).Error
	return rows, err
}

var _ events.Emitter = (*History)(nil)

// Emit satisfies the event emitter so the history can sit on the engine's
// emitter fan-out. Only terminal resolution events are recorded; everything
// else passes through untouched. Persistence failures are swallowed here
// because the read model must never block a resolution.
func (h *History) Emit(evt events.Event) {
	if h == nil || h.db == nil || evt == nil {
		return
	}
	carrier, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	switch payload.Type {
	case market.EventTypeResolved, market.EventTypeEmergencyResolved:
	default:
		return
	}
	attrs := payload.Attributes
	_ = h.Record(&ResolutionRecord{
		QuestionID: attrs["questionId"],
		EventType:  payload.Type,
		Price:      attrs["price"],
		Outcome:    attrs["outcome"],
		PayoutYes:  attrs["payoutYes"],
		PayoutNo:   attrs["payoutNo"],
	})
}
