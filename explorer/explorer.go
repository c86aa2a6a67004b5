package explorer

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tandachain/core/events"
	"tandachain/core/types"
)

// EventRow is the indexed form of an engine event.
type EventRow struct {
	ID         uint   `gorm:"primaryKey"`
	Type       string `gorm:"index"`
	TermID     string `gorm:"index"`
	Attributes string
	CreatedAt  time.Time
}

// Recorder persists every emitted engine event into a SQLite-backed index
// the gateway serves for term history queries.
type Recorder struct {
	db     *gorm.DB
	logger *slog.Logger
}

var _ events.Emitter = (*Recorder)(nil)

// Open opens (or creates) the event index at the given DSN.
func Open(dsn string, logger *slog.Logger) (*Recorder, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&EventRow{}); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{db: db, logger: logger}, nil
}

// Emit indexes the event. Indexing failures are logged, never propagated, so
// a broken index cannot wedge engine execution.
func (r *Recorder) Emit(evt events.Event) {
	if r == nil || evt == nil {
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
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		r.logger.Warn("explorer: encode event attributes", "type", payload.Type, "err", err)
		return
	}
	row := EventRow{
		Type:       payload.Type,
		TermID:     payload.Attributes["termId"],
		Attributes: string(attrs),
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.db.Create(&row).Error; err != nil {
		r.logger.Warn("explorer: index event", "type", payload.Type, "err", err)
	}
}

// EventsByTerm returns the most recent events for the term, newest first.
func (r *Recorder) EventsByTerm(termID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []EventRow
	err := r.db.Where("term_id = ?", termID).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// EventsByType returns the most recent events of one type, newest first.
func (r *Recorder) EventsByType(eventType string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []EventRow
	err := r.db.Where("type = ?", eventType).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
