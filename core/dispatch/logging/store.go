package logging

import (
	"context"
	"time"

	"github.com/NexoWatt/nexowatt-ems/core/model"
)

// Stage mirrors one step of the stabilizer pipeline.
type Stage struct {
	Name  string  `json:"name"`
	Watts float64 `json:"watts"`
	Note  string  `json:"note,omitempty"`
}

// LogRecord captures one dispatcher cycle of one unit.
type LogRecord struct {
	Timestamp   time.Time    `json:"timestamp"`
	UnitID      string       `json:"unit_id"`
	Source      model.Source `json:"source"`
	Winner      model.Source `json:"winner"`
	Reason      string       `json:"reason"`
	RequestedW  float64      `json:"requested_w"`
	FinalW      int          `json:"final_w"`
	SoCPct      float64      `json:"soc_pct"`
	GridW       float64      `json:"grid_w"`
	Applied     bool         `json:"applied"`
	Gated       bool         `json:"gated"`
	SignLocked  bool         `json:"sign_locked"`
	LockUntilMs int64        `json:"lock_until_ms,omitempty"`
	ZeroBandW   float64      `json:"zero_band_w"`
	HardBound   string       `json:"hard_bound,omitempty"`
	Stages      []Stage      `json:"stages,omitempty"`
}

// LogQuery defines filters for retrieving records. Zero values match all.
type LogQuery struct {
	Start  time.Time
	End    time.Time
	UnitID string
	Source string
	Limit  int
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}

// Match reports whether r satisfies q, ignoring Limit.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.UnitID != "" && r.UnitID != q.UnitID {
		return false
	}
	if q.Source != "" && r.Source.String() != q.Source && r.Winner.String() != q.Source {
		return false
	}
	return true
}

func applyLimit(recs []LogRecord, limit int) []LogRecord {
	if limit > 0 && len(recs) > limit {
		return recs[len(recs)-limit:]
	}
	return recs
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, LogRecord) error              { return nil }
func (NopStore) Query(context.Context, LogQuery) ([]LogRecord, error) { return nil, nil }
func (NopStore) Close() error                                         { return nil }
