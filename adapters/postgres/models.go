package postgres

import "time"

// eventRow is the gorm model backing the events table. Payload is
// stored as a zstd-compressed JSON blob; PostgreSQL JSONB was not used
// so the same compression path covers both repositories uniformly.
type eventRow struct {
	ID            string `gorm:"primaryKey"`
	Operation     string
	AggregateType string `gorm:"index"`
	AggregateID   string `gorm:"index"`
	Type          string
	Payload       []byte
	DispatchedAt  time.Time
	CreatedBy     string
	CreatedOn     string `gorm:"index"`
	PrevID        string
	RecordedAt    *time.Time `gorm:"index"`
}

func (eventRow) TableName() string { return "eventcore_events" }

// snapshotRow is the gorm model backing the aggregates table.
type snapshotRow struct {
	ID             string `gorm:"primaryKey"`
	CreatedBy      string
	CreatedOn      string
	LastEventID    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int
	LastRecordedAt *time.Time
	Data           []byte
}

func (snapshotRow) TableName() string { return "eventcore_aggregates" }
