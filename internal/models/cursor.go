package models

import "time"

// Domain names a marketplace vertical. Each has its own contracts, tables and reconciliation loop.
type Domain string

const (
	DomainNotifier Domain = "notifier"
	DomainStorage  Domain = "storage"
)

// EventCursor remembers how far the chain adapter got for one contract.
type EventCursor struct {
	// Contract is "<domain>.<contract>", e.g. "notifier.staking".
	Contract           string `gorm:"column:contract;primaryKey"`
	Domain             Domain `gorm:"column:domain;size:16;index"`
	LastProcessedBlock uint64 `gorm:"column:last_processed_block"`

	UpdatedAt time.Time
}

func (EventCursor) TableName() string {
	return "event_cursors"
}
