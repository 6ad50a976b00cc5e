package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// OutboxEvent is one queued domain event. Payload holds the JSON envelope
// exactly as subscribers receive it; the remaining columns track delivery.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null;index:idx_outbox_aggregate"`
	AggregateID   string                    `gorm:"column:aggregate_id;not null;index:idx_outbox_aggregate"`
	Payload       json.RawMessage           `gorm:"column:payload;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`

	PublishedAt  *time.Time `gorm:"column:published_at"`
	AttemptCount int        `gorm:"column:attempt_count;not null;default:0"`
	LastError    *string    `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// Exhausted reports whether the row has used up maxAttempts deliveries.
// A non-positive maxAttempts means unlimited.
func (e OutboxEvent) Exhausted(maxAttempts int) bool {
	return maxAttempts > 0 && e.AttemptCount >= maxAttempts
}
