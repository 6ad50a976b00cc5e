package outbox

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/scholarmarket-backend/pkg/enums"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events and
// published to subscribers unchanged.
type PayloadEnvelope struct {
	Version    int                   `json:"version"`
	EventID    string                `json:"event_id"`
	EventType  enums.OutboxEventType `json:"event_type"`
	OccurredAt time.Time             `json:"occurred_at"`
	Actor      *ActorRef             `json:"actor,omitempty"`
	Data       json.RawMessage       `json:"data"`
}
