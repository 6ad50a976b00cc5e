package enums

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateWork     OutboxAggregateType = "work"
	AggregatePurchase OutboxAggregateType = "purchase"
	AggregatePayout   OutboxAggregateType = "payout"
)

func (a OutboxAggregateType) IsValid() bool {
	switch a {
	case AggregateWork, AggregatePurchase, AggregatePayout:
		return true
	}
	return false
}

// OutboxEventType names the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventWorkSubmitted   OutboxEventType = "work_submitted"
	EventWorkApproved    OutboxEventType = "work_approved"
	EventWorkRejected    OutboxEventType = "work_rejected"
	EventPurchaseSettled OutboxEventType = "purchase_settled"
	EventPayoutRequested OutboxEventType = "payout_requested"
	EventPayoutResolved  OutboxEventType = "payout_resolved"
)

// eventAggregates fixes which aggregate each event type may describe.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventWorkSubmitted:   AggregateWork,
	EventWorkApproved:    AggregateWork,
	EventWorkRejected:    AggregateWork,
	EventPurchaseSettled: AggregatePurchase,
	EventPayoutRequested: AggregatePayout,
	EventPayoutResolved:  AggregatePayout,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type e belongs to, or "" when e is unknown.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}
