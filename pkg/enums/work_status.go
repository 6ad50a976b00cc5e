package enums

import "fmt"

// WorkStatus tracks where a work sits in the moderation lifecycle.
type WorkStatus string

const (
	WorkStatusPending  WorkStatus = "pending"
	WorkStatusApproved WorkStatus = "approved"
	WorkStatusRejected WorkStatus = "rejected"
)

var validWorkStatuses = []WorkStatus{
	WorkStatusPending,
	WorkStatusApproved,
	WorkStatusRejected,
}

var workStatusTransitions = map[WorkStatus][]WorkStatus{
	WorkStatusPending: {WorkStatusApproved, WorkStatusRejected},
}

func (s WorkStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known work status.
func (s WorkStatus) IsValid() bool {
	for _, candidate := range validWorkStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether moderation may move a work from s to next.
// Approved and rejected are terminal.
func (s WorkStatus) CanTransitionTo(next WorkStatus) bool {
	for _, allowed := range workStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseWorkStatus converts raw input into WorkStatus.
func ParseWorkStatus(value string) (WorkStatus, error) {
	for _, candidate := range validWorkStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid work status %q", value)
}

// ModerationDecision is the administrator verdict on a pending work.
type ModerationDecision string

const (
	ModerationApprove ModerationDecision = "approve"
	ModerationReject  ModerationDecision = "reject"
)

// Target returns the work status a decision moves the work into.
func (d ModerationDecision) Target() WorkStatus {
	switch d {
	case ModerationApprove:
		return WorkStatusApproved
	case ModerationReject:
		return WorkStatusRejected
	}
	return ""
}

func (d ModerationDecision) IsValid() bool {
	return d == ModerationApprove || d == ModerationReject
}

// ParseModerationDecision converts raw input into ModerationDecision.
func ParseModerationDecision(value string) (ModerationDecision, error) {
	d := ModerationDecision(value)
	if !d.IsValid() {
		return "", fmt.Errorf("invalid moderation decision %q", value)
	}
	return d, nil
}
