package enums

import "fmt"

// PurchaseStatus moves from pending to completed exactly once.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
)

func (s PurchaseStatus) IsValid() bool {
	return s == PurchaseStatusPending || s == PurchaseStatusCompleted
}

// FundingSource says where the money for a purchase comes from.
type FundingSource string

const (
	FundingBalance  FundingSource = "balance"
	FundingExternal FundingSource = "external"
)

var validFundingSources = []FundingSource{FundingBalance, FundingExternal}

func (f FundingSource) IsValid() bool {
	for _, candidate := range validFundingSources {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFundingSource converts raw input into FundingSource; empty means balance.
func ParseFundingSource(value string) (FundingSource, error) {
	if value == "" {
		return FundingBalance, nil
	}
	for _, candidate := range validFundingSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding source %q", value)
}
