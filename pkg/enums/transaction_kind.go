package enums

import "fmt"

// TransactionKind classifies rows in the append-only transaction log.
type TransactionKind string

const (
	TransactionPurchase TransactionKind = "purchase"
	TransactionPayout   TransactionKind = "payout"
	TransactionDeposit  TransactionKind = "deposit"
)

var validTransactionKinds = []TransactionKind{
	TransactionPurchase,
	TransactionPayout,
	TransactionDeposit,
}

// IsValid reports whether the value matches a known transaction kind.
func (k TransactionKind) IsValid() bool {
	for _, candidate := range validTransactionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseTransactionKind converts raw input into TransactionKind.
func ParseTransactionKind(value string) (TransactionKind, error) {
	for _, candidate := range validTransactionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction kind %q", value)
}
