package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkStatusTransitions(t *testing.T) {
	assert.True(t, WorkStatusPending.CanTransitionTo(WorkStatusApproved))
	assert.True(t, WorkStatusPending.CanTransitionTo(WorkStatusRejected))
	assert.False(t, WorkStatusPending.CanTransitionTo(WorkStatusPending))
	assert.False(t, WorkStatusApproved.CanTransitionTo(WorkStatusRejected))
	assert.False(t, WorkStatusRejected.CanTransitionTo(WorkStatusApproved))
}

func TestModerationDecisionTarget(t *testing.T) {
	d, err := ParseModerationDecision("approve")
	require.NoError(t, err)
	assert.Equal(t, WorkStatusApproved, d.Target())

	_, err = ParseModerationDecision("maybe")
	assert.Error(t, err)
}

func TestParseFundingSourceDefaultsToBalance(t *testing.T) {
	f, err := ParseFundingSource("")
	require.NoError(t, err)
	assert.Equal(t, FundingBalance, f)

	_, err = ParseFundingSource("crypto")
	assert.Error(t, err)
}

func TestPayoutStatusResolution(t *testing.T) {
	assert.True(t, PayoutStatusPaid.IsResolution())
	assert.True(t, PayoutStatusRejected.IsResolution())
	assert.False(t, PayoutStatusPending.IsResolution())
}
