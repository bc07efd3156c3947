package sender

import (
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

func TestClassifyPendingWhenNoReceipt(t *testing.T) {
	got := classify(Latest, nil, 0, 1, 100, 110)
	assert.Equal(t, OutcomePending, got)
}

func TestClassifyPendingBeforeDeadlineWithoutConfirmations(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	got := classify(Latest, receipt, 0, 2, 100, 110)
	assert.Equal(t, OutcomePending, got)
}

func TestClassifyCommittedOnSuccessWithEnoughConfirmations(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	got := classify(Latest, receipt, 2, 2, 100, 110)
	assert.Equal(t, OutcomeCommitted, got)
}

func TestClassifyFailedOnRevertWithEnoughConfirmations(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusFailed}
	got := classify(Latest, receipt, 2, 2, 100, 110)
	assert.Equal(t, OutcomeFailed, got)
}

func TestClassifyStuckPastDeadline(t *testing.T) {
	got := classify(Latest, nil, 0, 1, 110, 110)
	assert.Equal(t, OutcomeStuck, got)
}

func TestClassifyOldHashAlwaysStuckUntilConfirmed(t *testing.T) {
	got := classify(Old, nil, 0, 1, 50, 110)
	assert.Equal(t, OutcomeStuck, got, "a superseded hash is reported stuck regardless of deadline so the sender keeps watching it without re-bumping")
}

func TestClassifyOldHashStillCommittedIfItConfirms(t *testing.T) {
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful}
	got := classify(Old, receipt, 2, 2, 100, 110)
	assert.Equal(t, OutcomeCommitted, got)
}
