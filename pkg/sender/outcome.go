package sender

import (
	"github.com/ethereum/go-ethereum/core/types"
)

// CheckMode distinguishes the most recently sent hash for an ETHOperation
// from an earlier, superseded one still being watched for confirmation
// independence.
type CheckMode int

const (
	// Latest is the most recently broadcast hash for an operation.
	Latest CheckMode = iota
	// Old is any earlier hash in UsedTxHashes, kept in case it confirms
	// after a gas bump superseded it.
	Old
)

// TxCheckOutcome classifies one (hash, receipt) pair against the current
// host chain block.
type TxCheckOutcome int

const (
	OutcomePending TxCheckOutcome = iota
	OutcomeCommitted
	OutcomeFailed
	OutcomeStuck
)

func (o TxCheckOutcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeCommitted:
		return "committed"
	case OutcomeFailed:
		return "failed"
	case OutcomeStuck:
		return "stuck"
	default:
		return "unknown"
	}
}

// classify implements the TxCheckOutcome table:
//
//	Committed  receipt present AND confirmations >= waitConfirmations AND success
//	Failed     receipt present AND confirmations >= waitConfirmations AND !success
//	Pending    receipt absent, OR receipt present with insufficient confirmations (mode Latest)
//	Stuck      mode Latest AND currentBlock >= deadlineBlock AND not yet committed;
//	           OR mode Old AND still pending
func classify(mode CheckMode, receipt *types.Receipt, confirmations, waitConfirmations, currentBlock, deadlineBlock uint64) TxCheckOutcome {
	if receipt != nil && confirmations >= waitConfirmations {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return OutcomeCommitted
		}
		return OutcomeFailed
	}

	if mode == Old {
		return OutcomeStuck
	}

	// mode == Latest, not yet confirmed.
	if currentBlock >= deadlineBlock {
		return OutcomeStuck
	}
	return OutcomePending
}
