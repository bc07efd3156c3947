package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ActionType is one stage of a sealed block's settlement pipeline.
type ActionType int

const (
	ActionCommit ActionType = iota
	ActionPublishProof
	ActionExecute
)

func (a ActionType) String() string {
	switch a {
	case ActionCommit:
		return "commit"
	case ActionPublishProof:
		return "publish_proof"
	case ActionExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// AggregatedAction is a (action_type, block_range, payload) unit pulled
// from the committer's durable queue by the settlement sender. payload is
// an opaque calldata blob (the committer's JSON envelope); the sender never
// inspects it.
type AggregatedAction struct {
	ID         uint64
	ActionType ActionType
	BlockFrom  uint32
	BlockTo    uint32
	Payload    []byte
}

// ETHOperation is the sender's durable record of one attempt to land an
// AggregatedAction on the host chain. UsedTxHashes grows by one each time
// the gas-bump policy fires; FinalHash and Confirmed are set once any
// entry in UsedTxHashes acquires sufficient confirmations.
type ETHOperation struct {
	ID               uint64
	Action           AggregatedAction
	UsedTxHashes     []common.Hash
	DeadlineBlock    uint64
	Nonce            uint64
	LastUsedGasPrice *big.Int
	FinalHash        *common.Hash
	Confirmed        bool
}

// LatestHash returns the most recently broadcast tx hash for this
// operation, or the zero hash if none has been sent yet.
func (e *ETHOperation) LatestHash() common.Hash {
	if len(e.UsedTxHashes) == 0 {
		return common.Hash{}
	}
	return e.UsedTxHashes[len(e.UsedTxHashes)-1]
}
