package domain

import "math/big"

// GasCounter accumulates the estimated commit/verify gas cost of the
// operations folded into a block so far. Either limit being crossed seals
// the block.
type GasCounter struct {
	Commit uint64
	Verify uint64
}

// Exceeds reports whether adding cost would cross either configured limit.
func (g GasCounter) Exceeds(cost GasCounter, commitLimit, verifyLimit uint64) bool {
	return g.Commit+cost.Commit > commitLimit || g.Verify+cost.Verify > verifyLimit
}

// Add returns g with cost folded in.
func (g GasCounter) Add(cost GasCounter) GasCounter {
	return GasCounter{Commit: g.Commit + cost.Commit, Verify: g.Verify + cost.Verify}
}

// ExecutedOp is a successfully-applied priority op or transaction, tagged
// with the block-local slot it landed in and the account updates it
// produced.
type ExecutedOp struct {
	BlockIndex uint32
	IsPriority bool
	PriorityOp *PriorityOp
	Tx         *Tx
	Fee        *big.Int
	Updates    []AccountUpdate
}

// FailedTx is a transaction that failed a semantic check (bad nonce,
// insufficient balance, wrong signature, locked account). It consumed no
// chunks and did not abort the mini-block.
type FailedTx struct {
	Tx     Tx
	Reason string
}

// PendingBlock is the state keeper's mutable in-flight block.
type PendingBlock struct {
	Number                      uint32
	SuccessOps                  []ExecutedOp
	FailedTxs                   []FailedTx
	AccountUpdates              []AccountUpdate
	ChunksLeft                  uint32
	PendingOpBlockIndex         uint32
	UnprocessedPriorityOpBefore uint64
	Iteration                   uint32
	WithdrawalsAmount           uint32
	GasCounter                  GasCounter
	FastProcessingRequired      bool
}

// NewPendingBlock seeds a fresh pending block at number, with the largest
// available chunk size as its initial capacity.
func NewPendingBlock(number uint32, unprocessedPriorityOpBefore uint64, maxChunkSize uint32) *PendingBlock {
	return &PendingBlock{
		Number:                      number,
		ChunksLeft:                  maxChunkSize,
		UnprocessedPriorityOpBefore: unprocessedPriorityOpBefore,
	}
}

// SealedBlock is the immutable record assembled when a pending block seals.
type SealedBlock struct {
	BlockNumber               uint32
	NewRootHash               []byte
	FeeAccountID              AccountID
	SuccessOps                []ExecutedOp
	FailedTxs                 []FailedTx
	ProcessedPriorityOpBefore uint64
	ProcessedPriorityOpAfter  uint64
	BlockSizeChunks           uint32
	CommitGasLimit            uint64
	VerifyGasLimit            uint64
}
