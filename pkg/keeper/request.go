package keeper

import "github.com/matter-labs/zksync-sub002/pkg/domain"

// GetAccountRequest asks for the id and current state of the account at
// address, if one has been created.
type GetAccountRequest struct {
	Address [20]byte
	Reply   chan GetAccountResponse
}

// GetAccountResponse answers GetAccountRequest.
type GetAccountResponse struct {
	ID      domain.AccountID
	Account *domain.Account
	Found   bool
}

// GetLastUnprocessedPriorityOpRequest asks for the serial id of the next
// priority operation the keeper expects to process.
type GetLastUnprocessedPriorityOpRequest struct {
	Reply chan uint64
}

// GetExecutedInPendingBlockRequest asks whether a priority op or tx has
// already landed in the in-flight pending block.
type GetExecutedInPendingBlockRequest struct {
	SerialID uint64 // for priority ops; ignored for tx lookups (AccountID+Nonce below)
	IsTx     bool
	Account  domain.AccountID
	Nonce    uint32
	Reply    chan GetExecutedInPendingBlockResponse
}

// GetExecutedInPendingBlockResponse answers GetExecutedInPendingBlockRequest.
type GetExecutedInPendingBlockResponse struct {
	BlockNumber uint32
	Success     bool
	Found       bool
}

// ExecuteMiniBlockRequest is the keeper's main mutation: apply a proposed
// batch of priority operations and transactions.
type ExecuteMiniBlockRequest struct {
	Block domain.ProposedBlock
	Reply chan ExecuteMiniBlockResponse
}

// ExecuteMiniBlockResponse reports, per admitted unit, whether it landed
// and (for txs) why it failed if it didn't.
type ExecuteMiniBlockResponse struct {
	ExecutedPriorityOps []domain.ExecutedOp
	ExecutedTxs         []domain.ExecutedOp
	FailedTxs           []domain.FailedTx
}

// SealBlockRequest forces the pending block to seal immediately, even if
// its iteration ceiling has not been reached.
type SealBlockRequest struct {
	Reply chan error
}
