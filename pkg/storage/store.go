package storage

import "github.com/matter-labs/zksync-sub002/pkg/domain"

// Store is the durable boundary between the state keeper / settlement
// sender and disk: everything either of them needs to survive a restart
// without reprocessing or re-broadcasting lands here.
type Store interface {
	// Accounts

	GetAccount(id domain.AccountID) (*domain.Account, bool, error)
	PutAccount(id domain.AccountID, account *domain.Account) error
	ListAccounts() (map[domain.AccountID]*domain.Account, error)

	// Pending block: the state keeper's single in-flight block. Reading
	// back a nil, nil result means there is none (clean shutdown after a
	// seal, or first boot).

	SavePendingBlock(block *domain.PendingBlock) error
	LoadPendingBlock() (*domain.PendingBlock, error)
	ClearPendingBlock() error

	// Sealed blocks: committing one atomically advances the tip, records
	// its account updates for audit/rollback history, persists the
	// accounts it touched, and enqueues the block's settlement actions
	// (ids assigned in enqueue order) — all or nothing, so a committed
	// block can never exist without its actions.

	CommitBlock(block *domain.SealedBlock, updates []domain.AccountUpdate, accounts map[domain.AccountID]*domain.Account, actions []domain.AggregatedAction) error
	GetSealedBlock(number uint32) (*domain.SealedBlock, bool, error)
	LastSealedBlockNumber() (uint32, error)
	LastProcessedPriorityOp() (uint64, error)

	// Aggregated actions: the committer's durable queue, drained in order
	// by the settlement sender.

	NextAggregatedActionID() (uint64, error)
	EnqueueAggregatedAction(action domain.AggregatedAction) error
	ListPendingAggregatedActions() ([]domain.AggregatedAction, error)
	DeleteAggregatedAction(id uint64) error

	// ETH operations: the sender's record of every in-flight or confirmed
	// settlement transaction, keyed by AggregatedAction.ID.

	SaveETHOperation(op *domain.ETHOperation) error
	GetETHOperation(id uint64) (*domain.ETHOperation, bool, error)
	ListUnconfirmedETHOperations() ([]*domain.ETHOperation, error)

	Close() error
}
