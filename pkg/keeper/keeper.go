// Package keeper implements the state keeper: the single-threaded
// authenticated-state driver that applies priority
// operations and transactions, forms pending/sealed blocks under chunk and
// gas capacity, and persists its in-flight block so a restart never loses
// admitted work.
package keeper

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matter-labs/zksync-sub002/pkg/committer"
	"github.com/matter-labs/zksync-sub002/pkg/crypto"
	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/events"
	"github.com/matter-labs/zksync-sub002/pkg/log"
	"github.com/matter-labs/zksync-sub002/pkg/metrics"
	"github.com/matter-labs/zksync-sub002/pkg/storage"
	"github.com/matter-labs/zksync-sub002/pkg/tree"
)

// Config holds the keeper's block-formation policy. Every field is
// operator-set node configuration, not a protocol-fixed constant, except
// MaxWithdrawalsPerBlock which lives in pkg/domain.
type Config struct {
	TreeDepth               int
	BlockSizes              domain.BlockSizeConfig
	FeeAccountID            domain.AccountID
	CommitGasLimit          uint64
	VerifyGasLimit          uint64
	MaxMiniblockIterations  uint32
	FastMiniblockIterations uint32
	RequestBuffer           int
}

// DefaultConfig returns reasonable node defaults: the configured ascending
// block-size ladder and mini-block iteration ceilings from pkg/domain, and
// gas limits sized so chunk capacity is the binding constraint for typical
// traffic, matching how the default block sizes were chosen.
func DefaultConfig() Config {
	return Config{
		TreeDepth:               24,
		BlockSizes:              domain.DefaultBlockSizes,
		FeeAccountID:            0,
		CommitGasLimit:          15_000_000,
		VerifyGasLimit:          8_000_000,
		MaxMiniblockIterations:  domain.MaxMiniblockIterations,
		FastMiniblockIterations: domain.FastMiniblockIterations,
		RequestBuffer:           256,
	}
}

func (c Config) validate() error {
	if len(c.BlockSizes) == 0 {
		return fmt.Errorf("at least one block size is required")
	}
	for i := 1; i < len(c.BlockSizes); i++ {
		if c.BlockSizes[i] <= c.BlockSizes[i-1] {
			return fmt.Errorf("block sizes must be strictly ascending, got %v", c.BlockSizes)
		}
	}
	// Every priority op must fit an empty block, or the seal-and-retry
	// protocol would seal empty blocks forever trying to place one.
	if largest := c.BlockSizes.Largest(); largest < domain.ChunksFullExit {
		return fmt.Errorf("largest block size %d cannot fit a full exit (%d chunks)", largest, domain.ChunksFullExit)
	}
	for _, g := range []domain.GasCounter{domain.GasDeposit, domain.GasFullExit} {
		if g.Commit > c.CommitGasLimit || g.Verify > c.VerifyGasLimit {
			return fmt.Errorf("gas limits (commit %d, verify %d) cannot fit a priority operation costing (%d, %d)",
				c.CommitGasLimit, c.VerifyGasLimit, g.Commit, g.Verify)
		}
	}
	return nil
}

// Keeper is the state keeper. Every field below is touched only by run(),
// which is the sole goroutine that ever mutates them — there is no lock
// because there is no concurrent access.
type Keeper struct {
	cfg   Config
	state *state

	pending               *domain.PendingBlock
	unprocessedPriorityOp uint64

	commitRequests chan<- committer.CommitRequest
	store          storage.Store
	broker         *events.Broker
	logger         zerolog.Logger

	requests chan any
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Keeper and replays any committed/pending state found in
// store, so the returned Keeper is immediately ready to accept requests
// from the tree's restored tip.
func New(cfg Config, store storage.Store, broker *events.Broker, hasher crypto.Hasher, verifier crypto.Verifier, commitRequests chan<- committer.CommitRequest) (*Keeper, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("keeper: config: %w", err)
	}
	k := &Keeper{
		cfg:            cfg,
		store:          store,
		broker:         broker,
		logger:         log.WithComponent("keeper"),
		commitRequests: commitRequests,
		requests:       make(chan any, cfg.RequestBuffer),
		stopCh:         make(chan struct{}),
	}
	k.state = newState(tree.New(cfg.TreeDepth, hasher), verifier, cfg.FeeAccountID)

	if err := k.restore(); err != nil {
		return nil, fmt.Errorf("keeper: restore: %w", err)
	}
	return k, nil
}

// restore rebuilds the account tree from the committed tip, then replays
// the persisted pending block (if any and if its number is consistent with
// the tip) by folding its recorded account updates into the tree — which
// reproduces the exact id assignments and balances of the original
// mini-block processing, since those updates are exactly what that
// processing produced. A number mismatch is logged and the pending block
// discarded rather than replayed.
func (k *Keeper) restore() error {
	accounts, err := k.store.ListAccounts()
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for id, acc := range accounts {
		if err := k.state.tree.Insert(id, acc); err != nil {
			return fmt.Errorf("restore account %d: %w", id, err)
		}
	}
	k.state.reindex(accounts)

	lastSealed, err := k.store.LastSealedBlockNumber()
	if err != nil {
		return fmt.Errorf("last sealed block number: %w", err)
	}
	lastPriorityOp, err := k.store.LastProcessedPriorityOp()
	if err != nil {
		return fmt.Errorf("last processed priority op: %w", err)
	}
	k.unprocessedPriorityOp = lastPriorityOp

	nextNumber := lastSealed + 1

	pb, err := k.store.LoadPendingBlock()
	if err != nil {
		return fmt.Errorf("load pending block: %w", err)
	}
	switch {
	case pb == nil:
		k.pending = domain.NewPendingBlock(nextNumber, lastPriorityOp, k.cfg.BlockSizes.Largest())
	case pb.Number != nextNumber:
		k.logger.Warn().
			Uint32("expected_number", nextNumber).
			Uint32("found_number", pb.Number).
			Msg("pending_block_discarded: number does not match committed tip + 1, discarding and starting fresh")
		k.pending = domain.NewPendingBlock(nextNumber, lastPriorityOp, k.cfg.BlockSizes.Largest())
	default:
		for _, exec := range pb.SuccessOps {
			k.state.applyAll(exec.Updates)
			if exec.IsPriority {
				k.unprocessedPriorityOp++
			}
		}
		k.pending = pb
		k.logger.Info().
			Uint32("block_number", pb.Number).
			Int("success_ops", len(pb.SuccessOps)).
			Msg("replayed pending block from durable storage")
	}
	return nil
}

// Start begins the keeper's driver loop.
func (k *Keeper) Start() {
	k.wg.Add(1)
	go k.run()
	metrics.KeeperBlockNumber.Set(float64(k.pending.Number))
}

// Stop signals the driver loop to exit and waits for it to drain.
func (k *Keeper) Stop() {
	select {
	case <-k.stopCh:
	default:
		close(k.stopCh)
	}
	k.wg.Wait()
}

func (k *Keeper) run() {
	defer k.wg.Done()
	for {
		select {
		case req := <-k.requests:
			k.dispatch(req)
		case <-k.stopCh:
			return
		}
	}
}

func (k *Keeper) dispatch(req any) {
	switch r := req.(type) {
	case *GetAccountRequest:
		id, acc, found := k.state.lookupByAddress(r.Address)
		r.Reply <- GetAccountResponse{ID: id, Account: acc, Found: found}
	case *GetLastUnprocessedPriorityOpRequest:
		r.Reply <- k.unprocessedPriorityOp
	case *GetExecutedInPendingBlockRequest:
		r.Reply <- k.getExecutedInPendingBlock(r)
	case *ExecuteMiniBlockRequest:
		r.Reply <- k.executeMiniBlock(r.Block)
	case *SealBlockRequest:
		k.seal()
		r.Reply <- nil
	default:
		k.logger.Error().Type("request_type", req).Msg("unknown keeper request type")
	}
}

func (k *Keeper) getExecutedInPendingBlock(r *GetExecutedInPendingBlockRequest) GetExecutedInPendingBlockResponse {
	if r.IsTx {
		for _, exec := range k.pending.SuccessOps {
			if !exec.IsPriority && exec.Tx.AccountID == r.Account && exec.Tx.Nonce == r.Nonce {
				return GetExecutedInPendingBlockResponse{BlockNumber: k.pending.Number, Success: true, Found: true}
			}
		}
		for _, f := range k.pending.FailedTxs {
			if f.Tx.AccountID == r.Account && f.Tx.Nonce == r.Nonce {
				return GetExecutedInPendingBlockResponse{BlockNumber: k.pending.Number, Success: false, Found: true}
			}
		}
		return GetExecutedInPendingBlockResponse{}
	}
	for _, exec := range k.pending.SuccessOps {
		if exec.IsPriority && exec.PriorityOp.SerialID == r.SerialID {
			return GetExecutedInPendingBlockResponse{BlockNumber: k.pending.Number, Success: true, Found: true}
		}
	}
	return GetExecutedInPendingBlockResponse{}
}

// --- Public request-surface methods: these are the only way any other
// goroutine touches keeper state. Each blocks on a one-shot reply channel,
// which is filled in FIFO arrival order by the single dispatch() goroutine.

// GetAccount returns the id and current account at address, if it exists.
func (k *Keeper) GetAccount(address [20]byte) (domain.AccountID, *domain.Account, bool) {
	req := &GetAccountRequest{Address: address, Reply: make(chan GetAccountResponse, 1)}
	k.requests <- req
	resp := <-req.Reply
	return resp.ID, resp.Account, resp.Found
}

// GetLastUnprocessedPriorityOp returns the next priority-op serial id the
// keeper expects to process.
func (k *Keeper) GetLastUnprocessedPriorityOp() uint64 {
	req := &GetLastUnprocessedPriorityOpRequest{Reply: make(chan uint64, 1)}
	k.requests <- req
	return <-req.Reply
}

// GetExecutedInPendingBlock looks up a priority op by serial id in the
// in-flight pending block only (sealed blocks are queried via pkg/storage
// directly).
func (k *Keeper) GetExecutedInPendingBlock(serialID uint64) (blockNumber uint32, success, found bool) {
	req := &GetExecutedInPendingBlockRequest{SerialID: serialID, Reply: make(chan GetExecutedInPendingBlockResponse, 1)}
	k.requests <- req
	resp := <-req.Reply
	return resp.BlockNumber, resp.Success, resp.Found
}

// GetExecutedTxInPendingBlock looks up a transaction by (account, nonce) in
// the in-flight pending block only.
func (k *Keeper) GetExecutedTxInPendingBlock(account domain.AccountID, nonce uint32) (blockNumber uint32, success, found bool) {
	req := &GetExecutedInPendingBlockRequest{IsTx: true, Account: account, Nonce: nonce, Reply: make(chan GetExecutedInPendingBlockResponse, 1)}
	k.requests <- req
	resp := <-req.Reply
	return resp.BlockNumber, resp.Success, resp.Found
}

// ExecuteMiniBlock is the keeper's main mutation: apply a proposed batch of
// priority operations and transactions.
func (k *Keeper) ExecuteMiniBlock(block domain.ProposedBlock) ExecuteMiniBlockResponse {
	req := &ExecuteMiniBlockRequest{Block: block, Reply: make(chan ExecuteMiniBlockResponse, 1)}
	k.requests <- req
	return <-req.Reply
}

// SealBlock forces the pending block to seal immediately.
func (k *Keeper) SealBlock() error {
	req := &SealBlockRequest{Reply: make(chan error, 1)}
	k.requests <- req
	return <-req.Reply
}
