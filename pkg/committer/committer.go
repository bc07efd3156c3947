// Package committer implements the durable-store boundary between the
// state keeper and the settlement sender: it is the sole writer of
// pending/sealed-block state and the producer of the sender's
// aggregated-action queue.
package committer

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/events"
	"github.com/matter-labs/zksync-sub002/pkg/log"
	"github.com/matter-labs/zksync-sub002/pkg/storage"
)

// RequestKind tags which variant of CommitRequest is populated.
type RequestKind int

const (
	RequestPendingBlock RequestKind = iota
	RequestBlock
)

// CommitRequest is the state keeper's outbound message to the committer.
// Exactly one of PendingBlock or Block is populated, selected by Kind. Reply
// is a one-shot channel the keeper awaits before proceeding (the system's
// only intra-mini-block suspension point).
type CommitRequest struct {
	Kind Kind

	// CorrelationID ties a request to its log lines across the keeper and
	// committer, since the two run as separate goroutines and a request
	// can queue behind others in the committer's channel.
	CorrelationID uuid.UUID

	PendingBlock *domain.PendingBlock

	Block    *domain.SealedBlock
	Updates  []domain.AccountUpdate
	Accounts map[domain.AccountID]*domain.Account

	Reply chan error
}

// Kind is an alias kept for readability at call sites (committer.Kind ==
// committer.RequestKind).
type Kind = RequestKind

// NewPendingBlockRequest builds a RequestPendingBlock CommitRequest.
func NewPendingBlockRequest(block *domain.PendingBlock) CommitRequest {
	return CommitRequest{
		Kind:          RequestPendingBlock,
		CorrelationID: uuid.New(),
		PendingBlock:  block,
		Reply:         make(chan error, 1),
	}
}

// NewBlockRequest builds a RequestBlock CommitRequest. accounts must contain
// every account touched by block's updates, keyed by id, so the committer
// can persist them in the same transaction as the tip advance.
func NewBlockRequest(block *domain.SealedBlock, updates []domain.AccountUpdate, accounts map[domain.AccountID]*domain.Account) CommitRequest {
	return CommitRequest{
		Kind:          RequestBlock,
		CorrelationID: uuid.New(),
		Block:         block,
		Updates:       updates,
		Accounts:      accounts,
		Reply:         make(chan error, 1),
	}
}

// Committer is the single writer of pending/sealed-block durable state. It
// runs as its own single-threaded driver loop, exactly like the keeper and
// sender, so that CommitBlock transactions are never issued concurrently
// with each other.
type Committer struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger

	requests chan CommitRequest
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New returns a Committer reading requests from requestBuffer-deep channel.
func New(store storage.Store, broker *events.Broker, requestBuffer int) *Committer {
	return &Committer{
		store:    store,
		broker:   broker,
		logger:   log.WithComponent("committer"),
		requests: make(chan CommitRequest, requestBuffer),
		stopCh:   make(chan struct{}),
	}
}

// Requests returns the channel the state keeper sends CommitRequests on.
func (c *Committer) Requests() chan<- CommitRequest {
	return c.requests
}

// Start begins the committer's driver loop.
func (c *Committer) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop signals the driver loop to exit and waits for it to drain.
func (c *Committer) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Committer) run() {
	defer c.wg.Done()
	for {
		select {
		case req := <-c.requests:
			c.handle(req)
		case <-c.stopCh:
			return
		}
	}
}

func (c *Committer) handle(req CommitRequest) {
	logger := c.logger.With().Str("correlation_id", req.CorrelationID.String()).Logger()

	var err error
	switch req.Kind {
	case RequestPendingBlock:
		err = c.handlePendingBlock(req.PendingBlock)
	case RequestBlock:
		err = c.handleBlock(req.Block, req.Updates, req.Accounts)
	default:
		err = fmt.Errorf("committer: unknown request kind %d", req.Kind)
	}
	if err != nil {
		logger.Error().Err(err).Msg("commit request failed")
	}
	if req.Reply == nil {
		return
	}
	select {
	case req.Reply <- err:
	default:
		// A dropped reply channel never blocks the committer or the
		// keeper that is about to resume on the next loop iteration.
		logger.Warn().Msg("commit request reply channel was not ready to receive")
	}
}

func (c *Committer) handlePendingBlock(block *domain.PendingBlock) error {
	if err := c.store.SavePendingBlock(block); err != nil {
		return fmt.Errorf("committer: save pending block: %w", err)
	}
	c.broker.Publish(&events.Event{
		Type:    events.EventPendingBlockUpdated,
		Message: fmt.Sprintf("pending block %d at iteration %d", block.Number, block.Iteration),
		Metadata: map[string]string{
			"number":    strconv.FormatUint(uint64(block.Number), 10),
			"iteration": strconv.FormatUint(uint64(block.Iteration), 10),
		},
	})
	return nil
}

func (c *Committer) handleBlock(block *domain.SealedBlock, updates []domain.AccountUpdate, accounts map[domain.AccountID]*domain.Account) error {
	actions, err := buildActions(block)
	if err != nil {
		return err
	}
	if err := c.store.CommitBlock(block, updates, accounts, actions); err != nil {
		return fmt.Errorf("committer: commit block %d: %w", block.BlockNumber, err)
	}

	log.WithBlockNumber(block.BlockNumber).Info().
		Int("success_ops", len(block.SuccessOps)).
		Int("failed_txs", len(block.FailedTxs)).
		Uint32("chunks", block.BlockSizeChunks).
		Msg("sealed block committed")

	c.broker.Publish(&events.Event{
		Type:    events.EventBlockSealed,
		Message: fmt.Sprintf("block %d sealed with %d success ops, %d failed txs", block.BlockNumber, len(block.SuccessOps), len(block.FailedTxs)),
		Metadata: map[string]string{
			"block_number": strconv.FormatUint(uint64(block.BlockNumber), 10),
			"root_hash":    hex.EncodeToString(block.NewRootHash),
		},
	})
	return nil
}

// buildActions assembles the block's three settlement actions (commit,
// publish-proof, execute), in that order. Ids are left zero: the store
// assigns them when it enqueues the actions inside the same transaction
// that commits the block, so a sealed block and its actions are durable
// together or not at all. The payload each action carries is an opaque
// blob the sender never inspects; the real ABI-encoding of
// commit/prove/execute calldata is the prover/committer-contract boundary
// this package stands in for, so a self-describing JSON envelope is used
// instead of hand-rolling an ABI encoder with no circuit on the other end
// to consume it.
func buildActions(block *domain.SealedBlock) ([]domain.AggregatedAction, error) {
	actions := make([]domain.AggregatedAction, 0, 3)
	for _, actionType := range []domain.ActionType{domain.ActionCommit, domain.ActionPublishProof, domain.ActionExecute} {
		payload, err := json.Marshal(actionPayload{
			ActionType:  actionType.String(),
			BlockNumber: block.BlockNumber,
			RootHash:    block.NewRootHash,
		})
		if err != nil {
			return nil, fmt.Errorf("committer: encode %s action payload for block %d: %w", actionType, block.BlockNumber, err)
		}
		actions = append(actions, domain.AggregatedAction{
			ActionType: actionType,
			BlockFrom:  block.BlockNumber,
			BlockTo:    block.BlockNumber,
			Payload:    payload,
		})
	}
	return actions, nil
}

type actionPayload struct {
	ActionType  string `json:"action_type"`
	BlockNumber uint32 `json:"block_number"`
	RootHash    []byte `json:"root_hash"`
}
