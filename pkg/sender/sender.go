// Package sender implements the settlement sender: the pipeline that
// publishes each sealed block's commit/prove/execute actions to the host
// chain, with nonce management, gas-price bumping for stuck transactions,
// confirmation tracking, and crash-recoverable state.
package sender

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/events"
	"github.com/matter-labs/zksync-sub002/pkg/hostchain"
	"github.com/matter-labs/zksync-sub002/pkg/log"
	"github.com/matter-labs/zksync-sub002/pkg/metrics"
	"github.com/matter-labs/zksync-sub002/pkg/storage"
)

// Sender is the settlement sender. Like the keeper and committer, it is a
// single-threaded cooperative driver: every field below is touched only by
// the run() goroutine, so there is no lock.
type Sender struct {
	cfg     Config
	store   storage.Store
	client  hostchain.Client
	builder *hostchain.TxBuilder
	broker  *events.Broker
	logger  zerolog.Logger

	// pending holds aggregated actions pulled from the durable queue that
	// have not yet been assigned an ETHOperation.
	pending []domain.AggregatedAction
	seen    map[uint64]bool

	// inFlight holds every unconfirmed ETHOperation, keyed by its
	// AggregatedAction's id (the sender assigns ETHOperation.ID == action.ID
	// at broadcast time, a 1:1 correspondence).
	inFlight map[uint64]*domain.ETHOperation

	// blockProgress[b] is the highest ActionType confirmed so far for block
	// b, or -1 if none. This is the "per-block cursor of the highest
	// confirmed action" the ordering/pipelining design note describes.
	blockProgress map[uint32]int

	nextNonce uint64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Sender and replays unconfirmed ETHOperations and
// not-yet-assigned aggregated actions from store, without re-broadcasting
// anything: the next proceedNextOperations tick will observe the recovered
// in-flight txs and either confirm or bump them on its own.
func New(cfg Config, store storage.Store, client hostchain.Client, builder *hostchain.TxBuilder, broker *events.Broker) (*Sender, error) {
	s := &Sender{
		cfg:           cfg,
		store:         store,
		client:        client,
		builder:       builder,
		broker:        broker,
		logger:        log.WithComponent("sender"),
		seen:          make(map[uint64]bool),
		inFlight:      make(map[uint64]*domain.ETHOperation),
		blockProgress: make(map[uint32]int),
		stopCh:        make(chan struct{}),
	}
	if err := s.restore(); err != nil {
		return nil, fmt.Errorf("sender: restore: %w", err)
	}
	return s, nil
}

func (s *Sender) restore() error {
	unconfirmed, err := s.store.ListUnconfirmedETHOperations()
	if err != nil {
		return fmt.Errorf("list unconfirmed eth operations: %w", err)
	}
	var maxNonce uint64
	haveNonce := false
	for _, op := range unconfirmed {
		s.inFlight[op.ID] = op
		s.seen[op.Action.ID] = true
		if !haveNonce || op.Nonce >= maxNonce {
			maxNonce = op.Nonce
			haveNonce = true
		}
	}

	actions, err := s.store.ListPendingAggregatedActions()
	if err != nil {
		return fmt.Errorf("list pending aggregated actions: %w", err)
	}
	for _, action := range actions {
		if s.seen[action.ID] {
			continue
		}
		s.seen[action.ID] = true
		s.pending = append(s.pending, action)
	}

	s.recomputeBlockProgress()

	if haveNonce {
		s.nextNonce = maxNonce + 1
	} else {
		n, err := s.client.PendingNonceAt(context.Background(), s.builder.OperatorAddress())
		if err != nil {
			return fmt.Errorf("bootstrap nonce: %w", err)
		}
		s.nextNonce = n
	}

	if len(unconfirmed) > 0 || len(s.pending) > 0 {
		s.logger.Info().
			Int("unconfirmed_ops", len(unconfirmed)).
			Int("pending_actions", len(s.pending)).
			Uint64("next_nonce", s.nextNonce).
			Msg("settlement sender recovered in-flight state")
	}
	return nil
}

// recomputeBlockProgress derives, for every block with a remaining action
// (pending or in flight), the stage before the earliest remaining action,
// so a resumed sender admits PublishProof/Execute actions exactly as
// eagerly as a never-restarted one would.
func (s *Sender) recomputeBlockProgress() {
	minStage := make(map[uint32]domain.ActionType)
	note := func(a domain.AggregatedAction) {
		if cur, ok := minStage[a.BlockFrom]; !ok || a.ActionType < cur {
			minStage[a.BlockFrom] = a.ActionType
		}
	}
	for _, a := range s.pending {
		note(a)
	}
	for _, op := range s.inFlight {
		note(op.Action)
	}
	for block, stage := range minStage {
		s.blockProgress[block] = int(stage) - 1
	}
}

// Start begins the sender's driver loop.
func (s *Sender) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop signals the driver loop to exit and waits for it to drain.
func (s *Sender) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Sender) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.proceedNextOperations()
		case <-s.stopCh:
			return
		}
	}
}

// proceedNextOperations is one full driver-loop cycle: drain newly
// queued actions, admit as many as the in-flight budget allows, then poll
// every in-flight operation's status.
func (s *Sender) proceedNextOperations() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SenderLoopDuration)
		metrics.SenderLoopCyclesTotal.Inc()
	}()

	if err := s.loadNewOperations(); err != nil {
		s.logger.Error().Err(err).Msg("failed to load newly queued aggregated actions")
	}

	s.admitPending()
	s.pollInFlight()

	metrics.SenderInFlightOps.Set(float64(len(s.inFlight)))
	byType := map[domain.ActionType]int{}
	for _, op := range s.inFlight {
		byType[op.Action.ActionType]++
	}
	for _, t := range []domain.ActionType{domain.ActionCommit, domain.ActionPublishProof, domain.ActionExecute} {
		metrics.SenderInFlightByType.WithLabelValues(t.String()).Set(float64(byType[t]))
	}
}

func (s *Sender) loadNewOperations() error {
	actions, err := s.store.ListPendingAggregatedActions()
	if err != nil {
		return err
	}
	for _, a := range actions {
		if s.seen[a.ID] {
			continue
		}
		s.seen[a.ID] = true
		s.pending = append(s.pending, a)
		if _, ok := s.blockProgress[a.BlockFrom]; !ok {
			s.blockProgress[a.BlockFrom] = -1
		}
	}
	return nil
}

// admitPending sends the first tx for as many pending actions as the
// in-flight budget and ordering constraints allow.
func (s *Sender) admitPending() {
	for len(s.inFlight) < s.cfg.MaxTxsInFlight {
		idx := s.nextEligibleIndex()
		if idx < 0 {
			return
		}
		action := s.pending[idx]
		s.pending = append(s.pending[:idx], s.pending[idx+1:]...)

		if err := s.broadcastNew(action); err != nil {
			s.logger.Error().Err(err).
				Str("action_type", action.ActionType.String()).
				Uint32("block_from", action.BlockFrom).
				Msg("failed to broadcast new settlement transaction, will retry next cycle")
			// Put it back so the next cycle retries; seen stays true so it
			// is not re-appended by loadNewOperations.
			s.pending = append(s.pending, action)
			return
		}
	}
}

// nextEligibleIndex returns the index of the first pending action whose
// ordering prerequisite has been confirmed: Commit actions are always
// eligible; PublishProof requires Commit confirmed for the same block;
// Execute requires PublishProof confirmed for the same block.
func (s *Sender) nextEligibleIndex() int {
	for i, a := range s.pending {
		stage := s.blockProgress[a.BlockFrom]
		switch a.ActionType {
		case domain.ActionCommit:
			return i
		case domain.ActionPublishProof:
			if stage >= int(domain.ActionCommit) {
				return i
			}
		case domain.ActionExecute:
			if stage >= int(domain.ActionPublishProof) {
				return i
			}
		}
	}
	return -1
}

func (s *Sender) broadcastNew(action domain.AggregatedAction) error {
	callID := uuid.New()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RPCTimeout)
	defer cancel()

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	gasLimit := hostchain.GasLimitFor(action.ActionType, s.cfg.CommitGasLimit, s.cfg.VerifyGasLimit)
	nonce := s.nextNonce

	tx, err := s.builder.Build(action, nonce, gasPrice, gasLimit)
	if err != nil {
		return fmt.Errorf("build transaction: %w", err)
	}

	currentBlock, err := s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("block number: %w", err)
	}

	op := &domain.ETHOperation{
		ID:               action.ID,
		Action:           action,
		UsedTxHashes:     []common.Hash{tx.Hash()},
		DeadlineBlock:    currentBlock + s.cfg.ExpectedWaitBlocks,
		Nonce:            nonce,
		LastUsedGasPrice: gasPrice,
	}
	if err := s.store.SaveETHOperation(op); err != nil {
		return fmt.Errorf("persist eth operation: %w", err)
	}

	if err := s.client.SendTransaction(ctx, tx); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}

	s.nextNonce++
	s.inFlight[op.ID] = op
	metrics.SenderGasPriceUsedWei.Set(gasPriceFloat(gasPrice))

	s.broker.Publish(&events.Event{
		Type:    events.EventETHOperationSubmitted,
		Message: fmt.Sprintf("%s tx submitted for block range [%d,%d]", action.ActionType, action.BlockFrom, action.BlockTo),
		Metadata: map[string]string{
			"action_type": action.ActionType.String(),
			"tx_hash":     tx.Hash().Hex(),
			"nonce":       fmt.Sprintf("%d", nonce),
		},
	})
	log.WithOpID(op.ID).Info().
		Str("call_id", callID.String()).
		Str("action_type", action.ActionType.String()).
		Uint32("block_from", action.BlockFrom).
		Uint32("block_to", action.BlockTo).
		Str("tx_hash", tx.Hash().Hex()).
		Uint64("nonce", nonce).
		Msg("settlement transaction submitted")
	return nil
}

// pollInFlight checks every in-flight operation's status and advances it
// per the TxCheckOutcome state machine.
func (s *Sender) pollInFlight() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RPCTimeout)
	defer cancel()

	currentBlock, err := s.client.BlockNumber(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to fetch current block number, skipping this poll cycle")
		return
	}

	for id, op := range s.inFlight {
		s.pollOne(ctx, currentBlock, id, op)
	}
}

func (s *Sender) pollOne(ctx context.Context, currentBlock uint64, id uint64, op *domain.ETHOperation) {
	// Check every used hash, not just the latest: confirmation
	// independence means an earlier, superseded hash may confirm after a
	// gas bump was already sent.
	for i, hash := range op.UsedTxHashes {
		mode := Old
		if i == len(op.UsedTxHashes)-1 {
			mode = Latest
		}

		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err != nil {
			s.logger.Warn().Err(err).Str("tx_hash", hash.Hex()).Msg("failed to fetch transaction receipt, treating as pending")
			continue
		}

		var confirmations uint64
		if receipt != nil && receipt.BlockNumber != nil {
			receiptBlock := receipt.BlockNumber.Uint64()
			if currentBlock >= receiptBlock {
				confirmations = currentBlock - receiptBlock + 1
			}
		}

		outcome := classify(mode, receipt, confirmations, s.cfg.WaitConfirmations, currentBlock, op.DeadlineBlock)
		switch outcome {
		case OutcomeCommitted:
			s.settle(id, op, hash)
			return
		case OutcomeFailed:
			s.fatalRevert(op, hash, receipt)
			return
		case OutcomeStuck:
			if mode == Latest {
				s.bumpGas(ctx, op)
			}
			// Old-mode Stuck just means this superseded hash hasn't
			// confirmed either; nothing to do but keep watching it.
		}
	}
}

// settle marks op confirmed by confirmedHash, removes it from the
// in-flight set, deletes its now-satisfied aggregated action, and advances
// the per-block ordering cursor.
func (s *Sender) settle(id uint64, op *domain.ETHOperation, confirmedHash common.Hash) {
	op.FinalHash = &confirmedHash
	op.Confirmed = true
	if err := s.store.SaveETHOperation(op); err != nil {
		s.logger.Error().Err(err).Uint64("op_id", id).Msg("failed to persist confirmed eth operation")
		return
	}
	if err := s.store.DeleteAggregatedAction(op.Action.ID); err != nil {
		s.logger.Error().Err(err).Uint64("action_id", op.Action.ID).Msg("failed to delete confirmed aggregated action")
	}
	delete(s.inFlight, id)

	stage := int(op.Action.ActionType)
	if cur, ok := s.blockProgress[op.Action.BlockFrom]; !ok || stage > cur {
		s.blockProgress[op.Action.BlockFrom] = stage
	}

	metrics.SenderConfirmedTotal.WithLabelValues(op.Action.ActionType.String()).Inc()
	s.broker.Publish(&events.Event{
		Type:    events.EventETHOperationConfirmed,
		Message: fmt.Sprintf("%s confirmed for block range [%d,%d]", op.Action.ActionType, op.Action.BlockFrom, op.Action.BlockTo),
		Metadata: map[string]string{
			"action_type": op.Action.ActionType.String(),
			"tx_hash":     confirmedHash.Hex(),
		},
	})
	log.WithOpID(id).Info().
		Str("action_type", op.Action.ActionType.String()).
		Str("final_hash", confirmedHash.Hex()).
		Msg("settlement transaction confirmed")
}

// bumpGas resends op with a higher gas price, reusing its nonce so the
// host chain accepts whichever tx confirms first. The new hash is
// persisted before it is broadcast, so a crash between the two never
// leaves a broadcast tx the sender doesn't know to watch for.
func (s *Sender) bumpGas(ctx context.Context, op *domain.ETHOperation) {
	suggested, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to fetch suggested gas price for bump, skipping this cycle")
		return
	}
	bumped := new(big.Int).Mul(op.LastUsedGasPrice, big.NewInt(int64(s.cfg.GasBumpRatio*100)))
	bumped.Div(bumped, big.NewInt(100))
	newPrice := suggested
	if bumped.Cmp(newPrice) > 0 {
		newPrice = bumped
	}
	if s.cfg.MaxGasPriceWei != nil && newPrice.Cmp(s.cfg.MaxGasPriceWei) > 0 {
		newPrice = new(big.Int).Set(s.cfg.MaxGasPriceWei)
	}

	gasLimit := hostchain.GasLimitFor(op.Action.ActionType, s.cfg.CommitGasLimit, s.cfg.VerifyGasLimit)
	tx, err := s.builder.Build(op.Action, op.Nonce, newPrice, gasLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to build gas-bump transaction")
		return
	}

	currentBlock, err := s.client.BlockNumber(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to fetch current block number for gas-bump deadline")
		return
	}

	op.UsedTxHashes = append(op.UsedTxHashes, tx.Hash())
	op.LastUsedGasPrice = newPrice
	op.DeadlineBlock = currentBlock + s.cfg.ExpectedWaitBlocks
	if err := s.store.SaveETHOperation(op); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist gas-bump before broadcast")
		return
	}

	if err := s.client.SendTransaction(ctx, tx); err != nil {
		s.logger.Error().Err(err).Str("tx_hash", tx.Hash().Hex()).Msg("failed to broadcast gas-bump transaction")
		return
	}

	metrics.SenderGasBumpsTotal.Inc()
	metrics.SenderGasPriceUsedWei.Set(gasPriceFloat(newPrice))
	s.broker.Publish(&events.Event{
		Type:    events.EventETHOperationStuck,
		Message: fmt.Sprintf("%s stuck, rebroadcast at higher gas price for block range [%d,%d]", op.Action.ActionType, op.Action.BlockFrom, op.Action.BlockTo),
		Metadata: map[string]string{
			"action_type":   op.Action.ActionType.String(),
			"new_tx_hash":   tx.Hash().Hex(),
			"new_gas_price": newPrice.String(),
		},
	})
	log.WithOpID(op.ID).Warn().
		Str("action_type", op.Action.ActionType.String()).
		Str("new_tx_hash", tx.Hash().Hex()).
		Str("gas_price", newPrice.String()).
		Msg("settlement transaction stuck, rebroadcast at higher gas price")
}

// fatalRevert terminates the process: a reverted settlement
// transaction indicates a prover/committer bug, and continuing
// risks double-spending gas and corrupting the pipeline, so the process
// terminates immediately with the receipt attached to the log line.
func (s *Sender) fatalRevert(op *domain.ETHOperation, hash common.Hash, receipt *types.Receipt) {
	s.logger.Error().
		Str("action_type", op.Action.ActionType.String()).
		Str("tx_hash", hash.Hex()).
		Uint64("receipt_status", receipt.Status).
		Uint64("gas_used", receipt.GasUsed).
		Msg("settlement transaction reverted on-chain")
	panic(fmt.Sprintf("sender: %s transaction %s for block range [%d,%d] reverted on-chain (status=%d); operator intervention required",
		op.Action.ActionType, hash.Hex(), op.Action.BlockFrom, op.Action.BlockTo, receipt.Status))
}

func gasPriceFloat(price *big.Int) float64 {
	if price == nil {
		return 0
	}
	f := new(big.Float).SetInt(price)
	v, _ := f.Float64()
	return v
}
