package keeper

import (
	"encoding/hex"
	"fmt"

	"github.com/matter-labs/zksync-sub002/pkg/committer"
	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/events"
	"github.com/matter-labs/zksync-sub002/pkg/log"
	"github.com/matter-labs/zksync-sub002/pkg/metrics"
)

// seal closes the current pending block: it snapshots the tree's root hash
// and every account the block touched, hands both to the committer, and
// only then starts a fresh pending block at the next number. The
// committer reply is awaited so a durable-store failure is visible before
// the keeper accepts more work against state that would otherwise be
// unrecoverable.
func (k *Keeper) seal() {
	rootTimer := metrics.NewTimer()
	root := k.state.tree.RootHash()
	rootTimer.ObserveDuration(metrics.TreeRootHashDuration)

	used := k.cfg.BlockSizes.Largest() - k.pending.ChunksLeft
	sealed := &domain.SealedBlock{
		BlockNumber:               k.pending.Number,
		NewRootHash:               root,
		FeeAccountID:              k.cfg.FeeAccountID,
		SuccessOps:                k.pending.SuccessOps,
		FailedTxs:                 k.pending.FailedTxs,
		ProcessedPriorityOpBefore: k.pending.UnprocessedPriorityOpBefore,
		ProcessedPriorityOpAfter:  k.unprocessedPriorityOp,
		BlockSizeChunks:           k.cfg.BlockSizes.SmallestFitting(used),
		CommitGasLimit:            k.cfg.CommitGasLimit,
		VerifyGasLimit:            k.cfg.VerifyGasLimit,
	}

	req := committer.NewBlockRequest(sealed, k.pending.AccountUpdates, k.touchedAccounts())
	k.commitRequests <- req
	if err := <-req.Reply; err != nil {
		log.FatalErr(k.logger, err, "committer failed to durably record sealed block")
	}

	metrics.BlocksSealedTotal.Inc()

	k.logger.Info().
		Uint32("block_number", sealed.BlockNumber).
		Str("root_hash", hex.EncodeToString(sealed.NewRootHash)).
		Int("success_ops", len(sealed.SuccessOps)).
		Int("failed_txs", len(sealed.FailedTxs)).
		Msg("block sealed")

	k.pending = domain.NewPendingBlock(sealed.BlockNumber+1, k.unprocessedPriorityOp, k.cfg.BlockSizes.Largest())
	metrics.KeeperBlockNumber.Set(float64(k.pending.Number))
	metrics.PendingBlockChunksUsed.Set(0)
	metrics.PendingBlockChunksTotal.Set(float64(k.cfg.BlockSizes.Largest()))
}

// touchedAccounts gathers the current (post-mutation) snapshot of every
// account referenced in the pending block's folded updates, for the
// committer to persist alongside the sealed block.
func (k *Keeper) touchedAccounts() map[domain.AccountID]*domain.Account {
	out := make(map[domain.AccountID]*domain.Account)
	for _, u := range k.pending.AccountUpdates {
		if _, ok := out[u.AccountID]; ok {
			continue
		}
		if acc, ok := k.state.tree.Get(u.AccountID); ok {
			out[u.AccountID] = acc
		}
	}
	return out
}

// persistPending durably records the in-flight pending block so a crash
// between mini-block iterations loses no admitted work.
func (k *Keeper) persistPending() {
	req := committer.NewPendingBlockRequest(k.pending)
	k.commitRequests <- req
	if err := <-req.Reply; err != nil {
		log.FatalErr(k.logger, err, "committer failed to durably persist pending block")
	}
	metrics.PendingBlockChunksUsed.Set(float64(k.cfg.BlockSizes.Largest() - k.pending.ChunksLeft))
	metrics.PendingBlockChunksTotal.Set(float64(k.cfg.BlockSizes.Largest()))
}

// publishExecuted logs a summary of one ExecuteMiniBlock call. Per-op
// notifications already went out as they landed (publishExecutedOp,
// publishFailedTx); this is only an operator-facing progress line, not a
// broker event, since the catalog's operation.executed/operation.failed
// events are defined per-operation (pkg/events doc.go).
func (k *Keeper) publishExecuted(resp ExecuteMiniBlockResponse) {
	k.logger.Debug().
		Int("executed_priority_ops", len(resp.ExecutedPriorityOps)).
		Int("executed_txs", len(resp.ExecutedTxs)).
		Int("failed_txs", len(resp.FailedTxs)).
		Msg("mini-block iteration complete")
}

// publishExecutedOp notifies subscribers that a priority op or transaction
// landed successfully.
func (k *Keeper) publishExecutedOp(exec domain.ExecutedOp, _ error) {
	kind := "priority_op"
	if !exec.IsPriority {
		kind = txKindLabel(exec.Tx.Kind)
	}
	k.broker.Publish(&events.Event{
		Type:    events.EventOperationExecuted,
		Message: fmt.Sprintf("%s executed at block index %d", kind, exec.BlockIndex),
		Metadata: map[string]string{
			"kind":        kind,
			"is_priority": boolString(exec.IsPriority),
		},
	})
}

// publishFailedTx notifies subscribers that a transaction was rejected
// without aborting the mini-block.
func (k *Keeper) publishFailedTx(f domain.FailedTx) {
	k.broker.Publish(&events.Event{
		Type:    events.EventOperationFailed,
		Message: fmt.Sprintf("%s rejected: %s", txKindLabel(f.Tx.Kind), f.Reason),
		Metadata: map[string]string{
			"kind":          txKindLabel(f.Tx.Kind),
			"account_id":    fmt.Sprintf("%d", f.Tx.AccountID),
			"nonce":         fmt.Sprintf("%d", f.Tx.Nonce),
			"reject_reason": f.Reason,
		},
	})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
