package keeper

import (
	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/metrics"
)

// executeMiniBlock runs the core mini-block algorithm against the
// keeper's current pending block, sealing and retrying as
// many times as capacity/gas/withdraw-limit rejections require.
func (k *Keeper) executeMiniBlock(block domain.ProposedBlock) ExecuteMiniBlockResponse {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MiniblockIterationDuration)

	var resp ExecuteMiniBlockResponse

	priorityOps := append([]domain.PriorityOp(nil), block.PriorityOps...)
	for len(priorityOps) > 0 {
		op := priorityOps[0]
		priorityOps = priorityOps[1:]

		exec, ok := k.applyPriorityOp(op)
		if !ok {
			k.seal()
			priorityOps = append([]domain.PriorityOp{op}, priorityOps...)
			continue
		}
		resp.ExecutedPriorityOps = append(resp.ExecutedPriorityOps, exec)
	}

	txUnits := append([]domain.TxUnit(nil), block.TxUnits...)
	for len(txUnits) > 0 {
		unit := txUnits[0]
		txUnits = txUnits[1:]

		executed, failed, ok := k.applyTxUnit(unit)
		if !ok {
			// A unit a freshly sealed (empty) block still cannot admit will
			// never fit: failing it is the only alternative to sealing empty
			// blocks forever.
			if k.pending.ChunksLeft == k.cfg.BlockSizes.Largest() {
				resp.FailedTxs = append(resp.FailedTxs, k.failWholeUnit(unit)...)
				continue
			}
			k.seal()
			txUnits = append([]domain.TxUnit{unit}, txUnits...)
			continue
		}
		resp.ExecutedTxs = append(resp.ExecutedTxs, executed...)
		resp.FailedTxs = append(resp.FailedTxs, failed...)
	}

	// Scoped to the live pending block, not the whole call: a seal mid-call
	// carries earlier successes away with it, and the fresh block that
	// replaced it must not inherit their iteration credit.
	if len(k.pending.SuccessOps) > 0 {
		k.pending.Iteration++
	}

	ceiling := k.cfg.MaxMiniblockIterations
	if k.pending.FastProcessingRequired {
		ceiling = k.cfg.FastMiniblockIterations
	}
	if k.pending.Iteration > ceiling {
		k.seal()
	} else {
		k.persistPending()
	}

	k.publishExecuted(resp)
	return resp
}

// applyPriorityOp is a chunk-and-gas gated application that, on
// success, assigns the op its block index,
// folds its updates into the pending block, and advances the
// unprocessed-priority-op counter.
func (k *Keeper) applyPriorityOp(op domain.PriorityOp) (domain.ExecutedOp, bool) {
	cost := op.Chunks()
	if k.pending.ChunksLeft < cost {
		return domain.ExecutedOp{}, false
	}
	gasCost := op.GasCost()
	if k.pending.GasCounter.Exceeds(gasCost, k.cfg.CommitGasLimit, k.cfg.VerifyGasLimit) {
		return domain.ExecutedOp{}, false
	}

	var updates []domain.AccountUpdate
	switch op.Kind {
	case domain.PriorityOpDeposit:
		updates = k.state.applyDeposit(op.Deposit)
		metrics.PriorityOpsAppliedTotal.WithLabelValues("deposit").Inc()
	case domain.PriorityOpFullExit:
		updates = k.state.applyFullExit(op.FullExit)
		metrics.PriorityOpsAppliedTotal.WithLabelValues("full_exit").Inc()
	}

	exec := domain.ExecutedOp{
		BlockIndex: k.pending.PendingOpBlockIndex,
		IsPriority: true,
		PriorityOp: &op,
		Updates:    updates,
	}
	k.pending.PendingOpBlockIndex++
	k.pending.ChunksLeft -= cost
	k.pending.GasCounter = k.pending.GasCounter.Add(gasCost)
	k.foldUpdates(updates)
	k.pending.SuccessOps = append(k.pending.SuccessOps, exec)
	k.unprocessedPriorityOp++

	k.publishExecutedOp(exec, nil)
	return exec, true
}

// applyTxUnit dispatches a single tx or a batch to applyTxBatch; a bare
// SignedTx is just a batch of one for capacity/atomicity purposes.
func (k *Keeper) applyTxUnit(unit domain.TxUnit) (executed []domain.ExecutedOp, failed []domain.FailedTx, ok bool) {
	if unit.Single != nil {
		return k.applyTxBatch([]domain.SignedTx{*unit.Single})
	}
	return k.applyTxBatch(unit.Batch)
}

// applyTxBatch applies a batch atomically: every member's
// chunk/gas/withdraw-limit budget is checked against the pending
// block up front (ok=false seal-and-retries the whole unit together, since
// a batch must land in one block or not at all); semantic failures within
// an admitted batch roll back every member's effect and record all of them
// as failed with a shared reason.
func (k *Keeper) applyTxBatch(txs []domain.SignedTx) (executed []domain.ExecutedOp, failed []domain.FailedTx, ok bool) {
	type planned struct {
		tx              domain.Tx
		chunks          uint32
		gas             domain.GasCounter
		toAddressExists bool
	}
	plans := make([]planned, len(txs))
	var totalChunks uint32
	var totalGas domain.GasCounter
	var withdraws uint32

	for i, signed := range txs {
		tx := signed.Tx
		toAddressExists := true
		if tx.Kind == domain.TxTransfer {
			_, _, toAddressExists = k.state.lookupByAddress(tx.Transfer.To)
		}
		chunks := tx.Chunks(toAddressExists)
		gas := tx.GasCost(toAddressExists)
		plans[i] = planned{tx: tx, chunks: chunks, gas: gas, toAddressExists: toAddressExists}
		totalChunks += chunks
		totalGas = totalGas.Add(gas)
		if tx.IsWithdraw() {
			withdraws++
		}
	}

	if totalChunks > k.pending.ChunksLeft {
		return nil, nil, false
	}
	if k.pending.GasCounter.Exceeds(totalGas, k.cfg.CommitGasLimit, k.cfg.VerifyGasLimit) {
		return nil, nil, false
	}
	if k.pending.WithdrawalsAmount+withdraws > domain.MaxWithdrawalsPerBlock {
		return nil, nil, false
	}

	var allUpdates []domain.AccountUpdate
	var execs []domain.ExecutedOp
	for _, p := range plans {
		updates, err := k.state.applyTx(p.tx, p.toAddressExists)
		if err != nil {
			k.state.rollback(allUpdates)
			reason := err.Error()
			for _, rp := range plans {
				f := domain.FailedTx{Tx: rp.tx, Reason: reason}
				failed = append(failed, f)
				k.pending.FailedTxs = append(k.pending.FailedTxs, f)
				metrics.TxsAppliedTotal.WithLabelValues(txKindLabel(rp.tx.Kind), "batch_rolled_back").Inc()
				k.publishFailedTx(f)
			}
			return nil, failed, true
		}
		allUpdates = append(allUpdates, updates...)
		execs = append(execs, domain.ExecutedOp{
			BlockIndex: k.pending.PendingOpBlockIndex + uint32(len(execs)),
			IsPriority: false,
			Tx:         &p.tx,
			Fee:        p.tx.Fee,
			Updates:    updates,
		})
	}

	k.pending.PendingOpBlockIndex += uint32(len(execs))
	k.pending.ChunksLeft -= totalChunks
	k.pending.GasCounter = k.pending.GasCounter.Add(totalGas)
	k.pending.WithdrawalsAmount += withdraws
	for _, p := range plans {
		if p.tx.Kind == domain.TxWithdraw && p.tx.Withdraw.Fast {
			k.pending.FastProcessingRequired = true
		}
	}
	k.foldUpdates(allUpdates)
	k.pending.SuccessOps = append(k.pending.SuccessOps, execs...)
	for _, exec := range execs {
		metrics.TxsAppliedTotal.WithLabelValues(txKindLabel(exec.Tx.Kind), "success").Inc()
		k.publishExecutedOp(exec, nil)
	}
	if withdraws > 0 {
		metrics.WithdrawalsPerBlock.Observe(float64(k.pending.WithdrawalsAmount))
	}

	return execs, nil, true
}

// failWholeUnit records every tx in an unadmittable unit as failed, with
// one shared reason, and folds the failures into the pending block.
func (k *Keeper) failWholeUnit(unit domain.TxUnit) []domain.FailedTx {
	txs := unit.Batch
	if unit.Single != nil {
		txs = []domain.SignedTx{*unit.Single}
	}
	var failed []domain.FailedTx
	for _, signed := range txs {
		f := domain.FailedTx{Tx: signed.Tx, Reason: "exceeds maximum block capacity"}
		failed = append(failed, f)
		k.pending.FailedTxs = append(k.pending.FailedTxs, f)
		metrics.TxsAppliedTotal.WithLabelValues(txKindLabel(signed.Tx.Kind), "oversized").Inc()
		k.publishFailedTx(f)
	}
	return failed
}

// foldUpdates appends updates to the pending block's accumulated list,
// merging a run of consecutive fee-account balance updates for the same
// token into the single prior entry rather than appending one per op.
func (k *Keeper) foldUpdates(updates []domain.AccountUpdate) {
	for _, u := range updates {
		if u.Kind == domain.UpdateBalance && u.AccountID == k.cfg.FeeAccountID && len(k.pending.AccountUpdates) > 0 {
			last := &k.pending.AccountUpdates[len(k.pending.AccountUpdates)-1]
			if last.Kind == domain.UpdateBalance && last.AccountID == k.cfg.FeeAccountID && last.Balance.Token == u.Balance.Token {
				last.Balance.NewBal = u.Balance.NewBal
				last.Balance.NewNonce = u.Balance.NewNonce
				continue
			}
		}
		k.pending.AccountUpdates = append(k.pending.AccountUpdates, u)
	}
}

// txKindLabel renders a TxKind for metric label values.
func txKindLabel(k domain.TxKind) string {
	switch k {
	case domain.TxTransfer:
		return "transfer"
	case domain.TxWithdraw:
		return "withdraw"
	case domain.TxChangePubKey:
		return "change_pub_key"
	case domain.TxClose:
		return "close"
	default:
		return "unknown"
	}
}
