package keeper

import (
	"fmt"
	"math/big"

	gethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/matter-labs/zksync-sub002/pkg/crypto"
	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/tree"
)

// state is the keeper's authenticated view: the account tree plus the
// address→id index a real L2 node needs to resolve transactions (the tree
// itself is keyed by id only). It is mutated exclusively by applyUpdate, so
// replaying a recorded AccountUpdate (forward) or its Reverse() (undo)
// exercises exactly the same code path as original execution.
type state struct {
	tree         *tree.Tree
	verifier     crypto.Verifier
	addressIndex map[[20]byte]domain.AccountID
	nextID       domain.AccountID
	feeAccountID domain.AccountID
}

func newState(t *tree.Tree, verifier crypto.Verifier, feeAccountID domain.AccountID) *state {
	return &state{
		tree:         t,
		verifier:     verifier,
		addressIndex: make(map[[20]byte]domain.AccountID),
		feeAccountID: feeAccountID,
	}
}

// reindex rebuilds addressIndex/nextID from the tree's current contents,
// used once at startup after the tree has been loaded from the committed
// tip's account log.
func (s *state) reindex(accounts map[domain.AccountID]*domain.Account) {
	s.addressIndex = make(map[[20]byte]domain.AccountID, len(accounts))
	s.nextID = 0
	for id, acc := range accounts {
		s.addressIndex[acc.Address] = id
		if id+1 > s.nextID {
			s.nextID = id + 1
		}
	}
}

func (s *state) lookupByAddress(addr [20]byte) (domain.AccountID, *domain.Account, bool) {
	id, ok := s.addressIndex[addr]
	if !ok {
		return 0, nil, false
	}
	acc, ok := s.tree.Get(id)
	return id, acc, ok
}

// getOrCreate returns the account at addr, creating it (with the next
// available id, zero nonce, no balances) if it does not exist yet. created
// reports whether a CreateUpdate must be folded into the caller's update
// list.
func (s *state) getOrCreate(addr [20]byte) (id domain.AccountID, acc *domain.Account, created bool) {
	if id, acc, ok := s.lookupByAddress(addr); ok {
		return id, acc, false
	}
	id = s.nextID
	acc = domain.NewAccount(gethcommon.Address(addr))
	return id, acc, true
}

// applyUpdate folds one AccountUpdate into the tree. Applying u undoes
// exactly what applying u.Reverse() would have done, and vice versa — this
// symmetry is what makes batch rollback and pending-block replay both
// reduce to "call applyUpdate for each update in the right order".
func (s *state) applyUpdate(u domain.AccountUpdate) {
	switch u.Kind {
	case domain.UpdateCreate:
		acc := domain.NewAccount(gethcommon.Address(u.Create.Address))
		acc.Nonce = u.Create.Nonce
		_ = s.tree.Insert(u.AccountID, acc)
		s.addressIndex[u.Create.Address] = u.AccountID
		if u.AccountID+1 > s.nextID {
			s.nextID = u.AccountID + 1
		}
	case domain.UpdateDelete:
		s.tree.Remove(u.AccountID)
		delete(s.addressIndex, u.Delete.Address)
		// Creates are only ever undone in reverse order, so freeing the
		// topmost id keeps id allocation dense across a batch rollback.
		if u.AccountID+1 == s.nextID {
			s.nextID = u.AccountID
		}
	case domain.UpdateBalance:
		acc, ok := s.tree.Get(u.AccountID)
		if !ok {
			return
		}
		acc.SetBalance(u.Balance.Token, u.Balance.NewBal)
		acc.Nonce = u.Balance.NewNonce
		_ = s.tree.Insert(u.AccountID, acc)
	case domain.UpdateChangePubKeyHash:
		acc, ok := s.tree.Get(u.AccountID)
		if !ok {
			return
		}
		acc.PubKeyHash = u.PubKey.NewHash
		acc.Nonce = u.PubKey.NewNonce
		_ = s.tree.Insert(u.AccountID, acc)
	}
}

// applyAll folds updates into the tree in order.
func (s *state) applyAll(updates []domain.AccountUpdate) {
	for _, u := range updates {
		s.applyUpdate(u)
	}
}

// rollback undoes updates (applied earlier, in order) by folding their
// reverses in reverse order.
func (s *state) rollback(updates []domain.AccountUpdate) {
	s.applyAll(domain.ReverseAll(updates))
}

// recorder applies updates one at a time, as they are computed, and keeps
// the applied list. Each update after the first is therefore computed from
// state that already reflects its predecessors, which matters whenever one
// operation touches the same account twice (a self-transfer, or a fee
// credited to the account that paid it).
type recorder struct {
	state   *state
	updates []domain.AccountUpdate
}

func (r *recorder) apply(u domain.AccountUpdate) {
	r.state.applyUpdate(u)
	r.updates = append(r.updates, u)
}

// applyDeposit credits a Deposit's amount to its destination account,
// creating the account if this is its first appearance. Deposits cannot be
// semantically rejected (the bridge contract already moved the funds on
// the host chain); the only rejections available are the
// capacity/gas ones handled by the caller before this is invoked.
func (s *state) applyDeposit(d *domain.DepositOp) []domain.AccountUpdate {
	id, acc, created := s.getOrCreate(d.ToAddress)
	r := &recorder{state: s}
	if created {
		r.apply(domain.AccountUpdate{
			AccountID: id,
			Kind:      domain.UpdateCreate,
			Create:    &domain.CreateUpdate{Address: d.ToAddress, Nonce: 0},
		})
	}
	oldBal := acc.Balance(d.Token)
	newBal := new(big.Int).Add(oldBal, d.Amount)
	r.apply(domain.AccountUpdate{
		AccountID: id,
		Kind:      domain.UpdateBalance,
		Balance:   &domain.BalanceUpdate{Token: d.Token, OldBal: oldBal, NewBal: newBal, OldNonce: acc.Nonce, NewNonce: acc.Nonce},
	})
	return r.updates
}

// applyFullExit zeroes the token balance of an already-registered account.
// A FullExit whose account id/address no longer matches the tree's record
// (account never existed, or its address changed, which cannot happen, but
// defends against a malformed priority op) is processed as a no-op: it
// still consumes its serial id and chunk/gas budget, it simply produces no
// updates, mirroring the original system's "priority op for an account that
// isn't there yet" handling.
func (s *state) applyFullExit(f *domain.FullExitOp) []domain.AccountUpdate {
	acc, ok := s.tree.Get(f.AccountID)
	if !ok || acc.Address != gethcommon.Address(f.Address) {
		return nil
	}
	oldBal := acc.Balance(f.Token)
	if oldBal.Sign() == 0 {
		return nil
	}
	r := &recorder{state: s}
	r.apply(domain.AccountUpdate{
		AccountID: f.AccountID,
		Kind:      domain.UpdateBalance,
		Balance:   &domain.BalanceUpdate{Token: f.Token, OldBal: oldBal, NewBal: big.NewInt(0), OldNonce: acc.Nonce, NewNonce: acc.Nonce},
	})
	return r.updates
}

// txRejection is a semantic (non-capacity) apply_tx failure.
type txRejection struct {
	reason string
}

func (e *txRejection) Error() string { return e.reason }

func reject(format string, args ...any) error {
	return &txRejection{reason: fmt.Sprintf(format, args...)}
}

// applyTx runs one transaction's semantic checks and, if they pass, its
// effect, returning the updates it produced (sender debit, optional
// recipient create/credit, and the fee credit to the fee account). A
// non-nil error means a semantic rejection (bad nonce, bad signature,
// insufficient balance, or the permanently-disabled Close) — the tx
// consumed no chunks and the keeper records it as a failed-tx entry rather
// than aborting the mini-block.
func (s *state) applyTx(tx domain.Tx, toAddressExists bool) ([]domain.AccountUpdate, error) {
	acc, ok := s.tree.Get(tx.AccountID)
	if !ok {
		return nil, reject("unknown account %d", tx.AccountID)
	}
	if tx.Nonce != acc.Nonce {
		return nil, reject("invalid nonce: expected %d, got %d", acc.Nonce, tx.Nonce)
	}
	if err := s.verifySignature(acc, tx); err != nil {
		return nil, err
	}

	switch tx.Kind {
	case domain.TxTransfer:
		return s.applyTransfer(tx, acc, toAddressExists)
	case domain.TxWithdraw:
		return s.applyWithdraw(tx, acc)
	case domain.TxChangePubKey:
		return s.applyChangePubKey(tx, acc)
	case domain.TxClose:
		return nil, reject("close is disabled")
	default:
		return nil, reject("unknown tx kind %d", tx.Kind)
	}
}

func (s *state) verifySignature(acc *domain.Account, tx domain.Tx) error {
	recovered, err := s.verifier.RecoverAddress(canonicalTxBytes(tx), tx.Signature)
	if err != nil {
		return reject("malformed signature: %v", err)
	}
	if recovered != acc.Address {
		return reject("signature does not match account %s", acc.Address.Hex())
	}
	return nil
}

func (s *state) applyTransfer(tx domain.Tx, sender *domain.Account, toAddressExists bool) ([]domain.AccountUpdate, error) {
	t := tx.Transfer
	total := new(big.Int).Add(t.Amount, tx.Fee)
	senderBal := sender.Balance(t.Token)
	if senderBal.Cmp(total) < 0 {
		return nil, reject("insufficient balance: have %s, need %s", senderBal, total)
	}
	destID, _, created := s.getOrCreate(t.To)
	if created == toAddressExists {
		return nil, reject("destination existence changed out from under the caller's chunk estimate")
	}

	r := &recorder{state: s}
	newSenderBal := new(big.Int).Sub(senderBal, total)
	newNonce := sender.Nonce + 1
	r.apply(domain.AccountUpdate{
		AccountID: tx.AccountID,
		Kind:      domain.UpdateBalance,
		Balance:   &domain.BalanceUpdate{Token: t.Token, OldBal: senderBal, NewBal: newSenderBal, OldNonce: sender.Nonce, NewNonce: newNonce},
	})

	if created {
		r.apply(domain.AccountUpdate{
			AccountID: destID,
			Kind:      domain.UpdateCreate,
			Create:    &domain.CreateUpdate{Address: t.To, Nonce: 0},
		})
	}
	// Re-read the destination after the debit so a self-transfer credits
	// the already-debited balance.
	destAcc, _ := s.tree.Get(destID)
	destBal := destAcc.Balance(t.Token)
	newDestBal := new(big.Int).Add(destBal, t.Amount)
	r.apply(domain.AccountUpdate{
		AccountID: destID,
		Kind:      domain.UpdateBalance,
		Balance:   &domain.BalanceUpdate{Token: t.Token, OldBal: destBal, NewBal: newDestBal, OldNonce: destAcc.Nonce, NewNonce: destAcc.Nonce},
	})

	r.apply(s.feeUpdate(t.Token, tx.Fee))
	return r.updates, nil
}

func (s *state) applyWithdraw(tx domain.Tx, sender *domain.Account) ([]domain.AccountUpdate, error) {
	w := tx.Withdraw
	total := new(big.Int).Add(w.Amount, tx.Fee)
	senderBal := sender.Balance(w.Token)
	if senderBal.Cmp(total) < 0 {
		return nil, reject("insufficient balance: have %s, need %s", senderBal, total)
	}

	r := &recorder{state: s}
	newSenderBal := new(big.Int).Sub(senderBal, total)
	newNonce := sender.Nonce + 1
	r.apply(domain.AccountUpdate{
		AccountID: tx.AccountID,
		Kind:      domain.UpdateBalance,
		Balance:   &domain.BalanceUpdate{Token: w.Token, OldBal: senderBal, NewBal: newSenderBal, OldNonce: sender.Nonce, NewNonce: newNonce},
	})
	r.apply(s.feeUpdate(w.Token, tx.Fee))
	return r.updates, nil
}

func (s *state) applyChangePubKey(tx domain.Tx, sender *domain.Account) ([]domain.AccountUpdate, error) {
	c := tx.ChangePubKey
	senderBal := sender.Balance(0)
	if senderBal.Cmp(tx.Fee) < 0 {
		return nil, reject("insufficient balance for change-pub-key fee: have %s, need %s", senderBal, tx.Fee)
	}

	r := &recorder{state: s}
	r.apply(domain.AccountUpdate{
		AccountID: tx.AccountID,
		Kind:      domain.UpdateChangePubKeyHash,
		PubKey:    &domain.PubKeyHashUpdate{OldHash: sender.PubKeyHash, NewHash: c.NewPubKeyHash, OldNonce: sender.Nonce, NewNonce: sender.Nonce + 1},
	})
	r.apply(s.feeUpdate(0, tx.Fee))
	return r.updates, nil
}

// feeUpdate credits amount of token to the fee account, without merging:
// merging consecutive fee updates into one PendingBlock-level entry is the
// keeper's responsibility when it folds a successful op's updates into the
// pending block (see foldUpdates), not this per-op computation.
func (s *state) feeUpdate(token domain.TokenID, amount *big.Int) domain.AccountUpdate {
	acc, ok := s.tree.Get(s.feeAccountID)
	if !ok {
		acc = domain.NewAccount(gethcommon.Address{})
	}
	oldBal := acc.Balance(token)
	newBal := new(big.Int).Add(oldBal, amount)
	return domain.AccountUpdate{
		AccountID: s.feeAccountID,
		Kind:      domain.UpdateBalance,
		Balance:   &domain.BalanceUpdate{Token: token, OldBal: oldBal, NewBal: newBal, OldNonce: acc.Nonce, NewNonce: acc.Nonce},
	}
}

// canonicalTxBytes serializes the fields a signature was produced over.
// The mempool is the system of record for the exact wire encoding;
// this reconstructs enough of it for the keeper's defense-in-depth
// re-verification to be meaningful without fixing a wire format the
// mempool has not committed to.
func canonicalTxBytes(tx domain.Tx) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(tx.Kind))
	buf = append(buf, byte(tx.AccountID>>24), byte(tx.AccountID>>16), byte(tx.AccountID>>8), byte(tx.AccountID))
	buf = append(buf, byte(tx.Nonce>>24), byte(tx.Nonce>>16), byte(tx.Nonce>>8), byte(tx.Nonce))
	if tx.Fee != nil {
		buf = append(buf, tx.Fee.Bytes()...)
	}
	switch tx.Kind {
	case domain.TxTransfer:
		buf = append(buf, tx.Transfer.To[:]...)
		buf = append(buf, byte(tx.Transfer.Token>>8), byte(tx.Transfer.Token))
		buf = append(buf, tx.Transfer.Amount.Bytes()...)
	case domain.TxWithdraw:
		buf = append(buf, tx.Withdraw.To[:]...)
		buf = append(buf, byte(tx.Withdraw.Token>>8), byte(tx.Withdraw.Token))
		buf = append(buf, tx.Withdraw.Amount.Bytes()...)
	case domain.TxChangePubKey:
		buf = append(buf, tx.ChangePubKey.NewPubKeyHash[:]...)
	}
	return buf
}
