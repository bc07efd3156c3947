package domain

import "math/big"

// AccountUpdateKind tags which variant of AccountUpdate is populated.
type AccountUpdateKind int

const (
	UpdateCreate AccountUpdateKind = iota
	UpdateDelete
	UpdateBalance
	UpdateChangePubKeyHash
)

// CreateUpdate records an account's creation.
type CreateUpdate struct {
	Address [20]byte
	Nonce   uint32
}

// DeleteUpdate records an account's deletion. No operation produces one
// directly (Close is disabled); it arises as the Reverse of a CreateUpdate
// when a batch is rolled back.
type DeleteUpdate struct {
	Address [20]byte
	Nonce   uint32
}

// BalanceUpdate records a single token balance change, with the nonce
// before and after so the update carries enough information to be undone
// exactly.
type BalanceUpdate struct {
	Token    TokenID
	OldBal   *big.Int
	NewBal   *big.Int
	OldNonce uint32
	NewNonce uint32
}

// PubKeyHashUpdate records a ChangePubKey's effect on the spending-key
// fingerprint.
type PubKeyHashUpdate struct {
	OldHash  PubKeyHash
	NewHash  PubKeyHash
	OldNonce uint32
	NewNonce uint32
}

// AccountUpdate is a reversible sum type: applying a list of updates in
// reverse, with each update's Reverse(), undoes exactly the forward
// application. This is the basis of batch rollback.
type AccountUpdate struct {
	AccountID AccountID
	Kind      AccountUpdateKind
	Create    *CreateUpdate
	Delete    *DeleteUpdate
	Balance   *BalanceUpdate
	PubKey    *PubKeyHashUpdate
}

// Reverse returns the update that, applied after this one, restores the
// prior state exactly.
func (u AccountUpdate) Reverse() AccountUpdate {
	switch u.Kind {
	case UpdateCreate:
		return AccountUpdate{
			AccountID: u.AccountID,
			Kind:      UpdateDelete,
			Delete:    &DeleteUpdate{Address: u.Create.Address, Nonce: u.Create.Nonce},
		}
	case UpdateDelete:
		return AccountUpdate{
			AccountID: u.AccountID,
			Kind:      UpdateCreate,
			Create:    &CreateUpdate{Address: u.Delete.Address, Nonce: u.Delete.Nonce},
		}
	case UpdateBalance:
		return AccountUpdate{
			AccountID: u.AccountID,
			Kind:      UpdateBalance,
			Balance: &BalanceUpdate{
				Token:    u.Balance.Token,
				OldBal:   u.Balance.NewBal,
				NewBal:   u.Balance.OldBal,
				OldNonce: u.Balance.NewNonce,
				NewNonce: u.Balance.OldNonce,
			},
		}
	case UpdateChangePubKeyHash:
		return AccountUpdate{
			AccountID: u.AccountID,
			Kind:      UpdateChangePubKeyHash,
			PubKey: &PubKeyHashUpdate{
				OldHash:  u.PubKey.NewHash,
				NewHash:  u.PubKey.OldHash,
				OldNonce: u.PubKey.NewNonce,
				NewNonce: u.PubKey.OldNonce,
			},
		}
	default:
		return u
	}
}

// ReverseAll returns the inverse of applying updates in order: each entry
// reversed, in reverse order.
func ReverseAll(updates []AccountUpdate) []AccountUpdate {
	out := make([]AccountUpdate, len(updates))
	for i, u := range updates {
		out[len(updates)-1-i] = u.Reverse()
	}
	return out
}
