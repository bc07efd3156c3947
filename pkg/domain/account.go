package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountID is the stable, dense, never-reused identifier assigned to an
// account when it is first created. Ids are allocated as len(tree) at
// creation time.
type AccountID uint32

// TokenID identifies a fungible token within an account's balance map.
type TokenID uint16

// PubKeyHash is the fingerprint of an account's current spending key. It is
// the zero value until the account's first ChangePubKey lands.
type PubKeyHash [20]byte

// Account is the authenticated record the tree stores one Hash(Account)
// leaf for. It is created when an operation first references its address
// and is mutated only by the state keeper.
type Account struct {
	Address    common.Address
	PubKeyHash PubKeyHash
	Nonce      uint32
	Balances   map[TokenID]*big.Int
}

// NewAccount returns an empty account for address, with a zero nonce, zero
// pub-key hash and no balances.
func NewAccount(address common.Address) *Account {
	return &Account{
		Address:  address,
		Balances: make(map[TokenID]*big.Int),
	}
}

// Balance returns the account's balance for token, or zero if it has never
// held that token.
func (a *Account) Balance(token TokenID) *big.Int {
	if b, ok := a.Balances[token]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// SetBalance overwrites the account's balance for token.
func (a *Account) SetBalance(token TokenID, amount *big.Int) {
	a.Balances[token] = new(big.Int).Set(amount)
}

// Clone returns a deep copy, so callers can mutate the result without
// affecting the tree's stored leaf until it is explicitly re-inserted.
func (a *Account) Clone() *Account {
	c := &Account{
		Address:    a.Address,
		PubKeyHash: a.PubKeyHash,
		Nonce:      a.Nonce,
		Balances:   make(map[TokenID]*big.Int, len(a.Balances)),
	}
	for token, bal := range a.Balances {
		c.Balances[token] = new(big.Int).Set(bal)
	}
	return c
}
