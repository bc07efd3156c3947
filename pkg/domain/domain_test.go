package domain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountCloneIsDeep(t *testing.T) {
	a := NewAccount(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	a.SetBalance(TokenID(1), big.NewInt(100))

	c := a.Clone()
	c.SetBalance(TokenID(1), big.NewInt(999))
	c.Nonce = 7

	assert.Equal(t, big.NewInt(100), a.Balance(TokenID(1)))
	assert.Equal(t, uint32(0), a.Nonce)
	assert.Equal(t, big.NewInt(999), c.Balance(TokenID(1)))
}

func TestAccountBalanceDefaultsToZero(t *testing.T) {
	a := NewAccount(common.Address{})
	assert.Equal(t, big.NewInt(0), a.Balance(TokenID(42)))
}

func TestGasCounterAddAndExceeds(t *testing.T) {
	g := GasCounter{Commit: 10, Verify: 5}
	g = g.Add(GasCounter{Commit: 5, Verify: 5})
	assert.Equal(t, GasCounter{Commit: 15, Verify: 10}, g)

	assert.True(t, g.Exceeds(GasCounter{Commit: 1}, 15, 100))
	assert.True(t, g.Exceeds(GasCounter{Verify: 1}, 100, 10))
	assert.False(t, g.Exceeds(GasCounter{Commit: 1, Verify: 1}, 16, 11))
}

func TestBlockSizeConfigSmallestFitting(t *testing.T) {
	sizes := BlockSizeConfig{10, 32, 72, 156}
	assert.Equal(t, uint32(10), sizes.SmallestFitting(3))
	assert.Equal(t, uint32(32), sizes.SmallestFitting(11))
	assert.Equal(t, uint32(156), sizes.SmallestFitting(156))
	// Nothing configured fits: falls back to the largest entry.
	assert.Equal(t, uint32(156), sizes.SmallestFitting(1000))
}

func TestBlockSizeConfigLargestOnEmpty(t *testing.T) {
	var sizes BlockSizeConfig
	assert.Equal(t, uint32(0), sizes.Largest())
	assert.Equal(t, uint32(0), sizes.SmallestFitting(5))
}

func TestTxChunksAndGasCostRouteByKind(t *testing.T) {
	transfer := Tx{Kind: TxTransfer}
	assert.Equal(t, ChunksTransfer, transfer.Chunks(true))
	assert.Equal(t, ChunksTransferToNew, transfer.Chunks(false))
	assert.Equal(t, GasTransfer, transfer.GasCost(true))
	assert.Equal(t, GasTransferToNew, transfer.GasCost(false))

	withdraw := Tx{Kind: TxWithdraw}
	assert.Equal(t, ChunksWithdraw, withdraw.Chunks(true))
	assert.True(t, withdraw.IsWithdraw())
	assert.False(t, transfer.IsWithdraw())

	cpk := Tx{Kind: TxChangePubKey}
	assert.Equal(t, ChunksChangePubKey, cpk.Chunks(true))

	closeTx := Tx{Kind: TxClose}
	assert.Equal(t, ChunksClose, closeTx.Chunks(true))
}

func TestPriorityOpChunksAndGasCostRouteByKind(t *testing.T) {
	deposit := PriorityOp{Kind: PriorityOpDeposit, Deposit: &DepositOp{Amount: big.NewInt(1)}}
	assert.Equal(t, ChunksDeposit, deposit.Chunks())
	assert.Equal(t, GasDeposit, deposit.GasCost())

	fullExit := PriorityOp{Kind: PriorityOpFullExit, FullExit: &FullExitOp{}}
	assert.Equal(t, ChunksFullExit, fullExit.Chunks())
	assert.Equal(t, GasFullExit, fullExit.GasCost())
}

func TestAccountUpdateReverseRestoresExactState(t *testing.T) {
	balanceUpdate := AccountUpdate{
		AccountID: 3,
		Kind:      UpdateBalance,
		Balance: &BalanceUpdate{
			Token:    1,
			OldBal:   big.NewInt(10),
			NewBal:   big.NewInt(25),
			OldNonce: 1,
			NewNonce: 2,
		},
	}
	reversed := balanceUpdate.Reverse()
	require.Equal(t, UpdateBalance, reversed.Kind)
	assert.Equal(t, big.NewInt(25), reversed.Balance.OldBal)
	assert.Equal(t, big.NewInt(10), reversed.Balance.NewBal)
	assert.Equal(t, uint32(2), reversed.Balance.OldNonce)
	assert.Equal(t, uint32(1), reversed.Balance.NewNonce)

	create := AccountUpdate{AccountID: 4, Kind: UpdateCreate, Create: &CreateUpdate{Nonce: 0}}
	reversedCreate := create.Reverse()
	assert.Equal(t, UpdateDelete, reversedCreate.Kind)
	assert.Equal(t, reversedCreate.Delete.Address, create.Create.Address)

	reversedDelete := reversedCreate.Reverse()
	assert.Equal(t, UpdateCreate, reversedDelete.Kind)
}

func TestReverseAllReversesOrderAndEachUpdate(t *testing.T) {
	updates := []AccountUpdate{
		{AccountID: 1, Kind: UpdateCreate, Create: &CreateUpdate{Nonce: 0}},
		{AccountID: 1, Kind: UpdateBalance, Balance: &BalanceUpdate{OldBal: big.NewInt(0), NewBal: big.NewInt(5)}},
	}
	reversed := ReverseAll(updates)
	require.Len(t, reversed, 2)
	// Last forward update (balance) is undone first.
	assert.Equal(t, UpdateBalance, reversed[0].Kind)
	assert.Equal(t, big.NewInt(5), reversed[0].Balance.OldBal)
	assert.Equal(t, big.NewInt(0), reversed[0].Balance.NewBal)
	assert.Equal(t, UpdateDelete, reversed[1].Kind)
}
