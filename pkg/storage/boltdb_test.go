package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAccountRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, found, err := store.GetAccount(domain.AccountID(1))
	require.NoError(t, err)
	assert.False(t, found)

	account := domain.NewAccount(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	account.SetBalance(domain.TokenID(0), big.NewInt(500))
	require.NoError(t, store.PutAccount(domain.AccountID(1), account))

	got, found, err := store.GetAccount(domain.AccountID(1))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, account.Address, got.Address)
	assert.Equal(t, big.NewInt(500), got.Balance(domain.TokenID(0)))

	all, err := store.ListAccounts()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestPendingBlockSaveLoadClear(t *testing.T) {
	store := newTestStore(t)

	pb, err := store.LoadPendingBlock()
	require.NoError(t, err)
	assert.Nil(t, pb)

	block := domain.NewPendingBlock(1, 0, 100)
	require.NoError(t, store.SavePendingBlock(block))

	loaded, err := store.LoadPendingBlock()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint32(1), loaded.Number)
	assert.Equal(t, uint32(100), loaded.ChunksLeft)

	require.NoError(t, store.ClearPendingBlock())
	loaded, err = store.LoadPendingBlock()
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestCommitBlockAdvancesTipAndPersistsAccountsAtomically(t *testing.T) {
	store := newTestStore(t)

	pending := domain.NewPendingBlock(1, 0, 100)
	require.NoError(t, store.SavePendingBlock(pending))

	account := domain.NewAccount(common.Address{})
	block := &domain.SealedBlock{
		BlockNumber:              1,
		NewRootHash:              []byte{0xAA},
		ProcessedPriorityOpAfter: 3,
	}
	updates := []domain.AccountUpdate{{AccountID: 1, Kind: domain.UpdateCreate, Create: &domain.CreateUpdate{}}}
	accounts := map[domain.AccountID]*domain.Account{1: account}
	actions := []domain.AggregatedAction{
		{ActionType: domain.ActionCommit, BlockFrom: 1, BlockTo: 1},
		{ActionType: domain.ActionPublishProof, BlockFrom: 1, BlockTo: 1},
		{ActionType: domain.ActionExecute, BlockFrom: 1, BlockTo: 1},
	}

	require.NoError(t, store.CommitBlock(block, updates, accounts, actions))

	sealed, found, err := store.GetSealedBlock(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte{0xAA}, sealed.NewRootHash)

	_, found, err = store.GetSealedBlock(2)
	require.NoError(t, err)
	assert.False(t, found)

	last, err := store.LastSealedBlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), last)

	lastOp, err := store.LastProcessedPriorityOp()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), lastOp)

	_, found, err = store.GetAccount(1)
	require.NoError(t, err)
	assert.True(t, found)

	// The block's settlement actions landed in the same transaction, with
	// fresh ids assigned in enqueue order.
	queued, err := store.ListPendingAggregatedActions()
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{queued[0].ID, queued[1].ID, queued[2].ID})
	assert.Equal(t, domain.ActionCommit, queued[0].ActionType)
	assert.Equal(t, domain.ActionExecute, queued[2].ActionType)

	// Committing a block clears whatever pending block preceded it.
	pb, err := store.LoadPendingBlock()
	require.NoError(t, err)
	assert.Nil(t, pb)
}

func TestCommitBlockActionIDsContinueAfterStandaloneAllocations(t *testing.T) {
	store := newTestStore(t)

	// Ids handed out before the commit are never reused by the
	// in-transaction assignment.
	id, err := store.NextAggregatedActionID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	block := &domain.SealedBlock{BlockNumber: 1, NewRootHash: []byte{0x01}}
	actions := []domain.AggregatedAction{{ActionType: domain.ActionCommit, BlockFrom: 1, BlockTo: 1}}
	require.NoError(t, store.CommitBlock(block, nil, nil, actions))

	queued, err := store.ListPendingAggregatedActions()
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, uint64(2), queued[0].ID)
}

func TestAggregatedActionQueueOrderingAndDeletion(t *testing.T) {
	store := newTestStore(t)

	var ids []uint64
	for i := 0; i < 3; i++ {
		id, err := store.NextAggregatedActionID()
		require.NoError(t, err)
		ids = append(ids, id)
		require.NoError(t, store.EnqueueAggregatedAction(domain.AggregatedAction{ID: id, ActionType: domain.ActionCommit, BlockFrom: uint32(i)}))
	}
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	pending, err := store.ListPendingAggregatedActions()
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, uint32(0), pending[0].BlockFrom)
	assert.Equal(t, uint32(2), pending[2].BlockFrom)

	require.NoError(t, store.DeleteAggregatedAction(2))
	pending, err = store.ListPendingAggregatedActions()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(1), pending[0].ID)
	assert.Equal(t, uint64(3), pending[1].ID)
}

func TestETHOperationRoundTripAndUnconfirmedFilter(t *testing.T) {
	store := newTestStore(t)

	op := &domain.ETHOperation{ID: 1, Action: domain.AggregatedAction{ActionType: domain.ActionCommit}, Nonce: 0}
	require.NoError(t, store.SaveETHOperation(op))

	got, found, err := store.GetETHOperation(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(1), got.ID)

	unconfirmed, err := store.ListUnconfirmedETHOperations()
	require.NoError(t, err)
	assert.Len(t, unconfirmed, 1)

	op.Confirmed = true
	hash := common.HexToHash("0xabc")
	op.FinalHash = &hash
	require.NoError(t, store.SaveETHOperation(op))

	unconfirmed, err = store.ListUnconfirmedETHOperations()
	require.NoError(t, err)
	assert.Len(t, unconfirmed, 0)
}
