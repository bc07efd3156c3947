package committer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/events"
	"github.com/matter-labs/zksync-sub002/pkg/storage"
)

func newTestCommitter(t *testing.T) (*Committer, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	com := New(store, broker, 16)
	com.Start()
	t.Cleanup(com.Stop)
	return com, store
}

func TestCommitterPersistsPendingBlock(t *testing.T) {
	com, store := newTestCommitter(t)

	block := domain.NewPendingBlock(1, 0, 100)
	req := NewPendingBlockRequest(block)
	com.Requests() <- req
	require.NoError(t, <-req.Reply)

	loaded, err := store.LoadPendingBlock()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint32(1), loaded.Number)
}

func TestCommitterSealsBlockAndEnqueuesThreeActions(t *testing.T) {
	com, store := newTestCommitter(t)

	block := &domain.SealedBlock{BlockNumber: 1, NewRootHash: []byte{0x01}}
	req := NewBlockRequest(block, nil, map[domain.AccountID]*domain.Account{})
	com.Requests() <- req
	require.NoError(t, <-req.Reply)

	last, err := store.LastSealedBlockNumber()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), last)

	actions, err := store.ListPendingAggregatedActions()
	require.NoError(t, err)
	require.Len(t, actions, 3)
	assert.Equal(t, domain.ActionCommit, actions[0].ActionType)
	assert.Equal(t, domain.ActionPublishProof, actions[1].ActionType)
	assert.Equal(t, domain.ActionExecute, actions[2].ActionType)
	for _, a := range actions {
		assert.NotZero(t, a.ID, "the store assigns every enqueued action a fresh id")
		assert.Equal(t, uint32(1), a.BlockFrom)
		assert.Equal(t, uint32(1), a.BlockTo)
	}
}

// commitFailStore fails every CommitBlock, standing in for a store whose
// commit transaction never became durable.
type commitFailStore struct {
	storage.Store
}

func (s *commitFailStore) CommitBlock(*domain.SealedBlock, []domain.AccountUpdate, map[domain.AccountID]*domain.Account, []domain.AggregatedAction) error {
	return errors.New("commit transaction failed")
}

func TestCommitterEnqueuesNothingWhenBlockCommitFails(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	com := New(&commitFailStore{Store: store}, broker, 16)
	com.Start()
	t.Cleanup(com.Stop)

	block := &domain.SealedBlock{BlockNumber: 1, NewRootHash: []byte{0x01}}
	req := NewBlockRequest(block, nil, map[domain.AccountID]*domain.Account{})
	com.Requests() <- req
	require.Error(t, <-req.Reply)

	// The actions ride in the same transaction as the block: a failed
	// commit leaves neither a sealed block nor any queued action behind.
	actions, err := store.ListPendingAggregatedActions()
	require.NoError(t, err)
	assert.Empty(t, actions)
	last, err := store.LastSealedBlockNumber()
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestCommitterRequestsCarryDistinctCorrelationIDs(t *testing.T) {
	block := domain.NewPendingBlock(1, 0, 100)
	reqA := NewPendingBlockRequest(block)
	reqB := NewPendingBlockRequest(block)
	assert.NotEqual(t, reqA.CorrelationID, reqB.CorrelationID)
}
