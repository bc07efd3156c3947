package sender

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
	"github.com/matter-labs/zksync-sub002/pkg/events"
	"github.com/matter-labs/zksync-sub002/pkg/hostchain"
	"github.com/matter-labs/zksync-sub002/pkg/storage"
)

// fakeClient is an in-memory hostchain.Client: transactions are "mined"
// the moment the test calls mine() on them, so tests control confirmation
// timing deterministically instead of racing a real chain.
type fakeClient struct {
	mu       sync.Mutex
	block    uint64
	gasPrice *big.Int
	nonce    uint64
	receipts map[common.Hash]*types.Receipt
	sent     []*types.Transaction
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		block:    100,
		gasPrice: big.NewInt(1_000_000_000),
		receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (f *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.block, nil
}

func (f *fakeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receipts[hash], nil
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeClient) advanceBlocks(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block += n
}

func (f *fakeClient) mine(hash common.Hash, status uint64, atBlock uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(atBlock),
		GasUsed:     21000,
	}
}

func testSender(t *testing.T) (*Sender, *fakeClient, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)

	builder := hostchain.NewTxBuilder(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"), key)
	client := newFakeClient()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultConfig()
	cfg.MaxTxsInFlight = 2
	cfg.WaitConfirmations = 2
	cfg.ExpectedWaitBlocks = 5
	cfg.PollInterval = time.Millisecond

	broker := events.NewBroker()
	t.Cleanup(broker.Stop)

	s, err := New(cfg, store, client, builder, broker)
	require.NoError(t, err)
	return s, client, key
}

func enqueue(t *testing.T, s *Sender, actionType domain.ActionType, from, to uint32) domain.AggregatedAction {
	t.Helper()
	id, err := s.store.NextAggregatedActionID()
	require.NoError(t, err)
	action := domain.AggregatedAction{
		ID:         id,
		ActionType: actionType,
		BlockFrom:  from,
		BlockTo:    to,
		Payload:    []byte("payload"),
	}
	require.NoError(t, s.store.EnqueueAggregatedAction(action))
	return action
}

func TestSenderBroadcastsCommitImmediately(t *testing.T) {
	s, client, _ := testSender(t)
	enqueue(t, s, domain.ActionCommit, 1, 1)

	s.proceedNextOperations()

	assert.Len(t, s.inFlight, 1)
	assert.Len(t, client.sent, 1)
}

func TestSenderGatesPublishProofUntilCommitConfirmed(t *testing.T) {
	s, client, _ := testSender(t)
	enqueue(t, s, domain.ActionCommit, 1, 1)
	enqueue(t, s, domain.ActionPublishProof, 1, 1)

	s.proceedNextOperations()
	assert.Len(t, s.inFlight, 1, "only commit should be admitted before it confirms")

	var commitOp *domain.ETHOperation
	for _, op := range s.inFlight {
		commitOp = op
	}
	require.NotNil(t, commitOp)

	client.mine(commitOp.LatestHash(), types.ReceiptStatusSuccessful, client.block+1)
	client.advanceBlocks(3)

	// A cycle admits before it polls, so the cycle that confirms the commit
	// cannot admit publish_proof yet; the following cycle does.
	s.proceedNextOperations()
	s.proceedNextOperations()
	assert.Len(t, s.inFlight, 1, "publish_proof should now be admitted after commit confirms")
	for _, op := range s.inFlight {
		assert.Equal(t, domain.ActionPublishProof, op.Action.ActionType)
	}
}

func TestSenderGasBumpsOnStuckTransaction(t *testing.T) {
	s, client, _ := testSender(t)
	enqueue(t, s, domain.ActionCommit, 1, 1)

	s.proceedNextOperations()
	require.Len(t, s.inFlight, 1)

	var op *domain.ETHOperation
	for _, o := range s.inFlight {
		op = o
	}
	firstHash := op.LatestHash()

	client.advanceBlocks(s.cfg.ExpectedWaitBlocks + 1)
	s.proceedNextOperations()

	refreshed := s.inFlight[op.ID]
	require.Len(t, refreshed.UsedTxHashes, 2, "a stuck tx should be rebroadcast with a new hash")
	assert.NotEqual(t, firstHash, refreshed.LatestHash())
	assert.Equal(t, op.Nonce, refreshed.Nonce, "gas bump reuses the original nonce")
}

func TestSenderSettlesOnOldHashAfterGasBump(t *testing.T) {
	s, client, _ := testSender(t)
	enqueue(t, s, domain.ActionCommit, 1, 1)
	s.proceedNextOperations()

	var op *domain.ETHOperation
	for _, o := range s.inFlight {
		op = o
	}
	firstHash := op.LatestHash()

	client.advanceBlocks(s.cfg.ExpectedWaitBlocks + 1)
	s.proceedNextOperations()
	require.Len(t, s.inFlight[op.ID].UsedTxHashes, 2)

	// The superseded first hash confirms anyway (confirmation independence).
	client.mine(firstHash, types.ReceiptStatusSuccessful, client.block+1)
	client.advanceBlocks(3)
	s.proceedNextOperations()

	assert.Len(t, s.inFlight, 0, "operation should settle even though it was the older hash that confirmed")
}

func TestSenderPanicsOnRevertedTransaction(t *testing.T) {
	s, client, _ := testSender(t)
	enqueue(t, s, domain.ActionCommit, 1, 1)
	s.proceedNextOperations()

	var op *domain.ETHOperation
	for _, o := range s.inFlight {
		op = o
	}
	client.mine(op.LatestHash(), types.ReceiptStatusFailed, client.block+1)
	client.advanceBlocks(3)

	assert.Panics(t, func() {
		s.proceedNextOperations()
	})
}

func TestSenderRecoversInFlightStateAcrossRestart(t *testing.T) {
	s, client, key := testSender(t)
	enqueue(t, s, domain.ActionCommit, 1, 1)
	s.proceedNextOperations()
	require.Len(t, s.inFlight, 1)

	builder := hostchain.NewTxBuilder(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"), key)
	broker := events.NewBroker()
	t.Cleanup(broker.Stop)

	recovered, err := New(s.cfg, s.store, client, builder, broker)
	require.NoError(t, err)

	assert.Len(t, recovered.inFlight, 1, "recovered sender should see the unconfirmed operation")
	assert.Empty(t, recovered.pending, "the action backing an in-flight op should not be re-queued as pending")
}

func TestSenderRespectsMaxTxsInFlight(t *testing.T) {
	s, _, _ := testSender(t)
	enqueue(t, s, domain.ActionCommit, 1, 1)
	enqueue(t, s, domain.ActionCommit, 2, 2)
	enqueue(t, s, domain.ActionCommit, 3, 3)

	s.proceedNextOperations()

	assert.Len(t, s.inFlight, s.cfg.MaxTxsInFlight, "admission should stop at the configured budget")
	assert.Len(t, s.pending, 1, "the third action should remain queued")
}
