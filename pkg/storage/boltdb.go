package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/matter-labs/zksync-sub002/pkg/domain"
)

var (
	bucketAccounts         = []byte("accounts")
	bucketPendingBlock     = []byte("pending_block")
	bucketBlocks           = []byte("blocks")
	bucketChain            = []byte("chain")
	bucketAccountUpdates   = []byte("account_updates")
	bucketAggregatedAction = []byte("aggregated_actions")
	bucketETHOperations    = []byte("eth_operations")
)

var (
	keyPendingBlock            = []byte("pending")
	keyLastSealedBlockNumber   = []byte("last_sealed_block_number")
	keyLastProcessedPriorityOp = []byte("last_processed_priority_op")
	keyNextAggregatedActionID  = []byte("next_aggregated_action_id")
)

// BoltStore implements Store on top of a single bbolt database file, one
// bucket per entity, values as JSON (simplicity over a binary codec, since
// none of this ever leaves the process).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the node's database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "l2node.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketAccounts,
			bucketPendingBlock,
			bucketBlocks,
			bucketChain,
			bucketAccountUpdates,
			bucketAggregatedAction,
			bucketETHOperations,
		}
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func accountKey(id domain.AccountID) []byte {
	k := make([]byte, 4)
	binary.BigEndian.PutUint32(k, uint32(id))
	return k
}

func u64Key(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

func u32Value(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u32FromValue(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func u64Value(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func u64FromValue(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// GetAccount implements Store.
func (s *BoltStore) GetAccount(id domain.AccountID) (*domain.Account, bool, error) {
	var account domain.Account
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAccounts).Get(accountKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &account)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &account, true, nil
}

// PutAccount implements Store.
func (s *BoltStore) PutAccount(id domain.AccountID, account *domain.Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putAccount(tx, id, account)
	})
}

func putAccount(tx *bolt.Tx, id domain.AccountID, account *domain.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("storage: marshal account %d: %w", id, err)
	}
	return tx.Bucket(bucketAccounts).Put(accountKey(id), data)
}

// ListAccounts implements Store.
func (s *BoltStore) ListAccounts() (map[domain.AccountID]*domain.Account, error) {
	out := make(map[domain.AccountID]*domain.Account)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var account domain.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return err
			}
			id := domain.AccountID(binary.BigEndian.Uint32(k))
			out[id] = &account
			return nil
		})
	})
	return out, err
}

// SavePendingBlock implements Store.
func (s *BoltStore) SavePendingBlock(block *domain.PendingBlock) error {
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("storage: marshal pending block: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingBlock).Put(keyPendingBlock, data)
	})
}

// LoadPendingBlock implements Store. Returns (nil, nil) if no pending block
// was persisted (clean shutdown right after a seal, or a fresh node).
func (s *BoltStore) LoadPendingBlock() (*domain.PendingBlock, error) {
	var block domain.PendingBlock
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPendingBlock).Get(keyPendingBlock)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &block)
	})
	if err != nil || !found {
		return nil, err
	}
	return &block, nil
}

// ClearPendingBlock implements Store.
func (s *BoltStore) ClearPendingBlock() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPendingBlock).Delete(keyPendingBlock)
	})
}

// CommitBlock implements Store: records the sealed block itself, persists
// every touched account, appends the block's account updates to the audit
// trail, advances the durable tip and processed-priority-op marker,
// enqueues the block's settlement actions (assigning each a fresh id), and
// clears the pending block — all in one bbolt transaction so a crash never
// observes a sealed block without its actions, or any other partial commit.
func (s *BoltStore) CommitBlock(block *domain.SealedBlock, updates []domain.AccountUpdate, accounts map[domain.AccountID]*domain.Account, actions []domain.AggregatedAction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		blockData, err := json.Marshal(block)
		if err != nil {
			return fmt.Errorf("storage: marshal sealed block %d: %w", block.BlockNumber, err)
		}
		if err := tx.Bucket(bucketBlocks).Put(u32Value(block.BlockNumber), blockData); err != nil {
			return err
		}

		for id, account := range accounts {
			if err := putAccount(tx, id, account); err != nil {
				return err
			}
		}

		updatesData, err := json.Marshal(updates)
		if err != nil {
			return fmt.Errorf("storage: marshal account updates for block %d: %w", block.BlockNumber, err)
		}
		if err := tx.Bucket(bucketAccountUpdates).Put(u32Value(block.BlockNumber), updatesData); err != nil {
			return err
		}

		if err := tx.Bucket(bucketChain).Put(keyLastSealedBlockNumber, u32Value(block.BlockNumber)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketChain).Put(keyLastProcessedPriorityOp, u64Value(block.ProcessedPriorityOpAfter)); err != nil {
			return err
		}

		for _, action := range actions {
			id, err := nextActionID(tx)
			if err != nil {
				return err
			}
			action.ID = id
			if err := putAggregatedAction(tx, action); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketPendingBlock).Delete(keyPendingBlock)
	})
}

// GetSealedBlock implements Store.
func (s *BoltStore) GetSealedBlock(number uint32) (*domain.SealedBlock, bool, error) {
	var block domain.SealedBlock
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBlocks).Get(u32Value(number))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &block)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &block, true, nil
}

// LastSealedBlockNumber implements Store.
func (s *BoltStore) LastSealedBlockNumber() (uint32, error) {
	var n uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		n = u32FromValue(tx.Bucket(bucketChain).Get(keyLastSealedBlockNumber))
		return nil
	})
	return n, err
}

// LastProcessedPriorityOp implements Store.
func (s *BoltStore) LastProcessedPriorityOp() (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = u64FromValue(tx.Bucket(bucketChain).Get(keyLastProcessedPriorityOp))
		return nil
	})
	return n, err
}

// nextActionID hands out a fresh monotonic aggregated-action id within the
// caller's transaction, so an id bump is never durable without the write
// that consumed it.
func nextActionID(tx *bolt.Tx) (uint64, error) {
	next := u64FromValue(tx.Bucket(bucketChain).Get(keyNextAggregatedActionID)) + 1
	return next, tx.Bucket(bucketChain).Put(keyNextAggregatedActionID, u64Value(next))
}

func putAggregatedAction(tx *bolt.Tx, action domain.AggregatedAction) error {
	data, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("storage: marshal aggregated action %d: %w", action.ID, err)
	}
	return tx.Bucket(bucketAggregatedAction).Put(u64Key(action.ID), data)
}

// NextAggregatedActionID implements Store.
func (s *BoltStore) NextAggregatedActionID() (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		next, err = nextActionID(tx)
		return err
	})
	return next, err
}

// EnqueueAggregatedAction implements Store.
func (s *BoltStore) EnqueueAggregatedAction(action domain.AggregatedAction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putAggregatedAction(tx, action)
	})
}

// ListPendingAggregatedActions implements Store, returning actions in
// ascending ID order (bbolt buckets iterate keys in byte order, and IDs are
// encoded big-endian, so insertion order is preserved).
func (s *BoltStore) ListPendingAggregatedActions() ([]domain.AggregatedAction, error) {
	var out []domain.AggregatedAction
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAggregatedAction).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var action domain.AggregatedAction
			if err := json.Unmarshal(v, &action); err != nil {
				return err
			}
			out = append(out, action)
		}
		return nil
	})
	return out, err
}

// DeleteAggregatedAction implements Store.
func (s *BoltStore) DeleteAggregatedAction(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAggregatedAction).Delete(u64Key(id))
	})
}

// SaveETHOperation implements Store.
func (s *BoltStore) SaveETHOperation(op *domain.ETHOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("storage: marshal eth operation %d: %w", op.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketETHOperations).Put(u64Key(op.ID), data)
	})
}

// GetETHOperation implements Store.
func (s *BoltStore) GetETHOperation(id uint64) (*domain.ETHOperation, bool, error) {
	var op domain.ETHOperation
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketETHOperations).Get(u64Key(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &op)
	})
	if err != nil || !found {
		return nil, false, err
	}
	return &op, true, nil
}

// ListUnconfirmedETHOperations implements Store: every operation the sender
// still needs to track on resume, in ascending ID (submission) order.
func (s *BoltStore) ListUnconfirmedETHOperations() ([]*domain.ETHOperation, error) {
	var out []*domain.ETHOperation
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketETHOperations).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var op domain.ETHOperation
			if err := json.Unmarshal(v, &op); err != nil {
				return err
			}
			if !op.Confirmed {
				opCopy := op
				out = append(out, &opCopy)
			}
		}
		return nil
	})
	return out, err
}
