package tree

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/matter-labs/zksync-sub002/pkg/crypto"
	"github.com/matter-labs/zksync-sub002/pkg/domain"
)

// NodeRef is an index into the tree's backing node vector, used in place
// of an owning pointer so that parent/child links never form ownership
// cycles.
type NodeRef int

const noChild NodeRef = -1

// node is a materialized point in the tree: either a leaf (depth == D,
// treeIndex == capacity+id) or an internal node, addressed by treeIndex in
// the conceptual complete binary tree (root treeIndex == 1).
type node struct {
	treeIndex uint64
	depth     int // 0 at root, D at leaf
	left      NodeRef
	right     NodeRef
}

// Tree is the sparse Merkle account tree over account leaves.
type Tree struct {
	depth  int
	hasher crypto.Hasher

	mu       sync.Mutex // guards nodes/byIndex/accounts/rootRef structural mutation
	nodes    []node
	byIndex  map[uint64]NodeRef
	accounts map[domain.AccountID]*domain.Account
	rootRef  NodeRef

	cacheMu sync.RWMutex
	cache   map[uint64][]byte // treeIndex -> hash

	emptyHash [][]byte // emptyHash[d] is the hash of an empty subtree rooted at depth d
}

// New returns an empty tree of the given depth (capacity 2^depth).
func New(depth int, hasher crypto.Hasher) *Tree {
	t := &Tree{
		depth:    depth,
		hasher:   hasher,
		byIndex:  make(map[uint64]NodeRef),
		accounts: make(map[domain.AccountID]*domain.Account),
		cache:    make(map[uint64][]byte),
		rootRef:  noChild,
	}
	t.emptyHash = make([][]byte, depth+1)
	t.emptyHash[depth] = hasher.Hash(nil)
	for d := depth - 1; d >= 0; d-- {
		t.emptyHash[d] = hasher.Compress(t.emptyHash[d+1], t.emptyHash[d+1], d)
	}
	return t
}

// Capacity returns 2^D, the number of leaves the tree can hold.
func (t *Tree) Capacity() uint64 {
	return uint64(1) << uint(t.depth)
}

func (t *Tree) leafIndex(id domain.AccountID) uint64 {
	return t.Capacity() + uint64(id)
}

// Get returns the account stored at id, if any.
func (t *Tree) Get(id domain.AccountID) (*domain.Account, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accounts[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Insert writes account at id, creating or overwriting the leaf and
// invalidating the cached hash of every ancestor up to the root.
func (t *Tree) Insert(id domain.AccountID, account *domain.Account) error {
	if uint64(id) >= t.Capacity() {
		return fmt.Errorf("tree: account id %d out of range (capacity %d)", id, t.Capacity())
	}
	t.mu.Lock()
	t.accounts[id] = account.Clone()
	path := t.ensurePath(id)
	t.mu.Unlock()

	t.invalidate(path)
	return nil
}

// Remove deletes the leaf at id. The state keeper calls it when a batch
// rollback undoes an account Create; Close, the only operation that would
// delete an account directly, is disabled.
func (t *Tree) Remove(id domain.AccountID) {
	t.mu.Lock()
	delete(t.accounts, id)
	leafRef, ok := t.byIndex[t.leafIndex(id)]
	t.mu.Unlock()
	if !ok {
		return
	}
	t.mu.Lock()
	path := t.ancestorTreeIndexes(leafRef)
	t.mu.Unlock()
	t.invalidate(path)
}

// ensurePath materializes the leaf node for id and every ancestor up to the
// root that does not already exist, and returns the full set of ancestor
// tree indices (leaf to root inclusive) for cache invalidation. Caller
// holds t.mu.
func (t *Tree) ensurePath(id domain.AccountID) []uint64 {
	path := make([]uint64, 0, t.depth+1)

	cur := t.leafIndex(id)
	curDepth := t.depth
	prevIdx := uint64(0)
	prevRef := noChild

	for {
		path = append(path, cur)
		ref, exists := t.byIndex[cur]
		if !exists {
			t.nodes = append(t.nodes, node{treeIndex: cur, depth: curDepth, left: noChild, right: noChild})
			ref = NodeRef(len(t.nodes) - 1)
			t.byIndex[cur] = ref
		}
		if prevRef != noChild {
			if prevIdx%2 == 0 {
				t.nodes[ref].left = prevRef
			} else {
				t.nodes[ref].right = prevRef
			}
		}
		if curDepth == 0 {
			t.rootRef = ref
			break
		}
		prevIdx = cur
		prevRef = ref
		cur /= 2
		curDepth--
	}
	return path
}

// ancestorTreeIndexes returns the tree indices from ref up to the root,
// using the already-materialized node chain. Caller holds t.mu.
func (t *Tree) ancestorTreeIndexes(ref NodeRef) []uint64 {
	out := make([]uint64, 0, t.depth+1)
	idx := t.nodes[ref].treeIndex
	for {
		out = append(out, idx)
		if idx == 1 {
			break
		}
		idx = idx / 2
	}
	return out
}

func (t *Tree) invalidate(treeIndexes []uint64) {
	t.cacheMu.Lock()
	for _, idx := range treeIndexes {
		delete(t.cache, idx)
	}
	t.cacheMu.Unlock()
}

// RootHash recomputes (or returns the cached) root hash. Sibling subtrees
// at a given internal node are hashed concurrently; every newly computed
// hash is written back into the cache before RootHash returns.
func (t *Tree) RootHash() []byte {
	t.mu.Lock()
	rootRef := t.rootRef
	t.mu.Unlock()

	if rootRef == noChild {
		return append([]byte(nil), t.emptyHash[0]...)
	}
	return t.hashOf(rootRef)
}

// hashOf returns the hash of the node referenced by ref, using and
// populating the cache, fanning out its two children concurrently.
func (t *Tree) hashOf(ref NodeRef) []byte {
	t.mu.Lock()
	n := t.nodes[ref]
	t.mu.Unlock()

	if n.depth == t.depth {
		// Leaf: hash of the stored account.
		t.cacheMu.RLock()
		if h, ok := t.cache[n.treeIndex]; ok {
			t.cacheMu.RUnlock()
			return h
		}
		t.cacheMu.RUnlock()

		t.mu.Lock()
		id := domain.AccountID(n.treeIndex - t.Capacity())
		account := t.accounts[id]
		t.mu.Unlock()

		h := t.hasher.Hash(accountBytes(account))
		t.cacheMu.Lock()
		t.cache[n.treeIndex] = h
		t.cacheMu.Unlock()
		return h
	}

	t.cacheMu.RLock()
	if h, ok := t.cache[n.treeIndex]; ok {
		t.cacheMu.RUnlock()
		return h
	}
	t.cacheMu.RUnlock()

	var leftHash, rightHash []byte
	g := new(errgroup.Group)
	g.SetLimit(max(2, runtime.GOMAXPROCS(0)))
	g.Go(func() error {
		leftHash = t.childHash(n.left, n.depth+1)
		return nil
	})
	g.Go(func() error {
		rightHash = t.childHash(n.right, n.depth+1)
		return nil
	})
	_ = g.Wait()

	h := t.hasher.Compress(leftHash, rightHash, n.depth)
	t.cacheMu.Lock()
	t.cache[n.treeIndex] = h
	t.cacheMu.Unlock()
	return h
}

func (t *Tree) childHash(ref NodeRef, depth int) []byte {
	if ref == noChild {
		return t.emptyHash[depth]
	}
	return t.hashOf(ref)
}

// MerklePath returns the D sibling hashes and direction bits from leaf id
// up to the root, innermost (leaf sibling) first.
func (t *Tree) MerklePath(id domain.AccountID) []PathStep {
	t.RootHash() // populate the cache along the way

	steps := make([]PathStep, 0, t.depth)
	idx := t.leafIndex(id)
	depth := t.depth
	for depth > 0 {
		sibling := idx ^ 1
		steps = append(steps, PathStep{
			SiblingHash: t.hashAtIndex(sibling, depth),
			Right:       idx%2 == 1,
		})
		idx /= 2
		depth--
	}
	return steps
}

// hashAtIndex returns the hash materialized (or empty) at treeIndex/depth.
func (t *Tree) hashAtIndex(treeIndex uint64, depth int) []byte {
	t.mu.Lock()
	ref, ok := t.byIndex[treeIndex]
	t.mu.Unlock()
	if !ok {
		return t.emptyHash[depth]
	}
	return t.hashOf(ref)
}

// PathStep is one level of a Merkle inclusion proof: the sibling's hash and
// whether the proven node was the right child at that level.
type PathStep struct {
	SiblingHash []byte
	Right       bool
}

// accountBytes serializes an account deterministically: balances are
// emitted in ascending token-id order so the leaf hash never depends on Go
// map iteration order.
func accountBytes(a *domain.Account) []byte {
	if a == nil {
		return nil
	}
	tokens := make([]domain.TokenID, 0, len(a.Balances))
	for token := range a.Balances {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	buf := make([]byte, 0, 64+8*len(tokens))
	buf = append(buf, a.Address[:]...)
	buf = append(buf, a.PubKeyHash[:]...)
	buf = append(buf, byte(a.Nonce>>24), byte(a.Nonce>>16), byte(a.Nonce>>8), byte(a.Nonce))
	for _, token := range tokens {
		buf = append(buf, byte(token>>8), byte(token))
		buf = append(buf, a.Balances[token].Bytes()...)
	}
	return buf
}
