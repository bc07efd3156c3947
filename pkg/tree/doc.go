// Package tree implements the authenticated account tree: a sparse Merkle
// tree of fixed depth over account leaves, with a cached hash at every
// materialized internal node. Only leaves that have ever been populated,
// and the ancestors on their root paths, are materialized; everything else
// is represented implicitly by a precomputed empty-subtree hash per level.
//
// Hash computation is the only place the tree uses concurrency: computing
// a node's hash fans its two children out across goroutines bounded by an
// errgroup, and writes the result back into a read/write-locked cache.
// Every other method is a plain, sequential lookup or mutation — the tree
// carries no other shared mutable state.
package tree
