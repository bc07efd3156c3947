package crypto

import (
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Hasher is the black-box hash function the account tree uses for leaves
// and internal compression. Implementations must be deterministic and pure.
type Hasher interface {
	// Hash returns the digest of data.
	Hash(data []byte) []byte

	// Compress combines a left and right child hash at the given tree depth
	// into their parent's hash. depth lets an implementation domain-separate
	// levels if it needs to.
	Compress(left, right []byte, depth int) []byte
}

// Keccak256Hasher is the default Hasher, backed by go-ethereum's Keccak-256,
// the same primitive the host chain's settlement contract verifies against.
type Keccak256Hasher struct{}

// NewKeccak256Hasher returns the default Hasher.
func NewKeccak256Hasher() Keccak256Hasher { return Keccak256Hasher{} }

// Hash implements Hasher.
func (Keccak256Hasher) Hash(data []byte) []byte {
	return gethcrypto.Keccak256(data)
}

// Compress implements Hasher by hashing left||right||depth.
func (h Keccak256Hasher) Compress(left, right []byte, depth int) []byte {
	buf := make([]byte, 0, len(left)+len(right)+1)
	buf = append(buf, left...)
	buf = append(buf, right...)
	buf = append(buf, byte(depth))
	return h.Hash(buf)
}
