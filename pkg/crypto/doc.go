// Package crypto declares the hash and signature primitives the rest of
// this system treats as black boxes: the account tree hashes leaves and
// internal nodes through Hasher, and the state keeper
// re-verifies transaction signatures through Verifier as a defense-in-depth
// check even though the mempool already checked them.
package crypto
