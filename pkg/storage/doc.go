/*
Package storage provides BoltDB-backed persistence for the node's durable
state: accounts, the in-flight pending block, sealed blocks and their
account-update history, the committer's aggregated-action queue, and the
sender's ETHOperation records.

All values are JSON; each entity lives in its own bucket, upserted by key.
This trades a denser binary encoding for the ability to add fields to any
domain type without a migration, which matters here since the one process
writing this database is also the only one that ever reads it back.

# Crash recovery

CommitBlock is the only place more than one bucket changes together, and it
always runs inside a single bbolt transaction: the sealed block record, the
accounts it touched, its audit-trail account updates, the new tip, the
block's queued settlement actions, and the cleared pending block all land
atomically, so a crash mid-commit never leaves the tip pointing past a
block whose account state didn't make it to disk — nor a committed block
the settlement sender would never hear about because its actions were
missing.

The pending block occupies a single key and is overwritten on every
mini-block iteration, not appended to; on restart the state keeper loads it,
validates its Number against LastSealedBlockNumber, and discards it with a
warning on mismatch rather than replaying blindly.
*/
package storage
