/*
Package events provides an in-memory pub/sub broker used to notify
observers (future RPC subscribers, audit logging)
of state keeper and settlement sender activity without coupling those
components to any particular consumer.

Publish is non-blocking and best-effort: a slow or absent subscriber never
backpressures the state keeper or sender, since neither can afford to stall
on a notification channel. Subscribers that need a guaranteed record of
what happened should read it back from pkg/storage instead of relying on
event delivery.

# Event catalog

  - block.sealed: a pending block became a SealedBlock and was committed.
  - pending_block.updated: the in-flight pending block changed (new
    ExecuteMiniBlock iteration), for UIs that want live progress.
  - operation.executed / operation.failed: a single priority op or
    transaction succeeded or was rejected.
  - eth_operation.submitted / .confirmed / .stuck: the settlement sender's
    TxCheckOutcome transitions for one AggregatedAction.
*/
package events
