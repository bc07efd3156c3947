/*
Package metrics provides Prometheus metrics collection and exposition, plus
a tiny health-check registry exposed over HTTP for liveness/readiness
probes.

Every gauge/counter/histogram is registered at package init and updated
in-place (push model) by the component that owns the relevant state: the
state keeper updates block-sealing and pending-block gauges as it runs its
driver loop, the settlement sender updates in-flight/gas/confirmation
metrics as its TxCheckOutcome state machine advances. There is no separate
polling collector — both drivers are single-threaded owners of their state,
so pulling it from a second goroutine on a ticker would mean either racy
reads or a second lock just for metrics, and calling Set()/Inc() inline
costs nothing since both loops are already synchronous.

HealthChecker tracks three critical components: keeper, sender, storage.
Readiness reports not_ready unless all three are registered and currently
healthy, so an orchestrator's readiness probe won't route traffic to a node
that's still replaying its pending block on startup.
*/
package metrics
