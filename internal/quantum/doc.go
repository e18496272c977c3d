// Package quantum owns the bridge's node registry and its operation records.
//
// Entanglements, measurements and teleportations are bookkeeping over named
// nodes. Measurement and teleport bits come from a BitSource; no physical
// state is modeled.
//
// Invariants:
// - entanglement ids are dense ent_0..ent_{n-1} in creation order.
//
// - entangled links are symmetric and a pair is recorded at most once.
//
// - snapshots are copies and never alias registry state.
package quantum
