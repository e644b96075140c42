// Package reconcile pushes queued local changes to the Tasky server and
// merges the server's view of a day back into the local store.
//
// Cycle
//
// One Run performs a full reconciliation:
//
//	Local Store                         Remote Gateway
//	  ├── soft-deleted rows  ──deletes──▶  POST syncAgenda
//	  ├── dirty, not remote-known ──────▶  POST task|event|reminder
//	  └── dirty, remote-known ──────────▶  PUT  task|event|reminder
//	                                              │
//	  ◀────────── merge (last write wins) ── GET agenda?timezone&time
//
// Outcomes are applied item by item:
//
//   - confirmed deletes are purged
//   - accepted creates and updates are marked synced, unless the row was
//     edited while the push was in flight
//   - network failures leave the change queued for the next cycle
//   - server rejections are recorded on the row and reported in
//     Result.Rejected; the row is not pushed again until edited
//   - an update the server no longer knows is purged locally
//
// The pull then inserts unknown server items, overwrites local copies
// that are older or clean, keeps soft-deleted rows deleted, and purges
// remote-known rows of the day that the server no longer returns. Every
// case where a pending local edit is discarded, or a remote version is
// ignored in favor of a newer local one, is written to the conflict log.
//
// Concurrency
//
// A Reconciler runs one cycle at a time. Run returns ErrInFlight when a
// cycle is already running; callers that need a follow-up run coalesce
// triggers themselves (see the daemon package).
package reconcile
