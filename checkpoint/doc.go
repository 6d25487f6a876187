// Package checkpoint contains the Store, used to durably track how far
// a consumer has progressed through an append-only event log.
//
// The Store keeps the current position in memory and writes it back to
// a single-slot Event Stream, either periodically or on every Set call,
// so that a restarted consumer can resume from its last checkpoint.
//
// Checkpoints are advisory: failures of the backing Event Store are logged
// and never surfaced through Get or Set.
package checkpoint
