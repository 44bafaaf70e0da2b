// Package store holds the persisted shape of foundry's work: tasks, their
// stage-specific payloads, the append-only event log, the on-disk layout of the
// .foundry tree and the try-lock primitive used to make claims exclusive.
//
// Nothing in this package decides lifecycle rules; the queue package owns
// transitions and only ever talks to disk through the helpers here.
package store
