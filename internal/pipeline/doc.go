// Package pipeline advances work from one stage to the next. A sweep reads
// the terminal task set, decides what each newly completed task leads to,
// and records that decision in a ledger so re-running the sweep (after a
// restart, or just on the next tick) never dispatches the same thing twice.
//
// Stages run analyze, visualize, write, review, publish. In corpus mode an
// analysis only feeds the corpus; production starts when a theme cluster
// ripens. In direct mode each sufficiently relevant analysis starts its own
// chain.
package pipeline
