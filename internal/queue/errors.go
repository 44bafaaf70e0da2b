package queue

import "errors"

var (
	// ErrNotClaimable means another worker holds or already moved the task.
	// It is the expected outcome of losing a claim race.
	ErrNotClaimable = errors.New("queue: task not claimable")
	// ErrAlreadyTerminal marks a completion attempt on a task that already
	// reached Completed or Failed. The stored record is left untouched.
	ErrAlreadyTerminal = errors.New("queue: task already terminal")
	// ErrNotProcessing marks a completion attempt on a task nobody claimed.
	ErrNotProcessing = errors.New("queue: task is not processing")
	// ErrNotOwner is returned when a heartbeat or an owner-checked completion
	// comes from a worker that does not hold the claim.
	ErrNotOwner = errors.New("queue: task claimed by another worker")
)
