package bank

import "errors"

// Sentinel errors for Bank invariant violations. Both are fatal: they
// indicate a driver or invariant bug, never a reachable consensus
// outcome, and the caller should treat them as unrecoverable (spec §7).
var (
	// ErrForkViolation is returned when a block carries a peer vote for a
	// slot that is not part of the new bank's fork.
	ErrForkViolation = errors.New("bank: vote slot is not part of this fork")

	// ErrFreezeViolation is returned when Child is called on an unfrozen
	// bank, or Apply is called on an already-frozen one or with a block
	// whose slot or parent does not match the bank's.
	ErrFreezeViolation = errors.New("bank: freeze invariant violated")
)
