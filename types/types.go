// Package types defines the primitive values shared by every layer of the
// tower-BFT consensus kernel: slots, votes, and validator identity.
package types

import "fmt"

// Slot identifies a position in the block tree. Slot 0 is genesis.
type Slot uint64

// ID identifies a validator by index into the fixed validator set.
type ID uint64

// Protocol constants, fixed at build time (spec §6).
const (
	// NumNodes is the size of the fixed validator set.
	NumNodes = 997
	// Threshold bounds a tower's maximum lockout exponent: the largest
	// active lockout is 1<<Threshold.
	Threshold = 6
	// MaxLockout is the largest lockout a non-rooted vote may carry.
	MaxLockout = 1 << Threshold
	// SubcommitteeEpoch is the number of super-root advances per epoch.
	SubcommitteeEpoch = 64
	// SubcommitteeSize is the target size of a rotating subcommittee.
	SubcommitteeSize = 200
)

// Vote is a validator's commitment to a slot, guarded by a lockout.
// Lockout 0 means "no vote"; the zero value is the zero vote {0, 0}.
type Vote struct {
	Slot    Slot
	Lockout uint32
}

// ZeroVote is the vote every tower starts rooted at.
var ZeroVote = Vote{Slot: 0, Lockout: 0}

// ExpiresAt returns the slot at which this vote's lockout expires: any
// applied vote at or past this slot pops the vote from its tower.
func (v Vote) ExpiresAt() Slot {
	return v.Slot + Slot(v.Lockout)
}

func (v Vote) String() string {
	return fmt.Sprintf("{slot:%d lockout:%d}", v.Slot, v.Lockout)
}
