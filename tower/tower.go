// Package tower implements the per-validator lockout tower state machine:
// a bounded stack of active votes with exponentially growing lockouts,
// plus a committed root.
package tower

import (
	"errors"

	"github.com/towerbft/sim/types"
)

// ErrAlreadyVoted is returned by Apply when the candidate slot does not
// strictly advance the tower (it is not newer than the current front vote
// or the committed root). The caller should treat this as a no-op.
var ErrAlreadyVoted = errors.New("tower: already voted past this slot")

// Tower is a per-validator bounded stack of active votes, most-recent
// first, plus a committed root vote. The zero value is a fresh tower
// rooted at types.ZeroVote with no active votes.
type Tower struct {
	// votes holds the active vote stack, index 0 is most recent. Slots
	// strictly decrease and lockouts strictly increase moving toward the
	// back of the slice.
	votes []types.Vote
	root  types.Vote
}

// New returns a fresh tower rooted at the zero vote.
func New() *Tower {
	return &Tower{root: types.ZeroVote}
}

// Clone returns a deep copy, safe to mutate independently of the original.
func (t *Tower) Clone() *Tower {
	c := &Tower{root: t.root}
	if len(t.votes) > 0 {
		c.votes = append([]types.Vote(nil), t.votes...)
	}
	return c
}

// Root returns the tower's committed root vote.
func (t *Tower) Root() types.Vote {
	return t.root
}

// LatestVote returns the most recent active vote, or false if the stack
// is empty (in which case the root is the latest committed position).
func (t *Tower) LatestVote() (types.Vote, bool) {
	if len(t.votes) == 0 {
		return types.Vote{}, false
	}
	return t.votes[0], true
}

// Votes returns a front-to-back snapshot copy of the active vote stack.
func (t *Tower) Votes() []types.Vote {
	return append([]types.Vote(nil), t.votes...)
}

// Len reports the number of active votes.
func (t *Tower) Len() int {
	return len(t.votes)
}

// Apply advances the tower with a new vote at v.Slot. It expires any
// active votes whose lockout has lapsed, doubles the lockout of every
// contiguous run of equal-lockout entries, promotes at most one
// overflowing entry to the new root, and pushes the new vote at the
// front with the initial lockout of 2.
//
// Returns ErrAlreadyVoted if v.Slot does not strictly exceed both the
// current front vote's slot (when the stack is non-empty) and the root's
// slot; the tower is left unmodified in that case.
func (t *Tower) Apply(v types.Vote) error {
	if len(t.votes) > 0 && v.Slot <= t.votes[0].Slot {
		return ErrAlreadyVoted
	}
	if v.Slot <= t.root.Slot {
		return ErrAlreadyVoted
	}

	// Expire: pop every entry whose expiry slot is reached by the new
	// vote. Older entries sit at the back and expire first.
	for len(t.votes) > 0 {
		back := t.votes[len(t.votes)-1]
		if back.ExpiresAt() > v.Slot {
			break
		}
		t.votes = t.votes[:len(t.votes)-1]
	}

	// Push the new vote at the front with the initial lockout.
	t.votes = append([]types.Vote{{Slot: v.Slot, Lockout: 2}}, t.votes...)

	// Double every contiguous run of equal lockouts. Walking from the
	// newly pushed entry toward the back and comparing each entry
	// against its (possibly just-doubled) neighbor propagates the carry
	// all the way to the oldest entry in a single pass, same as
	// incrementing a run-length-encoded binary counter. A lockout may
	// overflow past MaxLockout here; that overflow is resolved below.
	for i := 1; i < len(t.votes); i++ {
		if t.votes[i].Lockout == t.votes[i-1].Lockout {
			t.votes[i].Lockout *= 2
		}
	}

	// At most one entry can overflow per apply, and it is always the
	// oldest (back) entry, since it accumulates the most doublings.
	if back := len(t.votes) - 1; back >= 0 && t.votes[back].Lockout > types.MaxLockout {
		t.root = t.votes[back]
		t.votes = t.votes[:back]
	}

	return nil
}
