// Package bank implements the Bank: a node in the block tree that owns a
// snapshot of every validator's lockout tower, computes the supermajority
// root and threshold checks, and aggregates latest votes (spec §4.2).
package bank

import (
	"sort"

	"github.com/towerbft/sim/tower"
	"github.com/towerbft/sim/types"
)

// Bank is one slot's worth of replicated validator state. A Bank is
// created as an unfrozen child of a frozen parent, mutated exclusively by
// Apply, and frozen at the end of Apply; it is never mutated thereafter
// except for its parent's Children list at child-creation time.
type Bank struct {
	Slot     types.Slot
	Parent   types.Slot
	Frozen   bool
	Children []types.Slot
	Nodes    []*tower.Tower // one replica per validator, indexed by ID
	Subcom   Subcommittee
}

// Zero constructs the genesis bank: frozen at creation, with NumNodes
// fresh towers and the default subcommittee.
func Zero() *Bank {
	nodes := make([]*tower.Tower, types.NumNodes)
	for i := range nodes {
		nodes[i] = tower.New()
	}
	return &Bank{
		Slot:   0,
		Parent: 0,
		Frozen: true,
		Nodes:  nodes,
		Subcom: DefaultSubcommittee(),
	}
}

// Child produces an unfrozen child bank at the given slot: a clone of
// every validator's tower, a derived subcommittee, and an empty children
// list. The parent (which must be frozen) records the new slot as a
// child.
func (b *Bank) Child(slot types.Slot) (*Bank, error) {
	if !b.Frozen {
		return nil, ErrFreezeViolation
	}

	nodes := make([]*tower.Tower, len(b.Nodes))
	for i, n := range b.Nodes {
		nodes[i] = n.Clone()
	}

	child := &Bank{
		Slot:   slot,
		Parent: b.Slot,
		Frozen: false,
		Nodes:  nodes,
		Subcom: b.Subcom.Child(),
	}
	child.Subcom.InitChild(b.Subcom)

	b.Children = append(b.Children, slot)
	return child, nil
}

// Apply applies every vote in the block, in listed order, to the
// corresponding validator's tower replica. forkSet is the set of slots
// reachable by this bank's fork (ancestors plus this bank's own slot);
// any vote for a slot outside it is a fork violation. AlreadyVoted
// failures from individual tower applications are swallowed — a stale or
// duplicate vote does not fail the block. On return the bank's
// supermajority root is computed and the bank is frozen.
func (b *Bank) Apply(block Block, forkSet map[types.Slot]bool) error {
	if b.Frozen {
		return ErrFreezeViolation
	}
	if b.Slot != block.Slot || b.Parent != block.Parent {
		return ErrFreezeViolation
	}

	for _, bv := range block.Votes {
		for _, v := range bv.Votes {
			if !forkSet[v.Slot] {
				return ErrForkViolation
			}
			if err := b.Nodes[bv.ID].Apply(v); err != nil && err != tower.ErrAlreadyVoted {
				return err
			}
		}
	}

	b.Subcom.Freeze(b.CalcSuperRoot().Slot)
	b.Frozen = true
	return nil
}

// rootsAscending returns every validator's tower root, sorted by slot
// ascending.
func (b *Bank) rootsAscending() []types.Vote {
	roots := make([]types.Vote, len(b.Nodes))
	for i, n := range b.Nodes {
		roots[i] = n.Root()
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].Slot < roots[j].Slot })
	return roots
}

// CalcSuperRoot returns the largest slot that at least 2/3 of validators
// have already rooted: the element at index NumNodes/3 of the
// ascending-sorted root slots.
func (b *Bank) CalcSuperRoot() types.Vote {
	roots := b.rootsAscending()
	return roots[types.NumNodes/3]
}

// LowestRoot returns the smallest root slot across all validators.
func (b *Bank) LowestRoot() types.Vote {
	roots := b.rootsAscending()
	return roots[0]
}

// ThresholdSlot reports whether more than 2/3 of validators have aged
// support for vote, using the maximum lockout multiplier.
func (b *Bank) ThresholdSlot(vote types.Vote) bool {
	return b.calcThresholdSlot(uint64(types.MaxLockout), vote) > (2*types.NumNodes)/3
}

// calcThresholdSlot counts validators that already support vote, either
// because they are rooted past it, or because some active vote in their
// tower is aged enough (per mult) to cover it. The special case where
// vote.Lockout is already the maximum treats any active vote at or past
// vote.Slot as sufficient, matching a fully matured lockout.
func (b *Bank) calcThresholdSlot(mult uint64, vote types.Vote) int {
	count := 0
	for _, n := range b.Nodes {
		root := n.Root()
		if root.Slot >= vote.Slot {
			count++
			continue
		}
		supported := false
		for _, v := range n.Votes() {
			if vote.Lockout == types.MaxLockout && v.Slot >= vote.Slot {
				supported = true
				break
			}
			if v.Slot >= vote.Slot && v.Slot+types.Slot(mult*uint64(v.Lockout)) >= vote.Slot+types.Slot(vote.Lockout) {
				supported = true
				break
			}
		}
		if supported {
			count++
		}
	}
	return count
}

// LatestVotes folds each validator's latest vote (or root, if the stack
// is empty) into acc, keeping the maximum slot seen per validator across
// repeated calls against different banks.
func (b *Bank) LatestVotes(acc map[types.ID]types.Slot) {
	for i, n := range b.Nodes {
		id := types.ID(i)
		latest := n.Root()
		if v, ok := n.LatestVote(); ok {
			latest = v
		}
		if cur, ok := acc[id]; !ok || cur < latest.Slot {
			acc[id] = latest.Slot
		}
	}
}
