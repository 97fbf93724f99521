package forkchoice

import (
	"testing"

	"github.com/towerbft/sim/bank"
	"github.com/towerbft/sim/types"
)

// applyVote builds a single-validator block at slot with one vote from
// voter for slot and applies it, failing the test on error.
func applyVote(t *testing.T, s *Banks, slot, parent types.Slot, voter types.ID) {
	t.Helper()
	block := bank.Block{
		Slot:   slot,
		Parent: parent,
		Votes:  []bank.BlockVote{{ID: voter, Votes: []types.Vote{{Slot: slot, Lockout: 2}}}},
	}
	if err := s.Apply(block); err != nil {
		t.Fatalf("apply slot %d: %v", slot, err)
	}
}

func TestNewBanks_SeededWithGenesis(t *testing.T) {
	s := NewBanks(nil)
	if !s.Has(0) {
		t.Fatal("genesis bank missing from fresh store")
	}
	if root := s.LowestRoot(); root != types.ZeroVote {
		t.Fatalf("initial lowest root = %v, want zero vote", root)
	}
}

func TestApply_UnknownParent(t *testing.T) {
	s := NewBanks(nil)
	block := bank.Block{Slot: 5, Parent: 99}
	if err := s.Apply(block); err != ErrUnknownParent {
		t.Fatalf("apply with unknown parent = %v, want ErrUnknownParent", err)
	}
}

func TestApply_DoubleApply(t *testing.T) {
	s := NewBanks(nil)
	applyVote(t, s, 1, 0, 0)
	if err := s.Apply(bank.Block{Slot: 1, Parent: 0}); err != ErrDoubleApply {
		t.Fatalf("re-apply same slot = %v, want ErrDoubleApply", err)
	}
}

func TestApply_BuildsLinearChain(t *testing.T) {
	s := NewBanks(nil)
	applyVote(t, s, 1, 0, 0)
	applyVote(t, s, 2, 1, 0)
	applyVote(t, s, 3, 2, 0)

	chain := s.ComputeFork(3)
	want := []types.Slot{3, 2, 1, 0}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain = %v, want %v", chain, want)
		}
	}
}

func TestApply_ForkWeightsAccumulateDownTree(t *testing.T) {
	s := NewBanks(nil)
	// slot 1 gets one vote from validator 0, a sibling slot 2 (also a
	// child of 0) gets one vote from validator 1; slot 3 extends slot 1
	// with a vote from validator 2. Every other validator's latest vote
	// is still the genesis root, so every weight carries that shared
	// baseline — only the deltas between forks are meaningful here.
	applyVote(t, s, 1, 0, 0)
	applyVote(t, s, 2, 0, 1)
	applyVote(t, s, 3, 1, 2)

	weights := s.ForkWeights()
	if weights[1] != weights[2] {
		t.Fatalf("weight[1]=%d, weight[2]=%d, want equal (one new latest vote each)", weights[1], weights[2])
	}
	if weights[3] != weights[1]+1 {
		t.Fatalf("weight[3]=%d, want weight[1]+1=%d (validator 2's vote counted once more)", weights[3], weights[1]+1)
	}
	if weights[0] >= weights[1] {
		t.Fatalf("weight[0]=%d, want < weight[1]=%d", weights[0], weights[1])
	}
}

func TestApply_ForkViolationRejectsOffForkVote(t *testing.T) {
	s := NewBanks(nil)
	applyVote(t, s, 1, 0, 0)

	// slot 2 is a child of slot 1, but the vote names slot 99, which is
	// not in {0, 1, 2}.
	block := bank.Block{
		Slot:   2,
		Parent: 1,
		Votes:  []bank.BlockVote{{ID: 0, Votes: []types.Vote{{Slot: 99, Lockout: 2}}}},
	}
	if err := s.Apply(block); err != bank.ErrForkViolation {
		t.Fatalf("apply off-fork vote = %v, want bank.ErrForkViolation", err)
	}
}

// allVoteBlock builds a block at slot (child of parent) carrying a vote
// from every validator, so every tower replica advances in lockstep —
// the only way to make a root land on a genuinely existing ancestor
// Bank rather than an arbitrary slot number.
func allVoteBlock(slot, parent types.Slot) bank.Block {
	votes := make([]bank.BlockVote, types.NumNodes)
	for id := range votes {
		votes[id] = bank.BlockVote{ID: types.ID(id), Votes: []types.Vote{{Slot: slot, Lockout: 2}}}
	}
	return bank.Block{Slot: slot, Parent: parent, Votes: votes}
}

func TestGC_RetainsOnlyLowestRootDescendants(t *testing.T) {
	s := NewBanks(nil)

	// A disjoint sibling fork off genesis, well away from the main
	// chain's slot numbers, to avoid colliding with any root slot the
	// main chain will produce.
	if err := s.Apply(allVoteBlock(100, 0)); err != nil {
		t.Fatalf("apply sibling fork: %v", err)
	}

	// Every validator votes on every slot of a straight chain 1..8; by
	// the 8th apply every tower has overflowed and rooted at slot 2
	// (mirroring the tower package's own 8-vote trace).
	for slot := types.Slot(1); slot <= 8; slot++ {
		if err := s.Apply(allVoteBlock(slot, slot-1)); err != nil {
			t.Fatalf("apply slot %d: %v", slot, err)
		}
	}

	if got := s.LowestRoot(); got.Slot != 2 {
		t.Fatalf("lowest root = %v, want slot 2", got)
	}
	if s.Has(100) {
		t.Fatal("expected disjoint sibling fork to be garbage collected")
	}
	if s.Has(1) {
		t.Fatal("expected ancestor slot 1 (behind the new root) to be garbage collected")
	}
	for slot := types.Slot(2); slot <= 8; slot++ {
		if !s.Has(slot) {
			t.Fatalf("expected slot %d (root or descendant) to survive GC", slot)
		}
	}
}
