package node

import (
	"testing"

	"github.com/towerbft/sim/forkchoice"
	"github.com/towerbft/sim/types"
)

// TestScenario_ManySlotProgress drives a round-robin-leader run across
// NUM_NODES validators for 100 slots and checks that the fork store's
// lowest root advances past genesis (S2).
func TestScenario_ManySlotProgress(t *testing.T) {
	banks := forkchoice.NewBanks(nil)
	nodes := make([]*Node, types.NumNodes)
	for i := range nodes {
		nodes[i] = New(types.ID(i), nil)
	}

	const numSlots = 100
	for slot := types.Slot(1); slot <= numSlots; slot++ {
		leader := nodes[int(slot)%len(nodes)]
		peerVotes := make(map[types.ID][]types.Vote, len(nodes))
		for _, n := range nodes {
			peerVotes[n.ID] = n.Votes()
		}
		block := leader.MakeBlock(slot, peerVotes)

		if err := banks.Apply(block); err != nil {
			t.Fatalf("apply slot %d: %v", slot, err)
		}
		for _, n := range nodes {
			n.SetActiveBlock(slot)
			n.Vote(banks)
		}
	}

	if root := banks.LowestRoot(); root.Slot == 0 {
		t.Fatal("expected lowest root to advance past genesis over 100 slots of single-producer progress")
	}
}

// TestScenario_PartitionThenHealConverges exercises a network partition
// via Node.SetActiveBlock and checks that the isolated validator's view
// of the heaviest fork converges with an always-online validator's once
// the partition heals (S5).
func TestScenario_PartitionThenHealConverges(t *testing.T) {
	banks := forkchoice.NewBanks(nil)
	for slot := types.Slot(1); slot <= 5; slot++ {
		if err := banks.Apply(allVoteBlock(slot, slot-1)); err != nil {
			t.Fatalf("apply slot %d: %v", slot, err)
		}
	}

	online := New(0, nil)
	isolated := New(1, nil)
	for slot := types.Slot(0); slot <= 5; slot++ {
		online.SetActiveBlock(slot)
	}
	// The isolated validator only ever saw slots 0-2: a partition cuts it
	// off from the blocks produced at slots 3-5.
	isolated.SetActiveBlock(0)
	isolated.SetActiveBlock(1)
	isolated.SetActiveBlock(2)

	onlineSlot, ok := online.heaviestSlot(banks)
	if !ok || onlineSlot != 5 {
		t.Fatalf("online validator heaviest slot = %d, ok=%v, want 5", onlineSlot, ok)
	}
	isolatedSlot, ok := isolated.heaviestSlot(banks)
	if !ok || isolatedSlot != 2 {
		t.Fatalf("isolated validator heaviest slot = %d, ok=%v, want 2 while partitioned from slots 3-5", isolatedSlot, ok)
	}

	// Heal: the isolated validator catches up on every slot it missed.
	isolated.SetActiveBlock(3)
	isolated.SetActiveBlock(4)
	isolated.SetActiveBlock(5)

	isolatedSlot, ok = isolated.heaviestSlot(banks)
	if !ok || isolatedSlot != onlineSlot {
		t.Fatalf("isolated validator did not converge after heal: heaviest slot = %d, want %d", isolatedSlot, onlineSlot)
	}
}
