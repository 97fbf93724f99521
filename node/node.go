// Package node implements a validator's local view of the block tree:
// its visible slots under partition, its own lockout tower, and the
// full vote decision procedure run against a forkchoice.Banks store
// (spec §4.5).
package node

import (
	"log/slog"
	"sort"

	"github.com/towerbft/sim/bank"
	"github.com/towerbft/sim/forkchoice"
	"github.com/towerbft/sim/tower"
	"github.com/towerbft/sim/types"
)

// maxBlocks bounds the local visibility set; SetActiveBlock compacts it
// once it grows past this size.
const maxBlocks = 1024

// Node is one validator's local state.
type Node struct {
	ID           types.ID
	Blocks       map[types.Slot]struct{}
	Tower        *tower.Tower
	HeaviestFork []types.Slot // most recent tip first; nil until the first successful Vote

	log *slog.Logger
}

// New constructs a node that has only seen genesis.
func New(id types.ID, logger *slog.Logger) *Node {
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		ID:     id,
		Blocks: map[types.Slot]struct{}{0: {}},
		Tower:  tower.New(),
		log:    logger,
	}
}

// Vote runs the full per-slot decision procedure against banks,
// committing the node's tower to the simulated result on success.
// Failure is always silent per the kernel's error taxonomy: the node
// simply retains its prior tower, and the abort reason is logged at
// debug level only. The bool result is for test observability, not
// part of the kernel contract.
func (n *Node) Vote(banks *forkchoice.Banks) bool {
	heaviestSlot, ok := n.heaviestSlot(banks)
	if !ok {
		n.log.Debug("vote abort: no visible fork descends from lowest root", "id", n.ID)
		return false
	}

	heaviestFork := banks.ComputeFork(heaviestSlot)
	heaviestForkSet := slotSet(heaviestFork)

	simulated := n.Tower.Clone()
	if err := simulated.Apply(types.Vote{Slot: heaviestSlot, Lockout: 2}); err != nil {
		n.log.Debug("vote abort: already voted", "id", n.ID, "slot", heaviestSlot)
		return false
	}

	if !n.passesLockoutCheck(simulated, heaviestForkSet) {
		n.log.Debug("vote abort: lockout check failed", "id", n.ID, "slot", heaviestSlot)
		return false
	}

	heaviestBank, exists := banks.Bank(heaviestSlot)
	if !exists {
		n.log.Debug("vote abort: heaviest bank missing", "id", n.ID, "slot", heaviestSlot)
		return false
	}
	if !n.passesThresholdCheck(simulated, heaviestBank) {
		n.log.Debug("vote abort: threshold check failed", "id", n.ID, "slot", heaviestSlot)
		return false
	}

	if !n.passesSwitchingProof(banks, heaviestForkSet) {
		n.log.Debug("vote abort: switching proof failed", "id", n.ID, "slot", heaviestSlot)
		return false
	}

	n.Tower = simulated
	n.HeaviestFork = heaviestFork
	return true
}

// heaviestSlot restricts banks' fork weights to n.Blocks (partition
// visibility), then returns the (weight, slot) lexicographic maximum
// among slots that descend from banks.LowestRoot. Ties on weight are
// broken toward the larger slot. If nothing qualifies, slot 0 is
// returned, with ok true only while genesis is still in the store.
func (n *Node) heaviestSlot(banks *forkchoice.Banks) (types.Slot, bool) {
	weights := banks.ForkWeights()
	lowestRoot := banks.LowestRoot()

	var bestSlot types.Slot
	var bestWeight uint64
	found := false

	for slot, weight := range weights {
		if _, visible := n.Blocks[slot]; !visible {
			continue
		}
		if !descendsFrom(banks, slot, lowestRoot.Slot) {
			continue
		}
		if !found || weight > bestWeight || (weight == bestWeight && slot > bestSlot) {
			bestSlot, bestWeight, found = slot, weight, true
		}
	}

	if !found {
		return 0, banks.Has(0)
	}
	return bestSlot, true
}

// descendsFrom reports whether root appears in slot's ancestor chain
// (slot itself included).
func descendsFrom(banks *forkchoice.Banks, slot, root types.Slot) bool {
	for _, s := range banks.ComputeFork(slot) {
		if s == root {
			return true
		}
	}
	return false
}

// passesLockoutCheck requires every remaining active vote in simulated
// to name a slot on heaviestFork; if simulated has no active votes
// (the just-applied vote rooted immediately), its root slot must be on
// heaviestFork instead.
func (n *Node) passesLockoutCheck(simulated *tower.Tower, heaviestForkSet map[types.Slot]bool) bool {
	votes := simulated.Votes()
	if len(votes) == 0 {
		return heaviestForkSet[simulated.Root().Slot]
	}
	for _, v := range votes {
		if !heaviestForkSet[v.Slot] {
			return false
		}
	}
	return true
}

// passesThresholdCheck clones the heaviest bank's own replica for this
// validator, applies every vote from the simulated tower into it
// (oldest first, lockout forced to 2 as the Bank always does on real
// application), and requires threshold_slot to hold for every entry
// whose lockout strictly increased relative to the unmodified replica,
// and for every entry that has reached the maximum lockout. An entry
// with no counterpart in the replica is checked only if it is at the
// maximum lockout.
func (n *Node) passesThresholdCheck(simulated *tower.Tower, heaviestBank *bank.Bank) bool {
	original := heaviestBank.Nodes[n.ID]
	origBySlot := make(map[types.Slot]uint32, original.Len())
	for _, v := range original.Votes() {
		origBySlot[v.Slot] = v.Lockout
	}

	result := original.Clone()
	simVotes := simulated.Votes() // front-to-back, most recent first
	for i := len(simVotes) - 1; i >= 0; i-- {
		v := simVotes[i]
		if err := result.Apply(types.Vote{Slot: v.Slot, Lockout: 2}); err != nil && err != tower.ErrAlreadyVoted {
			return false
		}
	}

	for _, v := range result.Votes() {
		origLockout, hadEntry := origBySlot[v.Slot]
		if !hadEntry {
			// Brand new entries (most commonly the just-applied head
			// vote) have nothing in the original replica to exceed;
			// only a lockout already at the bank's independently
			// verified maximum is itself an increase worth checking.
			if v.Lockout < types.MaxLockout {
				continue
			}
		} else if v.Lockout <= origLockout && v.Lockout < types.MaxLockout {
			continue
		}
		if !heaviestBank.ThresholdSlot(types.Vote{Slot: v.Slot, Lockout: v.Lockout}) {
			return false
		}
	}
	return true
}

// passesSwitchingProof implements the optimistic-confirmation check: if
// the node's current (pre-simulation) last vote exists and does not lie
// on heaviestFork, the dissenting weight on forks disjoint from that
// last vote must exceed NUM_NODES/3.
func (n *Node) passesSwitchingProof(banks *forkchoice.Banks, heaviestForkSet map[types.Slot]bool) bool {
	lastVote, ok := n.Tower.LatestVote()
	if !ok || heaviestForkSet[lastVote.Slot] {
		return true
	}

	lastVoteAncestors := slotSet(banks.ComputeFork(lastVote.Slot))

	var dissent uint64
	for slot, weight := range banks.ForkWeights() {
		if _, visible := n.Blocks[slot]; !visible {
			continue
		}
		if slot <= lastVote.Slot {
			continue
		}
		if lastVoteAncestors[slot] {
			continue
		}
		if slotSet(banks.ComputeFork(slot))[lastVote.Slot] {
			continue
		}
		dissent += weight
	}
	return dissent > types.NumNodes/3
}

// MakeBlock packages peer votes whose most recent vote lies on
// n.HeaviestFork into a Block extending it. Peer vote sequences are
// emitted verbatim; lockouts carried in them are not trusted by the
// Bank, which recomputes them on Apply.
func (n *Node) MakeBlock(slot types.Slot, peerVotes map[types.ID][]types.Vote) bank.Block {
	forkSet := slotSet(n.HeaviestFork)

	ids := make([]types.ID, 0, len(peerVotes))
	for id := range peerVotes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var votes []bank.BlockVote
	for _, id := range ids {
		vs := peerVotes[id]
		if len(vs) == 0 || !forkSet[vs[0].Slot] {
			continue
		}
		votes = append(votes, bank.BlockVote{ID: id, Votes: vs})
	}

	parent := types.Slot(0)
	if len(n.HeaviestFork) > 0 {
		parent = n.HeaviestFork[0]
	}

	return bank.Block{Slot: slot, Parent: parent, Votes: votes}
}

// Votes returns the node's own tower snapshot with every lockout
// rewritten to 2: peers must never trust another node's claimed
// lockout, since the Bank re-derives it on application.
func (n *Node) Votes() []types.Vote {
	votes := n.Tower.Votes()
	out := make([]types.Vote, len(votes))
	for i, v := range votes {
		out[i] = types.Vote{Slot: v.Slot, Lockout: 2}
	}
	return out
}

// SetActiveBlock marks slot visible. If the visibility set grows past
// maxBlocks, every slot older than the tower's committed root is
// dropped.
func (n *Node) SetActiveBlock(slot types.Slot) {
	n.Blocks[slot] = struct{}{}
	if len(n.Blocks) <= maxBlocks {
		return
	}
	root := n.Tower.Root().Slot
	for s := range n.Blocks {
		if s < root {
			delete(n.Blocks, s)
		}
	}
}

func slotSet(slots []types.Slot) map[types.Slot]bool {
	set := make(map[types.Slot]bool, len(slots))
	for _, s := range slots {
		set[s] = true
	}
	return set
}
