// Package forkchoice implements Banks: the fork store that owns every
// Bank in the block tree, keyed by slot. It forks parent Banks into
// children, applies blocks, tracks the lowest committed root, garbage
// collects unreachable forks, and rebuilds the fork-weight table that
// drives each Node's heaviest-fork selection (spec §4.4).
package forkchoice

import (
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/towerbft/sim/bank"
	"github.com/towerbft/sim/types"
)

// forkCacheSize bounds the number of cached compute_fork results. Forks
// are short-lived between GC sweeps, so a modest cache keeps repeated
// Apply/Vote lookups cheap without retaining stale chains indefinitely.
const forkCacheSize = 256

// Banks is the fork store. It is safe for concurrent use: Apply takes
// the write lock, every read accessor takes the read lock. Per spec §5
// the simulator drives Banks synchronously, but the lock makes a
// parallel-voter extension safe without changing observable behavior.
type Banks struct {
	mu sync.RWMutex

	forkMap     map[types.Slot]*bank.Bank
	forkWeights map[types.Slot]uint64
	lowestRoot  types.Vote

	forkCache *lru.Cache[types.Slot, []types.Slot]
	log       *slog.Logger
}

// NewBanks constructs a fork store seeded with the genesis Bank.
func NewBanks(logger *slog.Logger) *Banks {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[types.Slot, []types.Slot](forkCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// forkCacheSize never is.
		panic(err)
	}

	genesis := bank.Zero()
	b := &Banks{
		forkMap:     map[types.Slot]*bank.Bank{0: genesis},
		forkWeights: map[types.Slot]uint64{0: 0},
		lowestRoot:  types.ZeroVote,
		forkCache:   cache,
		log:         logger,
	}
	return b
}

// Apply forks the parent Bank named by block.Parent into a new Bank at
// block.Slot, applies the block's votes, and brings the store's
// bookkeeping (lowest root, GC, fork weights) up to date.
func (s *Banks) Apply(block bank.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.forkMap[block.Slot]; exists {
		return ErrDoubleApply
	}
	parent, exists := s.forkMap[block.Parent]
	if !exists {
		return ErrUnknownParent
	}

	child, err := parent.Child(block.Slot)
	if err != nil {
		return err
	}

	ancestors := s.computeForkLocked(block.Parent)
	forkSet := make(map[types.Slot]bool, len(ancestors)+1)
	for _, slot := range ancestors {
		forkSet[slot] = true
	}
	forkSet[block.Slot] = true

	if err := child.Apply(block, forkSet); err != nil {
		return err
	}

	s.forkMap[block.Slot] = child

	lowest := child.LowestRoot()
	if lowest.Slot > s.lowestRoot.Slot {
		s.lowestRoot = lowest
		s.log.Debug("lowest root advanced", "slot", lowest.Slot)
		s.gcLocked()
	}

	s.buildForkWeightsLocked()
	return nil
}

// computeForkLocked walks parents from slot back to the store's slot-0
// genesis (or until a parent is missing from forkMap), returning the
// chain most-recent-first. Matching the original compute_fork, a parent
// slot is pushed onto the chain as soon as its child is found in
// forkMap, before the next iteration discovers whether that parent
// itself is still present: a chain ending just past a GC'd root carries
// one trailing ancestor slot number that no longer has a live Bank.
// Results are cached per slot; the cache is invalidated by gcLocked for
// any slot it drops.
func (s *Banks) computeForkLocked(slot types.Slot) []types.Slot {
	if cached, ok := s.forkCache.Get(slot); ok {
		out := make([]types.Slot, len(cached))
		copy(out, cached)
		return out
	}

	chain := []types.Slot{slot}
	cur := slot
	for {
		b, exists := s.forkMap[cur]
		if !exists {
			break
		}
		if b.Parent == cur {
			break
		}
		chain = append(chain, b.Parent)
		cur = b.Parent
	}

	cached := make([]types.Slot, len(chain))
	copy(cached, chain)
	s.forkCache.Add(slot, cached)
	return chain
}

// ComputeFork is the exported, locked form of computeForkLocked.
func (s *Banks) ComputeFork(slot types.Slot) []types.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.computeForkLocked(slot)
}

// gcLocked retains only Banks reachable from lowestRoot.Slot by
// following Children, dropping everything else (and its cached fork
// chain, if any).
func (s *Banks) gcLocked() {
	reachable := make(map[types.Slot]bool)
	var walk func(types.Slot)
	walk = func(slot types.Slot) {
		if reachable[slot] {
			return
		}
		b, exists := s.forkMap[slot]
		if !exists {
			return
		}
		reachable[slot] = true
		for _, child := range b.Children {
			walk(child)
		}
	}
	walk(s.lowestRoot.Slot)

	dropped := 0
	for slot := range s.forkMap {
		if !reachable[slot] {
			delete(s.forkMap, slot)
			delete(s.forkWeights, slot)
			dropped++
		}
	}
	if dropped > 0 {
		// A cached chain for any surviving slot may still reference a
		// slot just dropped above; purge rather than pick those out.
		s.forkCache.Purge()
		s.log.Debug("gc swept unreachable forks", "dropped", dropped, "retained", len(s.forkMap))
	}
}

// buildForkWeightsLocked rebuilds the fork-weight table: latest votes
// are merged across every live Bank, tallied per slot, then accumulated
// down the tree from lowestRoot via a DFS over Children.
func (s *Banks) buildForkWeightsLocked() {
	latestVotes := make(map[types.ID]types.Slot)
	for _, b := range s.forkMap {
		b.LatestVotes(latestVotes)
	}

	slotVotes := make(map[types.Slot]uint64)
	for _, slot := range latestVotes {
		slotVotes[slot]++
	}

	weights := make(map[types.Slot]uint64, len(s.forkMap))
	var walk func(slot types.Slot, parentWeight uint64)
	walk = func(slot types.Slot, parentWeight uint64) {
		b, exists := s.forkMap[slot]
		if !exists {
			return
		}
		w := parentWeight + slotVotes[slot]
		weights[slot] = w
		for _, child := range b.Children {
			walk(child, w)
		}
	}
	walk(s.lowestRoot.Slot, 0)

	s.forkWeights = weights
}

// LowestRoot returns the store's current lowest committed root.
func (s *Banks) LowestRoot() types.Vote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowestRoot
}

// ForkWeights returns a snapshot copy of the fork-weight table.
func (s *Banks) ForkWeights() map[types.Slot]uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.Slot]uint64, len(s.forkWeights))
	for slot, w := range s.forkWeights {
		out[slot] = w
	}
	return out
}

// Bank returns the Bank stored at slot, if any.
func (s *Banks) Bank(slot types.Slot) (*bank.Bank, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.forkMap[slot]
	return b, ok
}

// Has reports whether slot has a Bank in the store.
func (s *Banks) Has(slot types.Slot) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.forkMap[slot]
	return ok
}
