package bank

import "github.com/towerbft/sim/types"

// BlockVote is one validator's sequence of votes carried in a Block, applied
// to that validator's tower replica in listed order.
type BlockVote struct {
	ID    types.ID
	Votes []types.Vote
}

// Block is a proposed extension of the fork rooted at Parent.
type Block struct {
	Slot   types.Slot
	Parent types.Slot
	Votes  []BlockVote
}
