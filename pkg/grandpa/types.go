// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

// Package grandpa implements the core of a GHOST-based finality gadget:
// a vote-graph over block hashes and a per-round voting state machine
// that drives a local validator through proposing, prevoting,
// precommitting and completing a round.
package grandpa

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

// HashNumber pairs a block hash with its number, the basic block
// reference used throughout the graph and the round.
type HashNumber[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	Hash   Hash
	Number Number
}

// CumulativeVote is the commutative-monoid contract a vote-graph's
// per-node weight must satisfy: identity via the zero value, Add
// combines two already-accumulated weights (used when merging
// descendent subtrees on a branch split), AddVote folds in a single
// vote's weight, and Copy detaches a value from its owner so a split
// can hand a fresh weight to a new entry.
type CumulativeVote[Self any, Vote any] interface {
	Add(other Self)
	AddVote(vote Vote)
	Copy() Self
}

// Weight is the concrete cumulative-vote monoid used by this package:
// plain additive voting power. *Weight implements CumulativeVote[Weight, uint64].
type Weight struct {
	value uint64
}

// NewWeight constructs a Weight holding the given raw voting power.
func NewWeight(value uint64) Weight {
	return Weight{value: value}
}

// Raw returns the underlying voting power.
func (w Weight) Raw() uint64 {
	return w.value
}

// Add combines another already-accumulated Weight into this one.
func (w *Weight) Add(other Weight) {
	w.value += other.value
}

// AddVote folds a single voter's weight into this cumulative value.
func (w *Weight) AddVote(vote uint64) {
	w.value += vote
}

// Copy returns an independent copy of this Weight.
func (w Weight) Copy() Weight {
	return Weight{value: w.value}
}

// AtLeast returns a predicate testing whether a Weight has reached the
// given threshold. Used as the `condition` argument to FindGHOST/FindAncestor.
func AtLeast(threshold uint64) func(Weight) bool {
	return func(w Weight) bool { return w.value >= threshold }
}

var (
	// ErrUnknownBlock is returned when the chain oracle cannot locate a
	// block referenced by hash. Propagates and aborts the current operation.
	ErrUnknownBlock = errors.New("grandpa: unknown block")

	// ErrNotDescendent is returned when an ancestry query is made between
	// two blocks that are not in an ancestor/descendent relationship.
	ErrNotDescendent = errors.New("grandpa: block is not a descendent of base")

	// ErrBadSignature is a soft per-import error: the message's signature
	// failed verification. The message is dropped silently.
	ErrBadSignature = errors.New("grandpa: bad signature")

	// ErrNotAVoter is a soft per-import error: the signing id is not a
	// member of this round's voter set. The message is dropped silently.
	ErrNotAVoter = errors.New("grandpa: not a voter")

	// ErrDuplicateVote is a soft per-import error: the voter already cast
	// this exact vote. The message is dropped silently (not an equivocation,
	// since the vote is identical, not distinct).
	ErrDuplicateVote = errors.New("grandpa: duplicate vote")

	// ErrEnvironment names the opaque-environment-failure error kind. The
	// package does not wrap environment errors in it: a failure from an
	// Environment call (send, best_chain_containing, round_data) is
	// returned unchanged out of NewVotingRound or VotingRound.Run and
	// terminates the round.
	ErrEnvironment = errors.New("grandpa: environment error")
)

// BlockNumberOps is the arithmetic a block Number must support: ordering,
// addition/subtraction and a one-constant, per spec.md §3.
type BlockNumberOps interface {
	constraints.Unsigned
}

// one returns the additive identity's successor for any unsigned Number type.
func one[Number constraints.Unsigned]() Number {
	return Number(1)
}
