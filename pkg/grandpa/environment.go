// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"context"
	"time"

	"golang.org/x/exp/constraints"
)

// Chain is the chain-oracle collaborator: ancestry and membership
// queries a VoteGraph needs but does not itself maintain.
type Chain[Hash constraints.Ordered, Number constraints.Unsigned] interface {
	// Ancestry returns the ordered sequence of hashes from block's parent
	// back towards base, not including base itself. Returns
	// ErrNotDescendent if block is not a descendant of base.
	Ancestry(base, block Hash) ([]Hash, error)
}

// RoundData bundles the per-round resources an Environment hands to a
// newly-created VotingRound.
type RoundData[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any] struct {
	VoterID   *ID
	Prevote   <-chan time.Time
	Precommit <-chan time.Time
	Incoming  <-chan SignedMessage[Hash, Number, ID, Sig]
	Outgoing  chan<- Message[Hash, Number]
}

// Environment is the set of external collaborators a VotingRound depends
// on: timers, I/O streams, chain membership, best-chain selection and
// notification hooks. Implementations must be safe for concurrent calls
// from distinct round tasks (§5): the environment is shared by reference
// across rounds.
type Environment[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any] interface {
	Chain[Hash, Number]

	// RoundData returns the resources for the given round number. May
	// block awaiting round setup.
	RoundData(ctx context.Context, roundNumber uint64) (RoundData[Hash, Number, ID, Sig], error)

	// IsEqualOrDescendentOf is a pure membership check.
	IsEqualOrDescendentOf(base, block Hash) bool

	// BestChainContaining asks for the best known chain-head descending
	// from (or equal to) hash. The returned bool is false if hash is unknown.
	BestChainContaining(ctx context.Context, hash Hash) (HashNumber[Hash, Number], bool, error)

	// Verify checks a message's signature against id. A false result
	// (with nil error) means the signature did not verify; a non-nil
	// error is an opaque environment failure.
	Verify(id ID, msg Message[Hash, Number], sig Sig) (bool, error)

	// Send pushes a message to this round's outgoing sink, applying
	// backpressure as the transport requires.
	Send(ctx context.Context, out chan<- Message[Hash, Number], msg Message[Hash, Number]) error

	// Proposed, Prevoted and Precommitted notify the environment once
	// per local vote cast in a round; PrevoteEquivocation and
	// PrecommitEquivocation notify it once per distinct equivocation
	// observed on import. All are best-effort notifications: errors are
	// logged, never propagated to the caller.
	Proposed(round uint64, propose PrimaryPropose[Hash, Number]) error
	Prevoted(round uint64, prevote Prevote[Hash, Number]) error
	Precommitted(round uint64, precommit Precommit[Hash, Number]) error
	PrevoteEquivocation(round uint64, equivocation Equivocation[ID, Prevote[Hash, Number], Sig])
	PrecommitEquivocation(round uint64, equivocation Equivocation[ID, Precommit[Hash, Number], Sig])
}
