// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"context"

	"golang.org/x/exp/constraints"
)

// RoundParams configures a new Round.
type RoundParams[ID comparable, Hash constraints.Ordered, Number constraints.Unsigned] struct {
	RoundNumber uint64
	Voters      VoterSet[ID]
	Base        HashNumber[Hash, Number]
}

// RoundState is the snapshot of a Round's derived observables, handed to
// the next round as previous_round_state and cached wholesale on update
// (§5: consumers read fields only at decision points, so a stale
// snapshot is harmless).
type RoundState[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	PrevoteGhost *HashNumber[Hash, Number]
	Estimate     *HashNumber[Hash, Number]
	Finalized    *HashNumber[Hash, Number]
	Completable  bool
}

type castVote[Vote any, Sig any] struct {
	vote Vote
	sig  Sig
}

// ImportResult is returned by Round.ImportPrevote/ImportPrecommit
// alongside a nil error on success. Imported is false only when the
// voter had already equivocated in this round, so any further vote from
// it is ignored.
type ImportResult[ID comparable, Vote any, Sig any] struct {
	Equivocation *Equivocation[ID, Vote, Sig]
	Imported     bool
}

// Round accumulates one prevote and one precommit per voter for a single
// round number, and derives the prevote-GHOST, estimate, finalized block
// and completable flag from them.
type Round[ID comparable, Hash constraints.Ordered, Number constraints.Unsigned, Sig any] struct {
	base   HashNumber[Hash, Number]
	voters VoterSet[ID]

	prevoteGraph   *VoteGraph[Hash, Number]
	precommitGraph *VoteGraph[Hash, Number]

	prevotes   map[ID]castVote[Prevote[Hash, Number], Sig]
	precommits map[ID]castVote[Precommit[Hash, Number], Sig]

	prevoteEquivocators   map[ID]struct{}
	precommitEquivocators map[ID]struct{}

	prevoteWeight   uint64
	precommitWeight uint64

	localPrevoted    bool
	localPrecommited bool

	roundNumber uint64
	state       RoundState[Hash, Number]
}

// NewRound constructs a Round with fresh prevote/precommit graphs rooted
// at params.Base.
func NewRound[ID comparable, Hash constraints.Ordered, Number constraints.Unsigned, Sig any](
	params RoundParams[ID, Hash, Number],
) *Round[ID, Hash, Number, Sig] {
	return &Round[ID, Hash, Number, Sig]{
		base:                  params.Base,
		voters:                params.Voters,
		prevoteGraph:          NewVoteGraph[Hash, Number](params.Base.Hash, params.Base.Number),
		precommitGraph:        NewVoteGraph[Hash, Number](params.Base.Hash, params.Base.Number),
		prevotes:              make(map[ID]castVote[Prevote[Hash, Number], Sig]),
		precommits:            make(map[ID]castVote[Precommit[Hash, Number], Sig]),
		prevoteEquivocators:   make(map[ID]struct{}),
		precommitEquivocators: make(map[ID]struct{}),
		roundNumber:           params.RoundNumber,
	}
}

// Number returns the round number.
func (r *Round[ID, Hash, Number, Sig]) Number() uint64 { return r.roundNumber }

// Base returns the round's base block.
func (r *Round[ID, Hash, Number, Sig]) Base() HashNumber[Hash, Number] { return r.base }

// Voters returns the round's voter set.
func (r *Round[ID, Hash, Number, Sig]) Voters() VoterSet[ID] { return r.voters }

// PrimaryVoter returns the round's round-robin primary proposer.
func (r *Round[ID, Hash, Number, Sig]) PrimaryVoter() ID {
	return r.voters.PrimaryVoter(r.roundNumber)
}

// State returns the current derived observables snapshot.
func (r *Round[ID, Hash, Number, Sig]) State() RoundState[Hash, Number] { return r.state }

// PrevoteGhost returns the current prevote-GHOST, if any.
func (r *Round[ID, Hash, Number, Sig]) PrevoteGhost() *HashNumber[Hash, Number] { return r.state.PrevoteGhost }

// Estimate returns the current round estimate, if any.
func (r *Round[ID, Hash, Number, Sig]) Estimate() *HashNumber[Hash, Number] { return r.state.Estimate }

// Finalized returns the current finalized block, if any.
func (r *Round[ID, Hash, Number, Sig]) Finalized() *HashNumber[Hash, Number] { return r.state.Finalized }

// Completable reports whether the round's estimate can no longer move.
func (r *Round[ID, Hash, Number, Sig]) Completable() bool { return r.state.Completable }

// SetPrevotedIndex marks that the local validator has cast a prevote
// this round.
func (r *Round[ID, Hash, Number, Sig]) SetPrevotedIndex() { r.localPrevoted = true }

// SetPrecommittedIndex marks that the local validator has cast a
// precommit this round.
func (r *Round[ID, Hash, Number, Sig]) SetPrecommittedIndex() { r.localPrecommited = true }

// AdjustBase moves both the prevote and precommit graphs' base backward
// along ancestryProof (reverse order, ending at the new base).
func (r *Round[ID, Hash, Number, Sig]) AdjustBase(ancestryProof []Hash) {
	r.prevoteGraph.AdjustBase(ancestryProof)
	r.precommitGraph.AdjustBase(ancestryProof)
	r.base = r.prevoteGraph.Base()
}

// ImportPrevote verifies and records a signed prevote from id.
func (r *Round[ID, Hash, Number, Sig]) ImportPrevote(
	ctx context.Context,
	env Environment[Hash, Number, ID, Sig],
	prevote Prevote[Hash, Number],
	id ID,
	sig Sig,
) (ImportResult[ID, Prevote[Hash, Number], Sig], error) {
	ok, err := env.Verify(id, NewPrevoteMessage(prevote), sig)
	if err != nil {
		return ImportResult[ID, Prevote[Hash, Number], Sig]{}, err
	}
	if !ok {
		return ImportResult[ID, Prevote[Hash, Number], Sig]{}, ErrBadSignature
	}

	weight, isVoter := r.voters.Weight(id)
	if !isVoter {
		return ImportResult[ID, Prevote[Hash, Number], Sig]{}, ErrNotAVoter
	}

	if _, already := r.prevoteEquivocators[id]; already {
		return ImportResult[ID, Prevote[Hash, Number], Sig]{}, nil
	}

	if prior, ok := r.prevotes[id]; ok {
		if prior.vote == prevote {
			return ImportResult[ID, Prevote[Hash, Number], Sig]{}, ErrDuplicateVote
		}

		r.prevoteEquivocators[id] = struct{}{}
		eq := &Equivocation[ID, Prevote[Hash, Number], Sig]{
			RoundNumber: r.roundNumber,
			Identity:    id,
			FirstVote:   prior.vote,
			FirstSig:    prior.sig,
			SecondVote:  prevote,
			SecondSig:   sig,
		}
		prevoteEquivocationsTotal.Inc()
		r.recomputePrevote()
		return ImportResult[ID, Prevote[Hash, Number], Sig]{Equivocation: eq, Imported: true}, nil
	}

	if err := r.prevoteGraph.Insert(prevote.TargetHash, prevote.TargetNumber, weight, env); err != nil {
		return ImportResult[ID, Prevote[Hash, Number], Sig]{}, err
	}
	r.prevotes[id] = castVote[Prevote[Hash, Number], Sig]{vote: prevote, sig: sig}
	r.prevoteWeight += weight

	r.recomputePrevote()
	return ImportResult[ID, Prevote[Hash, Number], Sig]{Imported: true}, nil
}

// ImportPrecommit verifies and records a signed precommit from id.
func (r *Round[ID, Hash, Number, Sig]) ImportPrecommit(
	ctx context.Context,
	env Environment[Hash, Number, ID, Sig],
	precommit Precommit[Hash, Number],
	id ID,
	sig Sig,
) (ImportResult[ID, Precommit[Hash, Number], Sig], error) {
	ok, err := env.Verify(id, NewPrecommitMessage(precommit), sig)
	if err != nil {
		return ImportResult[ID, Precommit[Hash, Number], Sig]{}, err
	}
	if !ok {
		return ImportResult[ID, Precommit[Hash, Number], Sig]{}, ErrBadSignature
	}

	weight, isVoter := r.voters.Weight(id)
	if !isVoter {
		return ImportResult[ID, Precommit[Hash, Number], Sig]{}, ErrNotAVoter
	}

	if _, already := r.precommitEquivocators[id]; already {
		return ImportResult[ID, Precommit[Hash, Number], Sig]{}, nil
	}

	if prior, ok := r.precommits[id]; ok {
		if prior.vote == precommit {
			return ImportResult[ID, Precommit[Hash, Number], Sig]{}, ErrDuplicateVote
		}

		r.precommitEquivocators[id] = struct{}{}
		eq := &Equivocation[ID, Precommit[Hash, Number], Sig]{
			RoundNumber: r.roundNumber,
			Identity:    id,
			FirstVote:   prior.vote,
			FirstSig:    prior.sig,
			SecondVote:  precommit,
			SecondSig:   sig,
		}
		precommitEquivocationsTotal.Inc()
		r.recomputePrecommit()
		return ImportResult[ID, Precommit[Hash, Number], Sig]{Equivocation: eq, Imported: true}, nil
	}

	if err := r.precommitGraph.Insert(precommit.TargetHash, precommit.TargetNumber, weight, env); err != nil {
		return ImportResult[ID, Precommit[Hash, Number], Sig]{}, err
	}
	r.precommits[id] = castVote[Precommit[Hash, Number], Sig]{vote: precommit, sig: sig}
	r.precommitWeight += weight

	r.recomputePrecommit()
	return ImportResult[ID, Precommit[Hash, Number], Sig]{Imported: true}, nil
}

// recomputePrevote refreshes prevote-GHOST, estimate and completable
// after a prevote import, per SPEC_FULL.md §4.2.
func (r *Round[ID, Hash, Number, Sig]) recomputePrevote() {
	supermajority := AtLeast(r.voters.Threshold())
	r.state.PrevoteGhost = r.prevoteGraph.FindGHOST(r.state.PrevoteGhost, supermajority)
	r.refreshEstimate()
}

// recomputePrecommit refreshes finalized, estimate and completable
// after a precommit import.
func (r *Round[ID, Hash, Number, Sig]) recomputePrecommit() {
	supermajority := AtLeast(r.voters.Threshold())
	r.state.Finalized = r.precommitGraph.FindGHOST(r.state.Finalized, supermajority)
	r.refreshEstimate()
}

func (r *Round[ID, Hash, Number, Sig]) refreshEstimate() {
	ghost := r.state.PrevoteGhost
	if ghost == nil {
		r.state.Estimate = nil
		r.state.Completable = false
		return
	}

	threshold := r.voters.Threshold()
	total := r.voters.Total()

	remainingPrevote := total - r.prevoteWeight
	canAdvance := false
	if remainingPrevote > 0 {
		relaxed := func(w Weight) bool { return w.Raw()+remainingPrevote >= threshold }
		if higher := r.prevoteGraph.FindGHOST(ghost, relaxed); higher != nil && higher.Number > ghost.Number {
			canAdvance = true
		}
	}

	remainingPrecommit := total - r.precommitWeight
	possibleToPrecommit := func(w Weight) bool { return w.Raw()+remainingPrecommit >= threshold }
	estimate := r.precommitGraph.FindAncestor(ghost.Hash, ghost.Number, possibleToPrecommit)

	r.state.Estimate = estimate
	if estimate == nil {
		r.state.Completable = false
		return
	}
	r.state.Completable = estimate.Number < ghost.Number || (*estimate == *ghost && !canAdvance)
}
