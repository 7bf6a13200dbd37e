// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"context"

	"golang.org/x/exp/constraints"
	"golang.org/x/sync/errgroup"
)

// Scheduler runs a bounded sequence of VotingRounds concurrently, piping
// each round's live RoundState into the next round's
// previousRoundStateUpdates channel as it changes rather than waiting
// for the round to fully complete first — rounds N and N+1 genuinely
// overlap, matching the §5 concurrency model. It does not implement
// block import, catch-up or network plumbing: those belong to an outer
// voter this package does not provide (§9 Non-goals).
type Scheduler[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any] struct {
	environment Environment[Hash, Number, ID, Sig]
	voters      VoterSet[ID]
}

// NewScheduler constructs a Scheduler sharing environment and voters
// across every round it runs.
func NewScheduler[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any](
	environment Environment[Hash, Number, ID, Sig],
	voters VoterSet[ID],
) *Scheduler[Hash, Number, ID, Sig] {
	return &Scheduler[Hash, Number, ID, Sig]{environment: environment, voters: voters}
}

// RunRounds drives round numbers [first, first+count) concurrently,
// returning the last round's CompletableRound once every round has
// exited. base is the base block of every round; initial seeds round
// first's previous-round state, and later rounds are seeded from their
// predecessor's live state stream.
func (s *Scheduler[Hash, Number, ID, Sig]) RunRounds(
	ctx context.Context,
	first uint64,
	count uint64,
	base HashNumber[Hash, Number],
	initial RoundState[Hash, Number],
) (*CompletableRound[Hash, Number, ID, Sig], error) {
	if count == 0 {
		return nil, nil
	}

	group, ctx := errgroup.WithContext(ctx)

	results := make([]*CompletableRound[Hash, Number, ID, Sig], count)
	// updates[i] feeds round first+i; updates[0] is seeded once with
	// initial and left open, the rest are fed live by their predecessor.
	updates := make([]chan RoundState[Hash, Number], count)
	for i := range updates {
		updates[i] = make(chan RoundState[Hash, Number], 1)
	}
	updates[0] <- initial

	for i := uint64(0); i < count; i++ {
		i := i
		roundNumber := first + i

		seed := RoundState[Hash, Number]{}
		if i == 0 {
			seed = initial
		}
		vr, err := NewVotingRound[Hash, Number, ID, Sig](ctx, s.environment, roundNumber, s.voters, base, seed, updates[i])
		if err != nil {
			return nil, err
		}
		if i+1 < count {
			vr.SetStateOutput(updates[i+1])
		}

		group.Go(func() error {
			result, err := vr.Run(ctx)
			if err != nil {
				return err
			}
			results[i] = result
			if i+1 < count {
				// nudge the successor with the final state in case its
				// buffered slot was already drained by an earlier publish.
				select {
				case updates[i+1] <- result.Round.State():
				default:
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results[count-1], nil
}
