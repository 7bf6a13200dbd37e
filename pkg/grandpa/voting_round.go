// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"context"
	"errors"
	"time"

	"golang.org/x/exp/constraints"
)

// vrState is the voting round's phase, per SPEC_FULL.md §4.3. It is
// stored alongside whichever timer channels are live in that phase; a
// timer field is nil once its phase has been left, which also serves as
// the Go analogue of the Rust source's "replace the timer with a future
// that never completes" trick for Precommitted.
type vrState int

const (
	vrStateStart vrState = iota
	vrStateProposed
	vrStatePrevoted
	vrStatePrecommitted
	vrStatePoisoned
)

// votingCapability mirrors the Rust source's Voting enum: whether this
// validator casts votes in the round, and whether it is additionally the
// round's primary proposer.
type votingCapability int

const (
	votingNone votingCapability = iota
	votingYes
	votingPrimary
)

func (v votingCapability) isActive() bool  { return v == votingYes || v == votingPrimary }
func (v votingCapability) isPrimary() bool { return v == votingPrimary }

// CompletableRound is the hand-off record a VotingRound yields on exit:
// the round's final accumulated state plus whatever incoming messages
// arrived but were not yet consumed, so the successor round does not
// lose them (§4.4).
type CompletableRound[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any] struct {
	Incoming <-chan SignedMessage[Hash, Number, ID, Sig]
	Round    *Round[ID, Hash, Number, Sig]
}

// VotingRound drives a single round's local validator through the
// proposing/prevoting/precommitting/completable phases, subject to
// timers, incoming peer messages and the previous round's live state.
type VotingRound[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any] struct {
	environment Environment[Hash, Number, ID, Sig]
	voting      votingCapability

	incoming <-chan SignedMessage[Hash, Number, ID, Sig]
	outgoing chan<- Message[Hash, Number]

	round *Round[ID, Hash, Number, Sig]
	state vrState

	prevoteTimer   <-chan time.Time
	precommitTimer <-chan time.Time

	primaryBlock *HashNumber[Hash, Number]

	previousRoundState        RoundState[Hash, Number]
	previousRoundStateUpdates <-chan RoundState[Hash, Number]

	// stateOut, when set via SetStateOutput, receives this round's state
	// every time it changes, so a Scheduler can run the successor round
	// concurrently against a live view instead of a one-shot snapshot.
	stateOut chan<- RoundState[Hash, Number]

	phaseStarted time.Time
}

// SetStateOutput wires a channel that receives this round's RoundState
// after every change. Sends are best-effort: a slow or absent reader
// never blocks round progress.
func (vr *VotingRound[Hash, Number, ID, Sig]) SetStateOutput(out chan<- RoundState[Hash, Number]) {
	vr.stateOut = out
}

func (vr *VotingRound[Hash, Number, ID, Sig]) publishState() {
	if vr.stateOut == nil {
		return
	}
	select {
	case vr.stateOut <- vr.round.State():
	default:
	}
}

// NewVotingRound awaits the environment's round_data for roundNumber and
// constructs a VotingRound ready to run() in the Start state.
func NewVotingRound[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any](
	ctx context.Context,
	environment Environment[Hash, Number, ID, Sig],
	roundNumber uint64,
	voters VoterSet[ID],
	base HashNumber[Hash, Number],
	previousRoundState RoundState[Hash, Number],
	previousRoundStateUpdates <-chan RoundState[Hash, Number],
) (*VotingRound[Hash, Number, ID, Sig], error) {
	roundData, err := environment.RoundData(ctx, roundNumber)
	if err != nil {
		return nil, err
	}

	round := NewRound[ID, Hash, Number, Sig](RoundParams[ID, Hash, Number]{
		RoundNumber: roundNumber,
		Voters:      voters,
		Base:        base,
	})

	voting := votingNone
	if roundData.VoterID != nil {
		switch {
		case *roundData.VoterID == round.PrimaryVoter():
			voting = votingPrimary
		case voters.Contains(*roundData.VoterID):
			voting = votingYes
		}
	}

	return &VotingRound[Hash, Number, ID, Sig]{
		environment:               environment,
		voting:                    voting,
		incoming:                  roundData.Incoming,
		outgoing:                  roundData.Outgoing,
		round:                     round,
		state:                     vrStateStart,
		prevoteTimer:              roundData.Prevote,
		precommitTimer:            roundData.Precommit,
		previousRoundState:        previousRoundState,
		previousRoundStateUpdates: previousRoundStateUpdates,
		phaseStarted:              time.Now(),
	}, nil
}

// phaseName returns the metrics label for the current state.
func (vr *VotingRound[Hash, Number, ID, Sig]) phaseName() string {
	switch vr.state {
	case vrStateStart:
		return "start"
	case vrStateProposed:
		return "proposed"
	case vrStatePrevoted:
		return "prevoted"
	case vrStatePrecommitted:
		return "precommitted"
	default:
		return "poisoned"
	}
}

// advance records the current phase's duration and transitions to next.
func (vr *VotingRound[Hash, Number, ID, Sig]) advance(next vrState) {
	observePhaseDuration(vr.phaseName(), vr.phaseStarted)
	vr.state = next
	vr.phaseStarted = time.Now()
}

// Run starts and processes the voting round until it becomes completable
// or ctx is cancelled.
func (vr *VotingRound[Hash, Number, ID, Sig]) Run(ctx context.Context) (*CompletableRound[Hash, Number, ID, Sig], error) {
	roundsCompletableGauge.Set(0)
	// the precommit timer stays ready once it has fired, even if the
	// precommit condition did not yet hold at that moment.
	precommitTimerFired := false
	for {
		switch vr.state {
		case vrStateStart:
			proposed, err := vr.primaryPropose(ctx)
			if err != nil {
				return nil, err
			}

			prevoteTimerReady, err := vr.handleInputs(ctx, vr.prevoteTimer)
			if err != nil {
				return nil, err
			}
			prevoted, err := vr.prevote(ctx, prevoteTimerReady)
			if err != nil {
				return nil, err
			}

			switch {
			case prevoted:
				vr.prevoteTimer = nil
				vr.advance(vrStatePrevoted)
			case proposed:
				vr.advance(vrStateProposed)
			}

		case vrStateProposed:
			prevoteTimerReady, err := vr.handleInputs(ctx, vr.prevoteTimer)
			if err != nil {
				return nil, err
			}
			prevoted, err := vr.prevote(ctx, prevoteTimerReady)
			if err != nil {
				return nil, err
			}
			if prevoted {
				vr.prevoteTimer = nil
				vr.advance(vrStatePrevoted)
			}

		case vrStatePrevoted:
			precommitTimerReady, err := vr.handleInputs(ctx, vr.precommitTimer)
			if err != nil {
				return nil, err
			}
			if precommitTimerReady {
				precommitTimerFired = true
			}
			precommitted, err := vr.precommit(ctx, precommitTimerFired)
			if err != nil {
				return nil, err
			}
			if precommitted {
				vr.precommitTimer = nil
				vr.advance(vrStatePrecommitted)
			}

		case vrStatePrecommitted:
			// The timer channel is nil here: receiving from a nil channel
			// blocks forever, which is Go's analogue of the Rust source's
			// future::pending() — only messages and state updates advance.
			if _, err := vr.handleInputs(ctx, nil); err != nil {
				return nil, err
			}
			if vr.isCompletable() {
				observePhaseDuration(vr.phaseName(), vr.phaseStarted)
				roundsCompletedTotal.Inc()
				roundsCompletableGauge.Set(1)
				return &CompletableRound[Hash, Number, ID, Sig]{
					Incoming: vr.incoming,
					Round:    vr.round,
				}, nil
			}

		case vrStatePoisoned:
			panic("grandpa: voting round observed in Poisoned state; this is a bug")
		}
	}
}

// handleInputs waits for exactly one of: the next incoming message, the
// next previous-round-state update, or timer's completion, per §4.3 and
// §5. It returns true only when the timer fired.
func (vr *VotingRound[Hash, Number, ID, Sig]) handleInputs(ctx context.Context, timer <-chan time.Time) (bool, error) {
	select {
	case msg, ok := <-vr.incoming:
		if !ok {
			// fused stream: treat a closed incoming channel as silence,
			// same as the Rust source's stream::Fuse.
			return false, nil
		}
		return false, vr.handleIncomingMessage(ctx, msg)

	case rs, ok := <-vr.previousRoundStateUpdates:
		if ok {
			vr.previousRoundState = rs
		}
		return false, nil

	case <-timer:
		return true, nil

	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (vr *VotingRound[Hash, Number, ID, Sig]) handleIncomingMessage(
	ctx context.Context,
	signed SignedMessage[Hash, Number, ID, Sig],
) error {
	target := signed.Message.Target()
	if !vr.environment.IsEqualOrDescendentOf(vr.round.Base().Hash, target.Hash) {
		logger.WithField("target", target).Trace("ignoring message below round base")
		return nil
	}

	if prevote, ok := signed.Message.AsPrevote(); ok {
		result, err := vr.round.ImportPrevote(ctx, vr.environment, prevote, signed.ID, signed.Signature)
		if err != nil {
			return vr.handleSoftImportError(err)
		}
		if result.Equivocation != nil {
			vr.environment.PrevoteEquivocation(vr.round.Number(), *result.Equivocation)
		}
		vr.publishState()
		return nil
	}

	if precommit, ok := signed.Message.AsPrecommit(); ok {
		result, err := vr.round.ImportPrecommit(ctx, vr.environment, precommit, signed.ID, signed.Signature)
		if err != nil {
			return vr.handleSoftImportError(err)
		}
		if result.Equivocation != nil {
			vr.environment.PrecommitEquivocation(vr.round.Number(), *result.Equivocation)
		}
		vr.publishState()
		return nil
	}

	if primary, ok := signed.Message.AsPrimaryPropose(); ok {
		if signed.ID == vr.round.PrimaryVoter() {
			target := primary.Target()
			vr.primaryBlock = &target
		} else {
			logger.WithField("id", signed.ID).Debug("primary proposal from non-primary voter")
		}
		return nil
	}

	return nil
}

// handleSoftImportError converts the §7 soft per-import errors
// (bad signature, not a voter, duplicate vote) into a logged drop, and
// propagates anything else (environment failures) as a fatal error.
func (vr *VotingRound[Hash, Number, ID, Sig]) handleSoftImportError(err error) error {
	switch {
	case errors.Is(err, ErrBadSignature), errors.Is(err, ErrNotAVoter), errors.Is(err, ErrDuplicateVote):
		logger.WithError(err).Debug("dropping message")
		return nil
	default:
		return err
	}
}

// primaryPropose sends a PrimaryPropose hint if this validator is the
// round's primary and the previous round's estimate has not already
// been finalized.
func (vr *VotingRound[Hash, Number, ID, Sig]) primaryPropose(ctx context.Context) (bool, error) {
	if !vr.voting.isPrimary() {
		return false, nil
	}

	estimate := vr.previousRoundState.Estimate
	if estimate == nil {
		logger.Trace("previous round estimate does not exist, not sending primary block hint")
		return false, nil
	}

	finalized := vr.previousRoundState.Finalized
	shouldSend := finalized == nil || estimate.Number > finalized.Number
	if !shouldSend {
		logger.Trace("previous round estimate already finalized, not sending primary block hint")
		return false, nil
	}

	propose := PrimaryPropose[Hash, Number]{TargetHash: estimate.Hash, TargetNumber: estimate.Number}
	if err := vr.environment.Proposed(vr.round.Number(), propose); err != nil {
		logger.WithError(err).Warn("proposed hook failed")
	}
	if err := vr.environment.Send(ctx, vr.outgoing, NewPrimaryProposeMessage(propose)); err != nil {
		return false, err
	}
	return true, nil
}

// prevote casts this round's prevote once the timer has fired or the
// round is already completable.
func (vr *VotingRound[Hash, Number, ID, Sig]) prevote(ctx context.Context, timerReady bool) (bool, error) {
	if !(timerReady || vr.round.Completable()) {
		return false, nil
	}

	if vr.voting.isActive() {
		target, err := vr.constructPrevote(ctx)
		if err != nil {
			return false, err
		}
		if target == nil {
			// the target block has disappeared; cease voting for the rest
			// of the round rather than risk voting for something unsound.
			vr.voting = votingNone
		} else {
			vr.round.SetPrevotedIndex()
			if err := vr.environment.Prevoted(vr.round.Number(), *target); err != nil {
				logger.WithError(err).Warn("prevoted hook failed")
			}
			if err := vr.environment.Send(ctx, vr.outgoing, NewPrevoteMessage(*target)); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// constructPrevote computes the prevote target per SPEC_FULL.md §4.3 /
// spec.md §4.3 "prevote decision" steps 1-6.
func (vr *VotingRound[Hash, Number, ID, Sig]) constructPrevote(ctx context.Context) (*Prevote[Hash, Number], error) {
	estimate := vr.previousRoundState.Estimate
	if estimate == nil {
		panic("grandpa: rounds only started when prior round is completable; qed")
	}

	var findDescendentOf Hash
	ghost := vr.previousRoundState.PrevoteGhost
	switch {
	case vr.primaryBlock == nil:
		findDescendentOf = estimate.Hash

	case ghost == nil:
		panic("grandpa: previous round was completable and must have a prevote-GHOST; qed")

	case *vr.primaryBlock == *ghost:
		findDescendentOf = vr.primaryBlock.Hash

	case vr.primaryBlock.Number >= ghost.Number:
		findDescendentOf = estimate.Hash

	default:
		ancestry, err := vr.environment.Ancestry(estimate.Hash, ghost.Hash)
		switch {
		case errors.Is(err, ErrNotDescendent):
			logger.Warn("possible case of massive equivocation: previous round prevote-GHOST is not a descendant of previous round estimate")
			findDescendentOf = estimate.Hash
		case err != nil:
			return nil, err
		default:
			toSub := vr.primaryBlock.Number + one[Number]()
			var offset int
			if ghost.Number < toSub {
				offset = 0
			} else {
				offset = int(ghost.Number - toSub)
			}
			if offset < len(ancestry) && ancestry[offset] == vr.primaryBlock.Hash {
				findDescendentOf = vr.primaryBlock.Hash
			} else {
				findDescendentOf = estimate.Hash
			}
		}
	}

	target, ok, err := vr.environment.BestChainContaining(ctx, findDescendentOf)
	if err != nil {
		return nil, err
	}
	if !ok {
		logger.WithField("block", findDescendentOf).Warn("could not cast prevote: previously known block has disappeared")
		return nil, nil
	}

	return &Prevote[Hash, Number]{TargetHash: target.Hash, TargetNumber: target.Number}, nil
}

// precommit casts this round's precommit once the previous round's
// estimate is equal to or an ancestor of the current prevote-GHOST, and
// either the timer fired or the round is already completable.
func (vr *VotingRound[Hash, Number, ID, Sig]) precommit(ctx context.Context, timerReady bool) (bool, error) {
	estimate := vr.previousRoundState.Estimate
	if estimate == nil {
		panic("grandpa: rounds only started when prior round is completable; qed")
	}

	ghost := vr.round.PrevoteGhost()
	estimateBehindGhost := ghost != nil && (*ghost == *estimate || vr.environment.IsEqualOrDescendentOf(estimate.Hash, ghost.Hash))

	shouldPrecommit := estimateBehindGhost && (timerReady || vr.round.Completable())
	if !shouldPrecommit {
		return false, nil
	}

	if vr.voting.isActive() {
		target := vr.constructPrecommit()
		vr.round.SetPrecommittedIndex()
		if err := vr.environment.Precommitted(vr.round.Number(), target); err != nil {
			logger.WithError(err).Warn("precommitted hook failed")
		}
		if err := vr.environment.Send(ctx, vr.outgoing, NewPrecommitMessage(target)); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (vr *VotingRound[Hash, Number, ID, Sig]) constructPrecommit() Precommit[Hash, Number] {
	target := vr.round.Base()
	if ghost := vr.round.PrevoteGhost(); ghost != nil {
		target = *ghost
	}
	return Precommit[Hash, Number]{TargetHash: target.Hash, TargetNumber: target.Number}
}

// isCompletable reports whether this round can stop: it must itself be
// completable and finalized, and the previous round's estimate must have
// been finalized already or be finalized by this round.
func (vr *VotingRound[Hash, Number, ID, Sig]) isCompletable() bool {
	if !vr.round.Completable() || vr.round.Finalized() == nil {
		return false
	}

	prevEstimate := vr.previousRoundState.Estimate
	if prevEstimate == nil {
		return false
	}

	finalizedInPreviousRound := false
	if prevFinalized := vr.previousRoundState.Finalized; prevFinalized != nil {
		finalizedInPreviousRound = prevEstimate.Number <= prevFinalized.Number
	}
	finalizedInCurrentRound := vr.round.Finalized().Number >= prevEstimate.Number
	return finalizedInPreviousRound || finalizedInCurrentRound
}
