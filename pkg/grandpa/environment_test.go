// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"context"
)

// testEnvironment is a minimal Environment[string, uint32, string, string]
// backed by a testChain, for use across round_test.go and
// voting_round_test.go. Signatures are just strings: Verify accepts a
// signature only if it equals validSig(id). BestChainContaining resolves
// to whatever bestHeads maps a starting hash to, defaulting to the hash
// itself when it is absent there but known to the chain.
type testEnvironment struct {
	*testChain

	bestHeads map[string]HashNumber[string, uint32]

	roundData map[uint64]RoundData[string, uint32, string, string]

	proposedCalls   []PrimaryPropose[string, uint32]
	prevotedCalls   []Prevote[string, uint32]
	precommitCalls  []Precommit[string, uint32]
	prevoteEquivs   []Equivocation[string, Prevote[string, uint32], string]
	precommitEquivs []Equivocation[string, Precommit[string, uint32], string]
	sent            []Message[string, uint32]
}

func newTestEnvironment(chain *testChain) *testEnvironment {
	return &testEnvironment{
		testChain: chain,
		bestHeads: map[string]HashNumber[string, uint32]{},
		roundData: map[uint64]RoundData[string, uint32, string, string]{},
	}
}

func (e *testEnvironment) RoundData(ctx context.Context, roundNumber uint64) (RoundData[string, uint32, string, string], error) {
	if rd, ok := e.roundData[roundNumber]; ok {
		return rd, nil
	}
	return RoundData[string, uint32, string, string]{}, nil
}

func (e *testEnvironment) BestChainContaining(ctx context.Context, hash string) (HashNumber[string, uint32], bool, error) {
	if best, ok := e.bestHeads[hash]; ok {
		return best, true, nil
	}
	num, ok := e.number[hash]
	if !ok {
		return HashNumber[string, uint32]{}, false, nil
	}
	return HashNumber[string, uint32]{Hash: hash, Number: num}, true, nil
}

func (e *testEnvironment) Verify(id string, msg Message[string, uint32], sig string) (bool, error) {
	return sig == "valid:"+id, nil
}

func (e *testEnvironment) Send(ctx context.Context, out chan<- Message[string, uint32], msg Message[string, uint32]) error {
	e.sent = append(e.sent, msg)
	if out != nil {
		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *testEnvironment) Proposed(round uint64, propose PrimaryPropose[string, uint32]) error {
	e.proposedCalls = append(e.proposedCalls, propose)
	return nil
}

func (e *testEnvironment) Prevoted(round uint64, prevote Prevote[string, uint32]) error {
	e.prevotedCalls = append(e.prevotedCalls, prevote)
	return nil
}

func (e *testEnvironment) Precommitted(round uint64, precommit Precommit[string, uint32]) error {
	e.precommitCalls = append(e.precommitCalls, precommit)
	return nil
}

func (e *testEnvironment) PrevoteEquivocation(round uint64, eq Equivocation[string, Prevote[string, uint32], string]) {
	e.prevoteEquivs = append(e.prevoteEquivs, eq)
}

func (e *testEnvironment) PrecommitEquivocation(round uint64, eq Equivocation[string, Precommit[string, uint32], string]) {
	e.precommitEquivs = append(e.precommitEquivs, eq)
}

func validSig(id string) string { return "valid:" + id }
