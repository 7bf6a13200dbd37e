// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func fourVoterSet() VoterSet[string] {
	return NewVoterSet([]VoterInfo[string]{
		{ID: "alice", Weight: 1},
		{ID: "bob", Weight: 1},
		{ID: "carol", Weight: 1},
		{ID: "dave", Weight: 1},
	})
}

func newTestRound(t *testing.T) (*Round[string, string, uint32, string], *testEnvironment) {
	t.Helper()
	chain := buildForkChain()
	env := newTestEnvironment(chain)
	round := NewRound[string, string, uint32, string](RoundParams[string, string, uint32]{
		RoundNumber: 1,
		Voters:      fourVoterSet(),
		Base:        HashNumber[string, uint32]{Hash: "genesis", Number: 0},
	})
	return round, env
}

func TestRound_ImportPrevoteAccumulatesWeightAndGhost(t *testing.T) {
	ctx := context.Background()
	round, env := newTestRound(t)

	for _, voter := range []string{"alice", "bob", "carol"} {
		_, err := round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "c", TargetNumber: 3}, voter, validSig(voter))
		require.NoError(t, err)
	}

	ghost := round.PrevoteGhost()
	require.NotNil(t, ghost)
	require.Equal(t, "c", ghost.Hash)
}

func TestRound_ImportPrevoteRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	round, env := newTestRound(t)

	_, err := round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "c", TargetNumber: 3}, "alice", "not-a-valid-sig")
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestRound_ImportPrevoteRejectsNonVoter(t *testing.T) {
	ctx := context.Background()
	round, env := newTestRound(t)

	_, err := round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "c", TargetNumber: 3}, "mallory", validSig("mallory"))
	require.ErrorIs(t, err, ErrNotAVoter)
}

func TestRound_ImportPrevoteRejectsExactDuplicate(t *testing.T) {
	ctx := context.Background()
	round, env := newTestRound(t)

	vote := Prevote[string, uint32]{TargetHash: "c", TargetNumber: 3}
	_, err := round.ImportPrevote(ctx, env, vote, "alice", validSig("alice"))
	require.NoError(t, err)

	_, err = round.ImportPrevote(ctx, env, vote, "alice", validSig("alice"))
	require.ErrorIs(t, err, ErrDuplicateVote)
}

func TestRound_ImportPrevoteDetectsEquivocation(t *testing.T) {
	ctx := context.Background()
	round, env := newTestRound(t)

	_, err := round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "c", TargetNumber: 3}, "alice", validSig("alice"))
	require.NoError(t, err)

	result, err := round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "e", TargetNumber: 3}, "alice", validSig("alice"))
	require.NoError(t, err)
	require.NotNil(t, result.Equivocation)
	require.Equal(t, "alice", result.Equivocation.Identity)

	// a further, even-different vote from the same equivocator is a no-op.
	result, err = round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "b", TargetNumber: 2}, "alice", validSig("alice"))
	require.NoError(t, err)
	require.Nil(t, result.Equivocation)
	require.False(t, result.Imported)
}

func TestRound_FinalizedNeverExceedsPrevoteGhost(t *testing.T) {
	ctx := context.Background()
	round, env := newTestRound(t)

	for _, voter := range []string{"alice", "bob", "carol"} {
		_, err := round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "c", TargetNumber: 3}, voter, validSig(voter))
		require.NoError(t, err)
	}
	for _, voter := range []string{"alice", "bob", "carol"} {
		_, err := round.ImportPrecommit(ctx, env, Precommit[string, uint32]{TargetHash: "c", TargetNumber: 3}, voter, validSig(voter))
		require.NoError(t, err)
	}

	ghost := round.PrevoteGhost()
	finalized := round.Finalized()
	require.NotNil(t, ghost)
	require.NotNil(t, finalized)
	require.LessOrEqual(t, finalized.Number, ghost.Number)
	require.True(t, round.Completable())
}

func TestRound_CompletableFalseBeforeSupermajority(t *testing.T) {
	ctx := context.Background()
	round, env := newTestRound(t)

	_, err := round.ImportPrevote(ctx, env, Prevote[string, uint32]{TargetHash: "c", TargetNumber: 3}, "alice", validSig("alice"))
	require.NoError(t, err)

	require.False(t, round.Completable())
	require.Nil(t, round.Finalized())
}
