// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVoterSet_ThresholdIsSupermajority(t *testing.T) {
	tests := []struct {
		name      string
		weights   []uint64
		total     uint64
		threshold uint64
	}{
		{name: "four equal voters", weights: []uint64{1, 1, 1, 1}, total: 4, threshold: 3},
		{name: "seven equal voters", weights: []uint64{1, 1, 1, 1, 1, 1, 1}, total: 7, threshold: 5},
		{name: "single voter", weights: []uint64{1}, total: 1, threshold: 1},
		{name: "weighted voters", weights: []uint64{3, 2, 2, 3}, total: 10, threshold: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			voters := make([]VoterInfo[int], len(tt.weights))
			for i, w := range tt.weights {
				voters[i] = VoterInfo[int]{ID: i, Weight: w}
			}
			vs := NewVoterSet(voters)
			require.Equal(t, tt.total, vs.Total())
			require.Equal(t, tt.threshold, vs.Threshold())
		})
	}
}

func TestVoterSet_ContainsAndWeight(t *testing.T) {
	vs := NewVoterSet([]VoterInfo[string]{
		{ID: "alice", Weight: 5},
		{ID: "bob", Weight: 3},
	})

	require.True(t, vs.Contains("alice"))
	require.False(t, vs.Contains("carol"))

	w, ok := vs.Weight("bob")
	require.True(t, ok)
	require.Equal(t, uint64(3), w)

	_, ok = vs.Weight("carol")
	require.False(t, ok)
}

func TestVoterSet_PrimaryVoterRoundRobins(t *testing.T) {
	vs := NewVoterSet([]VoterInfo[string]{
		{ID: "alice", Weight: 1},
		{ID: "bob", Weight: 1},
		{ID: "carol", Weight: 1},
	})

	require.Equal(t, "alice", vs.PrimaryVoter(0))
	require.Equal(t, "bob", vs.PrimaryVoter(1))
	require.Equal(t, "carol", vs.PrimaryVoter(2))
	require.Equal(t, "alice", vs.PrimaryVoter(3))
}

func TestVoterSet_PanicsOnEmpty(t *testing.T) {
	require.Panics(t, func() {
		NewVoterSet([]VoterInfo[string]{})
	})
}

func TestVoterSet_PanicsOnDuplicateID(t *testing.T) {
	require.Panics(t, func() {
		NewVoterSet([]VoterInfo[string]{
			{ID: "alice", Weight: 1},
			{ID: "alice", Weight: 2},
		})
	})
}
