// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// buildForkChain returns a chain shaped:
//
//	genesis(0) -> a(1) -> b(2) -> c(3)
//	                   -> d(2) -> e(3)
func buildForkChain() *testChain {
	c := newTestChain()
	c.addBlock("a", "genesis")
	c.addBlock("b", "a")
	c.addBlock("c", "b")
	c.addBlock("d", "a")
	c.addBlock("e", "d")
	return c
}

func TestVoteGraph_InsertAlongSingleChain(t *testing.T) {
	chain := buildForkChain()
	vg := NewVoteGraph[string, uint32]("genesis", 0)

	require.NoError(t, vg.Insert("b", 2, 5, chain))
	require.NoError(t, vg.Insert("c", 3, 5, chain))

	w, ok := vg.CumulativeVote("c")
	require.True(t, ok)
	require.Equal(t, uint64(5), w.Raw())

	w, ok = vg.CumulativeVote("b")
	require.True(t, ok)
	require.Equal(t, uint64(10), w.Raw())
}

// TestVoteGraph_InsertForkNotAtNode covers inserting two votes on diverging
// leaves whose fork point ("a") was never itself voted on: the graph
// absorbs their combined weight at the nearest node it does track
// (genesis) rather than materializing an untracked intermediate block.
func TestVoteGraph_InsertForkNotAtNode(t *testing.T) {
	chain := buildForkChain()
	vg := NewVoteGraph[string, uint32]("genesis", 0)

	require.NoError(t, vg.Insert("c", 3, 5, chain))
	require.NoError(t, vg.Insert("e", 3, 7, chain))

	_, ok := vg.CumulativeVote("a")
	require.False(t, ok, "a was never voted on directly and should not become a tracked node")

	w, ok := vg.CumulativeVote("genesis")
	require.True(t, ok)
	require.Equal(t, uint64(12), w.Raw())

	wc, ok := vg.CumulativeVote("c")
	require.True(t, ok)
	require.Equal(t, uint64(5), wc.Raw())

	we, ok := vg.CumulativeVote("e")
	require.True(t, ok)
	require.Equal(t, uint64(7), we.Raw())
}

// TestVoteGraph_InsertForkAtNode covers the branch-splitting path:
// once "a" itself receives a vote, it is split out of c's ancestor
// range as its own tracked node, and a later vote on its other child
// "e" attaches directly beneath it.
func TestVoteGraph_InsertForkAtNode(t *testing.T) {
	chain := buildForkChain()
	vg := NewVoteGraph[string, uint32]("genesis", 0)

	require.NoError(t, vg.Insert("c", 3, 5, chain))
	require.NoError(t, vg.Insert("a", 1, 3, chain))
	require.NoError(t, vg.Insert("e", 3, 7, chain))

	wa, ok := vg.CumulativeVote("a")
	require.True(t, ok)
	require.Equal(t, uint64(15), wa.Raw(), "a's own vote plus both descendant branches")

	wGenesis, ok := vg.CumulativeVote("genesis")
	require.True(t, ok)
	require.Equal(t, uint64(15), wGenesis.Raw())
}

func TestVoteGraph_InsertIsOrderIndependent(t *testing.T) {
	chainA := buildForkChain()
	vgA := NewVoteGraph[string, uint32]("genesis", 0)
	require.NoError(t, vgA.Insert("c", 3, 5, chainA))
	require.NoError(t, vgA.Insert("e", 3, 7, chainA))

	chainB := buildForkChain()
	vgB := NewVoteGraph[string, uint32]("genesis", 0)
	require.NoError(t, vgB.Insert("e", 3, 7, chainB))
	require.NoError(t, vgB.Insert("c", 3, 5, chainB))

	wa, _ := vgA.CumulativeVote("genesis")
	wb, _ := vgB.CumulativeVote("genesis")
	require.Equal(t, wa.Raw(), wb.Raw())
}

func TestVoteGraph_FindGHOSTPrefersSupermajorityFork(t *testing.T) {
	chain := buildForkChain()
	vg := NewVoteGraph[string, uint32]("genesis", 0)

	require.NoError(t, vg.Insert("c", 3, 8, chain))
	require.NoError(t, vg.Insert("e", 3, 2, chain))

	ghost := vg.FindGHOST(nil, AtLeast(8))
	require.NotNil(t, ghost)
	require.Equal(t, "c", ghost.Hash)
	require.Equal(t, uint32(3), ghost.Number)
}

func TestVoteGraph_FindGHOSTFallsBackToCommonAncestor(t *testing.T) {
	chain := buildForkChain()
	vg := NewVoteGraph[string, uint32]("genesis", 0)

	require.NoError(t, vg.Insert("c", 3, 5, chain))
	require.NoError(t, vg.Insert("e", 3, 5, chain))

	// Neither fork alone reaches 8, but their common ancestor "a" does.
	ghost := vg.FindGHOST(nil, AtLeast(8))
	require.NotNil(t, ghost)
	require.Equal(t, "a", ghost.Hash)
}

func TestVoteGraph_FindAncestorWalksBackToQualifyingBlock(t *testing.T) {
	chain := buildForkChain()
	vg := NewVoteGraph[string, uint32]("genesis", 0)
	require.NoError(t, vg.Insert("c", 3, 3, chain))

	ancestor := vg.FindAncestor("c", 3, AtLeast(3))
	require.NotNil(t, ancestor)
	require.Equal(t, "c", ancestor.Hash)

	ancestor = vg.FindAncestor("c", 3, AtLeast(4))
	require.Nil(t, ancestor)
}

func TestVoteGraph_AdjustBaseMovesBackward(t *testing.T) {
	chain := buildForkChain()
	vg := NewVoteGraph[string, uint32]("a", 1)
	require.NoError(t, vg.Insert("c", 3, 4, chain))

	vg.AdjustBase([]string{"genesis"})

	base := vg.Base()
	require.Equal(t, "genesis", base.Hash)
	require.Equal(t, uint32(0), base.Number)

	w, ok := vg.CumulativeVote("genesis")
	require.True(t, ok)
	require.Equal(t, uint64(4), w.Raw())
}
