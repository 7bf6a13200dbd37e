// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

// VoterInfo is one member of a VoterSet: an identity and its voting weight.
type VoterInfo[ID comparable] struct {
	ID     ID
	Weight uint64
}

// VoterSet is the fixed membership and weight table for a round. Voters
// are kept in the order given to NewVoterSet; that order determines
// round-robin primary-proposer selection.
type VoterSet[ID comparable] struct {
	order  []VoterInfo[ID]
	byID   map[ID]uint64
	total  uint64
	thresh uint64 // supermajority threshold T - f
}

// NewVoterSet builds a VoterSet from an ordered list of voters. Panics on
// a duplicate id or zero-length input: both are caller bugs, not runtime
// conditions the gadget is meant to recover from.
func NewVoterSet[ID comparable](voters []VoterInfo[ID]) VoterSet[ID] {
	if len(voters) == 0 {
		panic("grandpa: voter set must not be empty")
	}
	byID := make(map[ID]uint64, len(voters))
	var total uint64
	for _, v := range voters {
		if _, dup := byID[v.ID]; dup {
			panic("grandpa: duplicate voter id in voter set")
		}
		byID[v.ID] = v.Weight
		total += v.Weight
	}
	f := (total - 1) / 3
	return VoterSet[ID]{
		order:  append([]VoterInfo[ID]{}, voters...),
		byID:   byID,
		total:  total,
		thresh: total - f,
	}
}

// Contains reports whether id is a member of this voter set.
func (vs VoterSet[ID]) Contains(id ID) bool {
	_, ok := vs.byID[id]
	return ok
}

// Weight returns id's voting weight, or (0, false) if id is not a member.
func (vs VoterSet[ID]) Weight(id ID) (uint64, bool) {
	w, ok := vs.byID[id]
	return w, ok
}

// Total returns the sum of all voters' weight.
func (vs VoterSet[ID]) Total() uint64 {
	return vs.total
}

// Threshold returns the supermajority threshold T - f, f = floor((T-1)/3).
func (vs VoterSet[ID]) Threshold() uint64 {
	return vs.thresh
}

// Len returns the number of voters.
func (vs VoterSet[ID]) Len() int {
	return len(vs.order)
}

// PrimaryVoter returns the round-robin primary proposer for roundNumber.
func (vs VoterSet[ID]) PrimaryVoter(roundNumber uint64) ID {
	return vs.order[roundNumber%uint64(len(vs.order))].ID
}
