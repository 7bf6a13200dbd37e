// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import "golang.org/x/exp/constraints"

// Prevote is a vote for the best chain containing a given block.
type Prevote[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	TargetHash   Hash
	TargetNumber Number
}

// Precommit commits to finalizing a given block, conditional on it
// gathering supermajority precommit weight.
type Precommit[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	TargetHash   Hash
	TargetNumber Number
}

// PrimaryPropose is the round primary's non-binding hint of the previous
// round's estimate, broadcast to help other voters converge quickly.
type PrimaryPropose[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	TargetHash   Hash
	TargetNumber Number
}

// Target returns the (hash, number) any of the three message kinds vote for.
func (p Prevote[Hash, Number]) Target() HashNumber[Hash, Number] {
	return HashNumber[Hash, Number]{Hash: p.TargetHash, Number: p.TargetNumber}
}

// Target returns the (hash, number) any of the three message kinds vote for.
func (p Precommit[Hash, Number]) Target() HashNumber[Hash, Number] {
	return HashNumber[Hash, Number]{Hash: p.TargetHash, Number: p.TargetNumber}
}

// Target returns the (hash, number) any of the three message kinds vote for.
func (p PrimaryPropose[Hash, Number]) Target() HashNumber[Hash, Number] {
	return HashNumber[Hash, Number]{Hash: p.TargetHash, Number: p.TargetNumber}
}

// messageKind discriminates the payload carried by a Message.
type messageKind int

const (
	messageKindPrevote messageKind = iota
	messageKindPrecommit
	messageKindPrimaryPropose
)

// Message is the sum type { Prevote, Precommit, PrimaryPropose } a voter
// broadcasts during a round. Exactly one of the three constructors below
// should be used to build one.
type Message[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	kind           messageKind
	prevote        Prevote[Hash, Number]
	precommit      Precommit[Hash, Number]
	primaryPropose PrimaryPropose[Hash, Number]
}

// NewPrevoteMessage wraps a Prevote as a Message.
func NewPrevoteMessage[Hash constraints.Ordered, Number constraints.Unsigned](p Prevote[Hash, Number]) Message[Hash, Number] {
	return Message[Hash, Number]{kind: messageKindPrevote, prevote: p}
}

// NewPrecommitMessage wraps a Precommit as a Message.
func NewPrecommitMessage[Hash constraints.Ordered, Number constraints.Unsigned](p Precommit[Hash, Number]) Message[Hash, Number] {
	return Message[Hash, Number]{kind: messageKindPrecommit, precommit: p}
}

// NewPrimaryProposeMessage wraps a PrimaryPropose as a Message.
func NewPrimaryProposeMessage[Hash constraints.Ordered, Number constraints.Unsigned](p PrimaryPropose[Hash, Number]) Message[Hash, Number] {
	return Message[Hash, Number]{kind: messageKindPrimaryPropose, primaryPropose: p}
}

// AsPrevote returns the wrapped Prevote and true if this message carries one.
func (m Message[Hash, Number]) AsPrevote() (Prevote[Hash, Number], bool) {
	return m.prevote, m.kind == messageKindPrevote
}

// AsPrecommit returns the wrapped Precommit and true if this message carries one.
func (m Message[Hash, Number]) AsPrecommit() (Precommit[Hash, Number], bool) {
	return m.precommit, m.kind == messageKindPrecommit
}

// AsPrimaryPropose returns the wrapped PrimaryPropose and true if this
// message carries one.
func (m Message[Hash, Number]) AsPrimaryPropose() (PrimaryPropose[Hash, Number], bool) {
	return m.primaryPropose, m.kind == messageKindPrimaryPropose
}

// Target returns the (hash, number) the wrapped vote targets.
func (m Message[Hash, Number]) Target() HashNumber[Hash, Number] {
	switch m.kind {
	case messageKindPrevote:
		return m.prevote.Target()
	case messageKindPrecommit:
		return m.precommit.Target()
	default:
		return m.primaryPropose.Target()
	}
}

// SignedMessage pairs a Message with the signature and identity of its caster.
type SignedMessage[Hash constraints.Ordered, Number constraints.Unsigned, ID comparable, Sig any] struct {
	Message   Message[Hash, Number]
	Signature Sig
	ID        ID
}

// Equivocation records a voter having cast two distinct votes of the same
// kind in the same round.
type Equivocation[ID comparable, Vote any, Sig any] struct {
	RoundNumber uint64
	Identity    ID
	FirstVote   Vote
	FirstSig    Sig
	SecondVote  Vote
	SecondSig   Sig
}
