// Copyright 2023 ChainSafe Systems (ON)
// SPDX-License-Identifier: LGPL-3.0-only

package grandpa

import (
	"github.com/tidwall/btree"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/slices"
)

// node is an entry in the VoteGraph: a block on which cumulative vote
// weight is explicitly tracked.
type node[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	number Number
	// ancestor hashes in reverse order: ancestors[0] is the parent, and
	// the last entry is the hash of the nearest enclosing vote-node.
	ancestors   []Hash
	descendants []Hash
	cumulative  Weight
}

// inDirectAncestry reports whether (hash, num) is a direct ancestor of
// this node. nil signifies the graph must be traversed further back.
func (n node[Hash, Number]) inDirectAncestry(hash Hash, num Number) *bool {
	h := n.ancestorBlock(num)
	if h == nil {
		return nil
	}
	b := *h == hash
	return &b
}

// ancestorBlock returns the ancestor hash at the given number, or nil if
// that number is not in this node's direct ancestry.
func (n node[Hash, Number]) ancestorBlock(num Number) *Hash {
	if num >= n.number {
		return nil
	}
	offset := n.number - num - 1
	if int(offset) >= len(n.ancestors) {
		return nil
	}
	h := n.ancestors[int(offset)]
	return &h
}

// ancestorNode returns the hash of the nearest enclosing vote-node, or
// nil if this node is the graph base.
func (n node[Hash, Number]) ancestorNode() *Hash {
	if len(n.ancestors) == 0 {
		return nil
	}
	h := n.ancestors[len(n.ancestors)-1]
	return &h
}

// VoteGraph maintains a DAG of blocks which have votes attached to them,
// and cumulative vote weight accumulated along the edges from any
// tracked block down to the base.
type VoteGraph[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	entries    *btree.Map[Hash, node[Hash, Number]]
	heads      *btree.Set[Hash]
	base       Hash
	baseNumber Number
}

// NewVoteGraph creates a graph with a single entry at (baseHash, baseNumber).
func NewVoteGraph[Hash constraints.Ordered, Number constraints.Unsigned](
	baseHash Hash,
	baseNumber Number,
) *VoteGraph[Hash, Number] {
	entries := btree.NewMap[Hash, node[Hash, Number]](2)
	entries.Set(baseHash, node[Hash, Number]{
		number:      baseNumber,
		ancestors:   make([]Hash, 0),
		descendants: make([]Hash, 0),
		cumulative:  Weight{},
	})
	heads := &btree.Set[Hash]{}
	heads.Insert(baseHash)
	return &VoteGraph[Hash, Number]{
		entries:    entries,
		heads:      heads,
		base:       baseHash,
		baseNumber: baseNumber,
	}
}

// Base returns the graph's base block.
func (vg *VoteGraph[Hash, Number]) Base() HashNumber[Hash, Number] {
	return HashNumber[Hash, Number]{Hash: vg.base, Number: vg.baseNumber}
}

// CumulativeVote returns the accumulated weight tracked at hash, if any.
func (vg *VoteGraph[Hash, Number]) CumulativeVote(hash Hash) (Weight, bool) {
	n, ok := vg.entries.Get(hash)
	if !ok {
		return Weight{}, false
	}
	return n.cumulative, true
}

// Insert records vote on every tracked node on the chain to hash,
// introducing a new vote-node at (hash, number) if one is not already
// tracked, splitting an existing branch if hash falls strictly between
// already-tracked nodes.
func (vg *VoteGraph[Hash, Number]) Insert(hash Hash, number Number, vote uint64, chain Chain[Hash, Number]) error {
	containing := vg.findContainingNodes(hash, number)
	switch {
	case containing == nil:
		// entry already exists; nothing to do before the weight walk.
	case len(containing) == 0:
		if err := vg.appendNode(hash, number, chain); err != nil {
			return err
		}
	default:
		vg.introduceBranch(containing, hash, number)
	}

	// NOTE: below this point an entry with key `hash` always exists.
	inspecting := hash
	for {
		active, ok := vg.entries.Get(inspecting)
		if !ok {
			panic("vote-node and its ancestry always exist after initial phase; qed")
		}
		active.cumulative.AddVote(vote)
		vg.entries.Set(inspecting, active)

		parent := active.ancestorNode()
		if parent == nil {
			break
		}
		inspecting = *parent
	}
	return nil
}

// findContainingNodes returns nil if hash is already a tracked node, and
// otherwise the (possibly empty) set of vote-nodes whose ancestor-edge
// contains (hash, number).
func (vg *VoteGraph[Hash, Number]) findContainingNodes(hash Hash, num Number) []Hash {
	if _, ok := vg.entries.Get(hash); ok {
		return nil
	}

	containing := make([]Hash, 0)
	visited := make(map[Hash]struct{})

	for _, head := range vg.heads.Keys() {
		for {
			active, ok := vg.entries.Get(head)
			if !ok {
				break
			}
			if _, seen := visited[head]; seen {
				break
			}
			visited[head] = struct{}{}

			da := active.inDirectAncestry(hash, num)
			switch {
			case da == nil:
				if prev := active.ancestorNode(); prev != nil {
					head = *prev
					continue
				}
			case *da:
				containing = append(containing, head)
			}
			break
		}
	}
	return containing
}

// appendNode attaches a brand-new vote-node onto the chain-tree. Only
// called when no existing node's ancestry contains (hash, number).
func (vg *VoteGraph[Hash, Number]) appendNode(hash Hash, number Number, chain Chain[Hash, Number]) error {
	ancestry, err := chain.Ancestry(vg.base, hash)
	if err != nil {
		return err
	}
	ancestry = append(ancestry, vg.base)

	ancestorIndex := -1
	for i, ancestor := range ancestry {
		entry, ok := vg.entries.Get(ancestor)
		if ok {
			entry.descendants = append(entry.descendants, hash)
			vg.entries.Set(ancestor, entry)
			ancestorIndex = i
			break
		}
	}
	if ancestorIndex < 0 {
		panic("base is kept; chain returns ancestry only if the block is a descendent of base; qed")
	}

	ancestorHash := ancestry[ancestorIndex]
	ancestry = ancestry[0 : ancestorIndex+1]

	vg.entries.Set(hash, node[Hash, Number]{
		number:      number,
		ancestors:   ancestry,
		descendants: make([]Hash, 0),
		cumulative:  Weight{},
	})

	vg.heads.Delete(ancestorHash)
	vg.heads.Insert(hash)
	return nil
}

// introduceBranch splits one or more existing vote-nodes at
// (ancestorHash, ancestorNumber), introducing ancestorHash as a new,
// shared vote-node between them and their previous ancestor.
func (vg *VoteGraph[Hash, Number]) introduceBranch(descendants []Hash, ancestorHash Hash, ancestorNumber Number) {
	var newEntry *node[Hash, Number]
	var prevAncestor *Hash

	for _, descendant := range descendants {
		entry, ok := vg.entries.Get(descendant)
		if !ok {
			panic("this function only invoked with keys of vote-nodes; qed")
		}

		ida := entry.inDirectAncestry(ancestorHash, ancestorNumber)
		if ida == nil || !*ida {
			panic("entry is supposed to be in direct ancestry")
		}

		// example: splitting number 10 at ancestor 4
		// before: [9 8 7 6 5 4 3 2 1]
		// after: [9 8 7 6 5 4], [3 2 1]
		if ancestorNumber > entry.number {
			panic("this function only invoked with direct ancestors; qed")
		}
		entryPrevAncestor := entry.ancestorNode()

		offset := uint(entry.number - ancestorNumber)
		tail := entry.ancestors[offset:]
		entry.ancestors = entry.ancestors[:offset]

		if newEntry == nil {
			prevAncestor = entryPrevAncestor
			newEntry = &node[Hash, Number]{
				number:      ancestorNumber,
				ancestors:   tail,
				descendants: make([]Hash, 0),
				cumulative:  Weight{},
			}
		}
		newEntry.descendants = append(newEntry.descendants, descendant)
		newEntry.cumulative.Add(entry.cumulative)

		vg.entries.Set(descendant, entry)
	}

	if newEntry == nil {
		return
	}

	if prevAncestor != nil {
		prevNode, _ := vg.entries.Get(*prevAncestor)
		retained := make([]Hash, 0, len(prevNode.descendants))
		for _, d := range prevNode.descendants {
			if !slices.Contains(newEntry.descendants, d) {
				retained = append(retained, d)
			}
		}
		prevNode.descendants = append(retained, ancestorHash)
		vg.entries.Set(*prevAncestor, prevNode)
	}
	vg.entries.Set(ancestorHash, *newEntry)
}

func (vg *VoteGraph[Hash, Number]) mustGet(hash Hash) node[Hash, Number] {
	entry, ok := vg.entries.Get(hash)
	if !ok {
		panic("descendents always present in node storage; qed")
	}
	return entry
}

// subChain is a forward-ordered run of hashes ending at the heaviest
// descendent reached so far, used internally by FindGHOST's merge-point walk.
type subChain[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	hashes     []Hash
	bestNumber Number
}

func (sc subChain[Hash, Number]) best() *HashNumber[Hash, Number] {
	if len(sc.hashes) == 0 {
		return nil
	}
	return &HashNumber[Hash, Number]{Hash: sc.hashes[len(sc.hashes)-1], Number: sc.bestNumber}
}

type hashWeight[Hash constraints.Ordered] struct {
	hash   Hash
	weight Weight
}

// ghostFindMergePoint finds, starting from nodeKey/activeNode (which
// already satisfies condition), the highest point at which its
// qualifying descendents merge — possibly the node itself.
func (vg *VoteGraph[Hash, Number]) ghostFindMergePoint( //nolint:gocyclo
	nodeKey Hash,
	activeNode *node[Hash, Number],
	forceConstrain *HashNumber[Hash, Number],
	condition func(Weight) bool,
) subChain[Hash, Number] {
	var descendantNodes []node[Hash, Number]
	for _, d := range activeNode.descendants {
		if forceConstrain == nil {
			descendantNodes = append(descendantNodes, vg.mustGet(d))
			continue
		}
		ida := vg.mustGet(d).inDirectAncestry(forceConstrain.Hash, forceConstrain.Number)
		if ida != nil && *ida {
			descendantNodes = append(descendantNodes, vg.mustGet(d))
		}
	}

	baseNumber := activeNode.number
	bestNumber := activeNode.number
	descendantBlocks := make([]hashWeight[Hash], 0)
	hashes := []Hash{nodeKey}

	var offset Number
	for {
		offset++

		var newBest *Hash
		for _, dNode := range descendantNodes {
			dBlock := dNode.ancestorBlock(baseNumber + offset)
			if dBlock == nil {
				continue
			}

			idx, found := slices.BinarySearchFunc(descendantBlocks, hashWeight[Hash]{hash: *dBlock},
				func(a, b hashWeight[Hash]) int {
					switch {
					case a.hash == b.hash:
						return 0
					case a.hash > b.hash:
						return 1
					default:
						return -1
					}
				})

			if found {
				descendantBlocks[idx].weight.Add(dNode.cumulative)
				if condition(descendantBlocks[idx].weight) {
					newBest = dBlock
					break
				}
			} else {
				entry := hashWeight[Hash]{hash: *dBlock, weight: dNode.cumulative.Copy()}
				descendantBlocks = slices.Insert(descendantBlocks, idx, entry)
			}
		}

		if newBest == nil {
			break
		}

		bestNumber++
		descendantBlocks = descendantBlocks[:0]
		retained := make([]node[Hash, Number], 0, len(descendantNodes))
		for _, d := range descendantNodes {
			if ida := d.inDirectAncestry(*newBest, bestNumber); ida != nil && *ida {
				retained = append(retained, d)
			}
		}
		descendantNodes = retained
		hashes = append(hashes, *newBest)
	}

	return subChain[Hash, Number]{hashes: hashes, bestNumber: bestNumber}
}

type hashNode[Hash constraints.Ordered, Number constraints.Unsigned] struct {
	hash Hash
	node node[Hash, Number]
}

// FindGHOST finds the highest block for which condition holds over the
// cumulative vote of its chain, starting the search from currentBest (or
// the graph base if nil). It assumes condition can hold for at most one
// child of any given node (only one fork can be "heavy" enough).
// Returns nil if currentBest itself no longer satisfies condition.
func (vg *VoteGraph[Hash, Number]) FindGHOST( //nolint:gocyclo
	currentBest *HashNumber[Hash, Number],
	condition func(Weight) bool,
) *HashNumber[Hash, Number] {
	getNode := func(hash Hash) node[Hash, Number] { return vg.mustGet(hash) }

	var nodeKey Hash
	var forceConstrain bool

	switch {
	case currentBest == nil:
		nodeKey = vg.base
	default:
		containing := vg.findContainingNodes(currentBest.Hash, currentBest.Number)
		switch {
		case containing == nil:
			nodeKey = currentBest.Hash
		case len(containing) > 0:
			ancestor := getNode(containing[0]).ancestorNode()
			if ancestor == nil {
				panic("node containing non-node in history always has ancestor; qed")
			}
			nodeKey = *ancestor
			forceConstrain = true
		default:
			nodeKey = vg.base
		}
	}

	active := getNode(nodeKey)
	if !condition(active.cumulative) {
		return nil
	}

	for {
		var next *hashNode[Hash, Number]
		for _, d := range active.descendants {
			if forceConstrain && currentBest != nil {
				n := getNode(d)
				ida := n.inDirectAncestry(currentBest.Hash, currentBest.Number)
				if ida == nil || !*ida {
					continue
				}
			}
			n := getNode(d)
			if condition(n.cumulative) {
				next = &hashNode[Hash, Number]{hash: d, node: n}
				break
			}
		}

		if next == nil {
			break
		}
		forceConstrain = false
		nodeKey = next.hash
		active = next.node
	}

	var hint *HashNumber[Hash, Number]
	if forceConstrain {
		hint = currentBest
	}
	return vg.ghostFindMergePoint(nodeKey, &active, hint, condition).best()
}

// FindAncestor finds the highest-numbered block in the chain ending at
// (hash, number) for which condition holds, or nil if hash is not in the
// graph or no ancestor satisfies condition.
func (vg *VoteGraph[Hash, Number]) FindAncestor(hash Hash, number Number, condition func(Weight) bool) *HashNumber[Hash, Number] {
	for {
		children := vg.findContainingNodes(hash, number)
		if children == nil {
			entry := vg.mustGet(hash)
			if condition(entry.cumulative) {
				return &HashNumber[Hash, Number]{Hash: hash, Number: number}
			}
			if len(entry.ancestors) == 0 {
				return nil
			}
			hash = entry.ancestors[0]
			number--
			continue
		}

		if len(children) == 0 {
			return nil
		}

		var acc Weight
		for _, c := range children {
			acc.Add(vg.mustGet(c).cumulative)
		}
		if condition(acc) {
			return &HashNumber[Hash, Number]{Hash: hash, Number: number}
		}

		child := children[len(children)-1]
		entry := vg.mustGet(child)
		offset := int(entry.number - number)
		if offset >= len(entry.ancestors) {
			return nil
		}
		hash = entry.ancestors[offset]
		number--
	}
}

// AdjustBase moves the graph's base to an ancestor of the current base.
// ancestryProof must be in reverse order starting from the old base's
// parent and ending at the new base (inclusive).
func (vg *VoteGraph[Hash, Number]) AdjustBase(ancestryProof []Hash) {
	if len(ancestryProof) == 0 {
		return
	}
	if Number(len(ancestryProof)) > vg.baseNumber {
		return
	}

	newHash := ancestryProof[len(ancestryProof)-1]
	newNumber := vg.baseNumber - Number(len(ancestryProof))

	old := vg.mustGet(vg.base)
	old.ancestors = append(old.ancestors, ancestryProof...)
	vg.entries.Set(vg.base, old)

	vg.entries.Set(newHash, node[Hash, Number]{
		number:      newNumber,
		ancestors:   make([]Hash, 0),
		descendants: []Hash{vg.base},
		cumulative:  old.cumulative.Copy(),
	})
	vg.base = newHash
	vg.baseNumber = newNumber
}
