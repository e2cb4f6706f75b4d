// Package lexicon holds frequency-weighted word lists indexed by a prefix trie.
package lexicon

import (
	"sort"

	"github.com/verte-zerg/glide/internal/model"
)

// NodeID addresses a trie node inside its arena.
type NodeID int32

// Root is the trie root.
const Root NodeID = 0

const noEntry = -1

// Edge links a node to a child by one letter.
type Edge struct {
	Letter rune
	Child  NodeID
}

type node struct {
	edges   []Edge // sorted by Letter
	entry   int32
	maxFreq uint32 // highest frequency in the subtree
}

// Trie is an arena-allocated prefix tree. Entries keep insertion order.
type Trie struct {
	nodes   []node
	entries []model.LexiconEntry
}

func newTrie(capacity int) *Trie {
	t := &Trie{
		nodes:   make([]node, 1, capacity+1),
		entries: make([]model.LexiconEntry, 0, capacity),
	}
	t.nodes[Root].entry = noEntry
	return t
}

// Edges returns the children of n sorted by letter. Callers must not modify it.
func (t *Trie) Edges(n NodeID) []Edge {
	return t.nodes[n].edges
}

// Entry returns the word ending at n, if any.
func (t *Trie) Entry(n NodeID) (model.LexiconEntry, bool) {
	idx := t.nodes[n].entry
	if idx == noEntry {
		return model.LexiconEntry{}, false
	}
	return t.entries[idx], true
}

// MaxFrequency returns the highest frequency of any word below n.
func (t *Trie) MaxFrequency(n NodeID) uint32 {
	return t.nodes[n].maxFreq
}

// Child follows the edge labelled r.
func (t *Trie) Child(n NodeID, r rune) (NodeID, bool) {
	edges := t.nodes[n].edges
	i := sort.Search(len(edges), func(i int) bool { return edges[i].Letter >= r })
	if i < len(edges) && edges[i].Letter == r {
		return edges[i].Child, true
	}
	return 0, false
}

// Find walks the trie along s.
func (t *Trie) Find(s string) (NodeID, bool) {
	n := Root
	for _, r := range s {
		child, ok := t.Child(n, r)
		if !ok {
			return 0, false
		}
		n = child
	}
	return n, true
}

// Len returns the number of words.
func (t *Trie) Len() int {
	return len(t.entries)
}

// insert adds or updates a word. A duplicate keeps the higher frequency.
func (t *Trie) insert(e model.LexiconEntry) {
	n := Root
	path := make([]NodeID, 0, len(e.Word)+1)
	path = append(path, n)
	for _, r := range e.Word {
		child, ok := t.Child(n, r)
		if !ok {
			child = t.addChild(n, r)
		}
		n = child
		path = append(path, n)
	}
	idx := t.nodes[n].entry
	if idx == noEntry {
		t.nodes[n].entry = int32(len(t.entries))
		t.entries = append(t.entries, e)
	} else {
		cur := &t.entries[idx]
		if e.Frequency > cur.Frequency {
			cur.Frequency = e.Frequency
		}
		cur.Shortcut = cur.Shortcut && e.Shortcut
		e = *cur
	}
	t.raise(path, e.Frequency)
}

// setFrequency overwrites the frequency of an existing word ending at n.
func (t *Trie) setFrequency(word string, freq uint32) (model.LexiconEntry, bool) {
	n := Root
	path := []NodeID{n}
	for _, r := range word {
		child, ok := t.Child(n, r)
		if !ok {
			return model.LexiconEntry{}, false
		}
		n = child
		path = append(path, n)
	}
	idx := t.nodes[n].entry
	if idx == noEntry {
		return model.LexiconEntry{}, false
	}
	t.entries[idx].Frequency = freq
	t.raise(path, freq)
	return t.entries[idx], true
}

func (t *Trie) raise(path []NodeID, freq uint32) {
	for _, id := range path {
		if t.nodes[id].maxFreq < freq {
			t.nodes[id].maxFreq = freq
		}
	}
}

func (t *Trie) addChild(parent NodeID, r rune) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{entry: noEntry})
	edges := t.nodes[parent].edges
	i := sort.Search(len(edges), func(i int) bool { return edges[i].Letter >= r })
	edges = append(edges, Edge{})
	copy(edges[i+1:], edges[i:])
	edges[i] = Edge{Letter: r, Child: id}
	t.nodes[parent].edges = edges
	return id
}
