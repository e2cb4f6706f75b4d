package recognizer

import (
	"sort"

	"github.com/verte-zerg/glide/internal/lexicon"
	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/spatial"
)

// path is one live partial word. It is addressed by its index in the
// current beam generation; words are recovered from the trie node, so paths
// carry no back-pointers.
type path struct {
	node       lexicon.NodeID
	depth      int
	last       model.Point
	lastSample int
	cost       float64 // aligned cost up to lastSample
	tail       float64 // deviation of samples after lastSample from the last key
}

func (p path) total() float64 { return p.cost + p.tail }

// beam holds two arenas and swaps them every sample.
type beam struct {
	m       *spatial.Model
	trie    *lexicon.Trie
	samples []model.Point
	width   int

	live []path
	next []path
	seen map[lexicon.NodeID]int32
}

func newBeam(m *spatial.Model, t *lexicon.Trie, samples []model.Point, width int) *beam {
	return &beam{
		m:       m,
		trie:    t,
		samples: samples,
		width:   width,
		seen:    make(map[lexicon.NodeID]int32),
	}
}

// seed aligns first letters with the first sample.
func (b *beam) seed() {
	b.next = b.next[:0]
	clear(b.seen)
	s0 := b.samples[0]
	for _, e := range b.trie.Edges(lexicon.Root) {
		center, ok := b.m.KeyFor(e.Letter)
		if !ok || !b.m.Plausible(s0, center) {
			continue
		}
		b.push(path{
			node:  e.Child,
			depth: 1,
			last:  center,
			cost:  b.m.PointCost(s0, center),
		})
	}
	b.commit()
}

// step advances every live path over sample i.
func (b *beam) step(i int) {
	b.next = b.next[:0]
	clear(b.seen)
	s := b.samples[i]
	for h := range b.live {
		p := b.live[h]
		p.tail += b.m.SampleDeviation(s, p.last, p.last)
		b.push(p)
		b.extend(b.live[h], i)
	}
	b.commit()
}

func (b *beam) extend(p path, i int) {
	s := b.samples[i]
	for _, e := range b.trie.Edges(p.node) {
		center, ok := b.m.KeyFor(e.Letter)
		if !ok || center == p.last {
			continue
		}
		if !b.m.Plausible(s, center) {
			continue
		}
		cost := p.cost + b.m.PointCost(s, center)
		if p.lastSample+1 < i {
			cost += b.m.SegmentCost(b.samples[p.lastSample+1:i], p.last, center)
		}
		b.push(path{
			node:       e.Child,
			depth:      p.depth + 1,
			last:       center,
			lastSample: i,
			cost:       cost,
		})
	}
}

// push adds p to the next generation, then follows letters that need no
// movement: keyless letters and repeats of the current key.
func (b *beam) push(p path) {
	stack := []path{p}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if idx, ok := b.seen[cur.node]; ok {
			if b.next[idx].total() <= cur.total() {
				continue
			}
			b.next[idx] = cur
		} else {
			b.seen[cur.node] = int32(len(b.next))
			b.next = append(b.next, cur)
		}
		for _, e := range b.trie.Edges(cur.node) {
			center, ok := b.m.KeyFor(e.Letter)
			if ok && center != cur.last {
				continue
			}
			child := cur
			child.node = e.Child
			child.depth++
			stack = append(stack, child)
		}
	}
}

// commit keeps the best width paths per prefix length and swaps arenas.
func (b *beam) commit() {
	sort.Slice(b.next, func(i, j int) bool {
		if b.next[i].depth != b.next[j].depth {
			return b.next[i].depth < b.next[j].depth
		}
		return b.next[i].total() < b.next[j].total()
	})
	kept := b.next[:0]
	depth, count := -1, 0
	for _, p := range b.next {
		if p.depth != depth {
			depth, count = p.depth, 0
		}
		if count >= b.width {
			continue
		}
		count++
		kept = append(kept, p)
	}
	b.live, b.next = kept, b.live
}

// words returns live paths that end on a whole word.
func (b *beam) words() []hypothesis {
	var out []hypothesis
	for _, p := range b.live {
		entry, ok := b.trie.Entry(p.node)
		if !ok || entry.Shortcut {
			continue
		}
		out = append(out, hypothesis{entry: entry, cost: p.total()})
	}
	return out
}

type hypothesis struct {
	entry model.LexiconEntry
	cost  float64
}
