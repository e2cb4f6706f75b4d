package lexicon

import (
	"container/heap"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/verte-zerg/glide/internal/model"
)

// ErrReadOnly is returned when learning targets a read-only store.
var ErrReadOnly = errors.New("lexicon: store is read-only")

// Store is one word list tagged with its source kind and merge priority.
// Reads take a shared lock; learning updates and reloads take the exclusive lock.
type Store struct {
	kind     model.SourceKind
	priority int
	writable bool

	mu      sync.RWMutex
	trie    *Trie
	bigrams map[string]map[string]uint32
}

// Option configures a Store.
type Option func(*Store)

// WithPriority overrides the default priority derived from the source kind.
func WithPriority(p int) Option {
	return func(s *Store) { s.priority = p }
}

// Writable allows learning updates.
func Writable() Option {
	return func(s *Store) { s.writable = true }
}

// New builds a store from entries. Duplicate words keep the higher frequency.
func New(kind model.SourceKind, entries []model.LexiconEntry, opts ...Option) *Store {
	s := &Store{
		kind:     kind,
		priority: int(kind),
		bigrams:  map[string]map[string]uint32{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.trie = buildTrie(entries)
	return s
}

func buildTrie(entries []model.LexiconEntry) *Trie {
	t := newTrie(len(entries))
	for _, e := range entries {
		if e.Word == "" {
			continue
		}
		t.insert(e)
	}
	return t
}

// Kind returns the source kind.
func (s *Store) Kind() model.SourceKind { return s.kind }

// Priority returns the merge priority; higher wins.
func (s *Store) Priority() int { return s.priority }

// ReadOnly reports whether learning updates are rejected.
func (s *Store) ReadOnly() bool { return !s.writable }

// Len returns the number of words.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trie.Len()
}

// Lookup returns the entry for word.
func (s *Store) Lookup(word string) (model.LexiconEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.trie.Find(word)
	if !ok {
		return model.LexiconEntry{}, false
	}
	return s.trie.Entry(n)
}

// Entries returns a copy of all entries in insertion order.
func (s *Store) Entries() []model.LexiconEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LexiconEntry, len(s.trie.entries))
	copy(out, s.trie.entries)
	return out
}

// Read runs fn with the trie under the shared lock. fn must not retain t.
func (s *Store) Read(fn func(t *Trie)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.trie)
}

// SetFrequency sets the frequency of word, creating it when absent.
func (s *Store) SetFrequency(word string, freq uint32) error {
	if !s.writable {
		return ErrReadOnly
	}
	if word == "" {
		return errors.New("lexicon: empty word")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trie.setFrequency(word, freq); !ok {
		s.trie.insert(model.LexiconEntry{Word: word, Frequency: freq})
	}
	return nil
}

// Bump adds delta to the frequency of word, creating it when absent.
func (s *Store) Bump(word string, delta uint32) (model.LexiconEntry, error) {
	if !s.writable {
		return model.LexiconEntry{}, ErrReadOnly
	}
	if word == "" {
		return model.LexiconEntry{}, errors.New("lexicon: empty word")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.trie.Find(word)
	if ok {
		if cur, ok := s.trie.Entry(n); ok {
			e, _ := s.trie.setFrequency(word, saturatingAdd(cur.Frequency, delta))
			return e, nil
		}
	}
	e := model.LexiconEntry{Word: word, Frequency: delta}
	s.trie.insert(e)
	return e, nil
}

// BumpBigram adds delta to the count of next following prev.
func (s *Store) BumpBigram(prev, next string, delta uint32) (uint32, error) {
	if !s.writable {
		return 0, ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addBigram(prev, next, delta), nil
}

// SetBigrams loads bigram counts, replacing existing ones for the same pair.
func (s *Store) SetBigrams(counts map[[2]string]uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pair, n := range counts {
		followers, ok := s.bigrams[pair[0]]
		if !ok {
			followers = map[string]uint32{}
			s.bigrams[pair[0]] = followers
		}
		followers[pair[1]] = n
	}
}

func (s *Store) addBigram(prev, next string, delta uint32) uint32 {
	followers, ok := s.bigrams[prev]
	if !ok {
		followers = map[string]uint32{}
		s.bigrams[prev] = followers
	}
	followers[next] = saturatingAdd(followers[next], delta)
	return followers[next]
}

// Bigram returns how often next followed prev.
func (s *Store) Bigram(prev, next string) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bigrams[prev][next]
}

// PrefixLookup returns up to limit entries starting with prefix, by
// descending frequency then word. A non-positive limit returns all.
func (s *Store) PrefixLookup(prefix string, limit int) []model.LexiconEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start, ok := s.trie.Find(prefix)
	if !ok {
		return nil
	}
	if limit <= 0 {
		limit = math.MaxInt
	}

	t := s.trie
	pq := &frontier{}
	heap.Push(pq, item{freq: t.MaxFrequency(start), node: start})
	var out []model.LexiconEntry
	for pq.Len() > 0 {
		it := heap.Pop(pq).(item)
		// Drain ties with the last emitted frequency so the final sort is stable.
		if len(out) >= limit && it.freq < out[len(out)-1].Frequency {
			break
		}
		if it.leaf {
			out = append(out, t.entries[it.entry])
			continue
		}
		if idx := t.nodes[it.node].entry; idx != noEntry {
			heap.Push(pq, item{freq: t.entries[idx].Frequency, leaf: true, entry: idx})
		}
		for _, e := range t.nodes[it.node].edges {
			heap.Push(pq, item{freq: t.MaxFrequency(e.Child), node: e.Child})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Frequency == out[j].Frequency {
			return out[i].Word < out[j].Word
		}
		return out[i].Frequency > out[j].Frequency
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

type item struct {
	freq  uint32
	leaf  bool
	entry int32
	node  NodeID
}

type frontier []item

func (f frontier) Len() int { return len(f) }
func (f frontier) Less(i, j int) bool {
	if f[i].freq == f[j].freq {
		// Expand nodes first so equal-frequency words are all seen before cutting.
		return !f[i].leaf && f[j].leaf
	}
	return f[i].freq > f[j].freq
}
func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }
func (f *frontier) Push(x any)   { *f = append(*f, x.(item)) }
func (f *frontier) Pop() any {
	old := *f
	it := old[len(old)-1]
	*f = old[:len(old)-1]
	return it
}

func saturatingAdd(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}
