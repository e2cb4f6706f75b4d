package lexicon

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/verte-zerg/glide/internal/model"
)

func TestNewKeepsWordsUnique(t *testing.T) {
	s := New(model.SourceMain, []model.LexiconEntry{
		{Word: "the", Frequency: 10},
		{Word: "then", Frequency: 4},
		{Word: "the", Frequency: 100},
	})
	if s.Len() != 2 {
		t.Fatalf("expected 2 words, got %d", s.Len())
	}
	e, ok := s.Lookup("the")
	if !ok || e.Frequency != 100 {
		t.Fatalf("expected the=100, got %+v ok=%v", e, ok)
	}
	entries := s.Entries()
	if entries[0].Word != "the" || entries[1].Word != "then" {
		t.Fatalf("unexpected insertion order: %+v", entries)
	}
}

func TestPrefixLookupOrder(t *testing.T) {
	s := New(model.SourceMain, []model.LexiconEntry{
		{Word: "to", Frequency: 50},
		{Word: "the", Frequency: 100},
		{Word: "then", Frequency: 10},
		{Word: "they", Frequency: 10},
		{Word: "a", Frequency: 200},
	})
	got := s.PrefixLookup("th", 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Word != "the" || got[1].Word != "then" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if all := s.PrefixLookup("", 0); len(all) != 5 || all[0].Word != "a" {
		t.Fatalf("unexpected full lookup: %+v", all)
	}
	if none := s.PrefixLookup("x", 5); none != nil {
		t.Fatalf("expected nil for unknown prefix, got %+v", none)
	}
}

func TestBumpReadOnly(t *testing.T) {
	s := New(model.SourceMain, nil)
	if _, err := s.Bump("hello", 1); err != ErrReadOnly {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestBumpCreatesAndIncrements(t *testing.T) {
	s := New(model.SourceUserHistory, nil, Writable())
	for i := 0; i < 3; i++ {
		if _, err := s.Bump("glide", 2); err != nil {
			t.Fatalf("bump: %v", err)
		}
	}
	e, ok := s.Lookup("glide")
	if !ok || e.Frequency != 6 {
		t.Fatalf("expected glide=6, got %+v ok=%v", e, ok)
	}
	if got := s.PrefixLookup("gl", 1); len(got) != 1 || got[0].Frequency != 6 {
		t.Fatalf("prefix lookup did not see bump: %+v", got)
	}
}

func TestBumpUniquenessUnderConcurrency(t *testing.T) {
	s := New(model.SourceUserHistory, nil, Writable())
	words := []string{"a", "ab", "abc", "b"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = s.Bump(words[j%len(words)], 1)
				_ = s.PrefixLookup("a", 3)
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, e := range s.Entries() {
		if seen[e.Word] {
			t.Fatalf("duplicate entry %q", e.Word)
		}
		seen[e.Word] = true
	}
	if len(seen) != len(words) {
		t.Fatalf("expected %d words, got %d", len(words), len(seen))
	}
	var total uint32
	for _, e := range s.Entries() {
		total += e.Frequency
	}
	if total != 8*50 {
		t.Fatalf("expected total frequency %d, got %d", 8*50, total)
	}
}

func TestSetFrequency(t *testing.T) {
	s := New(model.SourceUserHistory, []model.LexiconEntry{{Word: "glide", Frequency: 50}}, Writable())
	if err := s.SetFrequency("glide", 51); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetFrequency("swipe", 3); err != nil {
		t.Fatalf("set new: %v", err)
	}
	if e, _ := s.Lookup("glide"); e.Frequency != 51 {
		t.Fatalf("expected 51, got %d", e.Frequency)
	}
	if e, ok := s.Lookup("swipe"); !ok || e.Frequency != 3 {
		t.Fatalf("expected swipe=3, got %v %v", e, ok)
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 words, got %d", s.Len())
	}
	if err := s.SetFrequency("", 1); err == nil {
		t.Fatalf("expected error for empty word")
	}
	ro := New(model.SourceMain, nil)
	if err := ro.SetFrequency("glide", 1); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestBigrams(t *testing.T) {
	s := New(model.SourceUserHistory, nil, Writable())
	if _, err := s.BumpBigram("good", "morning", 3); err != nil {
		t.Fatalf("bump bigram: %v", err)
	}
	s.SetBigrams(map[[2]string]uint32{{"good", "night"}: 2})
	if got := s.Bigram("good", "morning"); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := s.Bigram("good", "night"); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestTrieWalk(t *testing.T) {
	var entries []model.LexiconEntry
	for i := 0; i < 26; i++ {
		entries = append(entries, model.LexiconEntry{Word: fmt.Sprintf("x%c", 'a'+i), Frequency: uint32(i + 1)})
	}
	s := New(model.SourceMain, entries)
	s.Read(func(tr *Trie) {
		n, ok := tr.Child(Root, 'x')
		if !ok {
			t.Fatalf("missing x edge")
		}
		edges := tr.Edges(n)
		if len(edges) != 26 || edges[0].Letter != 'a' || edges[25].Letter != 'z' {
			t.Fatalf("edges not sorted: %+v", edges)
		}
		if tr.MaxFrequency(n) != 26 {
			t.Fatalf("expected subtree max 26, got %d", tr.MaxFrequency(n))
		}
		if _, ok := tr.Entry(n); ok {
			t.Fatalf("x is not a word")
		}
	})
}
