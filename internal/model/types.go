// Package model defines shared data structures.
package model

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
)

// Point is a position on the keyboard plane.
type Point struct {
	X float64
	Y float64
}

// Rect is an axis-aligned key region.
type Rect struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Width returns the horizontal extent of the rect.
func (r Rect) Width() float64 { return r.MaxX - r.MinX }

// TouchPoint is one recorded sample of a gesture trace.
type TouchPoint struct {
	X    float64
	Y    float64
	Time time.Duration
}

// Point drops the timestamp.
func (p TouchPoint) Point() Point {
	return Point{X: p.X, Y: p.Y}
}

// Key is a single key of a keyboard layout.
type Key struct {
	Label  string
	Bounds Rect
	Center Point
}

// KeyGeometry is an immutable snapshot of a keyboard layout.
type KeyGeometry struct {
	Layout string
	Keys   []Key

	index    map[rune]int
	keyWidth float64
}

// NewKeyGeometry indexes keys by their lowercased single-rune labels.
// Keys with a zero center get the center of their bounds.
func NewKeyGeometry(layout string, keys []Key) *KeyGeometry {
	g := &KeyGeometry{
		Layout: layout,
		Keys:   make([]Key, len(keys)),
		index:  make(map[rune]int, len(keys)),
	}
	copy(g.Keys, keys)
	widths := make([]float64, 0, len(keys))
	for i := range g.Keys {
		k := &g.Keys[i]
		if k.Center == (Point{}) {
			k.Center = Point{X: (k.Bounds.MinX + k.Bounds.MaxX) / 2, Y: (k.Bounds.MinY + k.Bounds.MaxY) / 2}
		}
		if w := k.Bounds.Width(); w > 0 {
			widths = append(widths, w)
		}
		runes := []rune(strings.ToLower(k.Label))
		if len(runes) != 1 {
			continue
		}
		if _, ok := g.index[runes[0]]; !ok {
			g.index[runes[0]] = i
		}
	}
	if len(widths) > 0 {
		sort.Float64s(widths)
		g.keyWidth = widths[len(widths)/2]
	}
	return g
}

// Empty reports whether the geometry has no usable keys.
func (g *KeyGeometry) Empty() bool {
	return g == nil || len(g.Keys) == 0 || len(g.index) == 0
}

// Key looks a key up by its label.
func (g *KeyGeometry) Key(label string) (Key, bool) {
	runes := []rune(label)
	if len(runes) != 1 {
		return Key{}, false
	}
	return g.KeyForRune(runes[0])
}

// KeyForRune looks a key up by a letter, ignoring case.
func (g *KeyGeometry) KeyForRune(r rune) (Key, bool) {
	if g == nil {
		return Key{}, false
	}
	idx, ok := g.index[unicode.ToLower(r)]
	if !ok {
		return Key{}, false
	}
	return g.Keys[idx], true
}

// KeyWidth returns the median key width, the unit spatial costs are expressed in.
func (g *KeyGeometry) KeyWidth() float64 {
	if g == nil || g.keyWidth <= 0 {
		return 1
	}
	return g.keyWidth
}

// LexiconEntry is a word with its frequency weight.
type LexiconEntry struct {
	Word      string
	Frequency uint32
	Shortcut  bool
}

// SourceKind tags the origin of a lexicon. The numeric order is the default
// merge priority: main is lowest, user history is highest.
type SourceKind int

const (
	SourceMain SourceKind = iota
	SourceContacts
	SourceUserDictionary
	SourceUserHistory
)

// String returns the config name of the kind.
func (k SourceKind) String() string {
	switch k {
	case SourceMain:
		return "main"
	case SourceContacts:
		return "contacts"
	case SourceUserDictionary:
		return "user"
	case SourceUserHistory:
		return "history"
	default:
		return "unknown"
	}
}

// ParseSourceKind is the inverse of SourceKind.String.
func ParseSourceKind(name string) (SourceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "main":
		return SourceMain, true
	case "contacts":
		return SourceContacts, true
	case "user", "user-dictionary":
		return SourceUserDictionary, true
	case "history", "user-history":
		return SourceUserHistory, true
	default:
		return 0, false
	}
}

// Candidate is one ranked word hypothesis.
type Candidate struct {
	Word        string
	Score       float64
	Source      SourceKind
	Frequency   uint32
	SpatialCost float64
}

// SuggestedWords is the ranked result of one query or recognition.
type SuggestedWords struct {
	Words []Candidate
	// Partial is set when recognition stopped at its deadline.
	Partial bool
}

// Len returns the number of candidates.
func (s SuggestedWords) Len() int { return len(s.Words) }

// First returns the best candidate.
func (s SuggestedWords) First() (Candidate, bool) {
	if len(s.Words) == 0 {
		return Candidate{}, false
	}
	return s.Words[0], true
}

// Strings returns the candidate words in rank order.
func (s SuggestedWords) Strings() []string {
	out := make([]string, 0, len(s.Words))
	for _, c := range s.Words {
		out = append(out, c.Word)
	}
	return out
}

// IndexOf returns the rank of word or -1.
func (s SuggestedWords) IndexOf(word string) int {
	for i, c := range s.Words {
		if c.Word == word {
			return i
		}
	}
	return -1
}

// ComposingRegion is the editor span covered by the word being composed.
type ComposingRegion struct {
	Start  int
	Length int
}

// Distance returns the euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
