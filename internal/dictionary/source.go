package dictionary

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/store"
	"github.com/verte-zerg/glide/internal/wordlist"
)

// Source loads the words of one dictionary kind for a locale.
type Source interface {
	Name() string
	Kind() model.SourceKind
	Load(ctx context.Context, locale string) (Contents, error)
}

// Contents is what a source yields for one locale.
type Contents struct {
	Entries []model.LexiconEntry
	Bigrams map[[2]string]uint32
}

// Persister is implemented by sources that accept learned usage. Stores
// built from a Persister source are writable.
type Persister interface {
	PersistWord(ctx context.Context, locale, word string, frequency uint32) error
	PersistBigram(ctx context.Context, locale, prev, next string, frequency uint32) error
}

// FileSource reads <Dir>/<locale>.txt word lists.
type FileSource struct {
	Dir        string
	SourceKind model.SourceKind
}

// NewFileSource returns a file-backed source of the given kind.
func NewFileSource(dir string, kind model.SourceKind) *FileSource {
	return &FileSource{Dir: dir, SourceKind: kind}
}

// Name implements Source.
func (s *FileSource) Name() string { return s.SourceKind.String() + ":" + s.Dir }

// Kind implements Source.
func (s *FileSource) Kind() model.SourceKind { return s.SourceKind }

// Path returns the word-list path for locale.
func (s *FileSource) Path(locale string) string {
	return filepath.Join(s.Dir, locale+".txt")
}

// Load implements Source.
func (s *FileSource) Load(ctx context.Context, locale string) (Contents, error) {
	if err := ctx.Err(); err != nil {
		return Contents{}, err
	}
	entries, err := wordlist.LoadEntries(s.Path(locale))
	if err != nil {
		return Contents{}, err
	}
	return Contents{Entries: entries}, nil
}

// HistorySource is the user-history dictionary kept in SQLite.
type HistorySource struct {
	db *store.Store
}

// NewHistorySource wraps an open history database.
func NewHistorySource(db *store.Store) *HistorySource {
	return &HistorySource{db: db}
}

// Name implements Source.
func (s *HistorySource) Name() string { return "history" }

// Kind implements Source.
func (s *HistorySource) Kind() model.SourceKind { return model.SourceUserHistory }

// Load implements Source.
func (s *HistorySource) Load(ctx context.Context, locale string) (Contents, error) {
	words, err := s.db.LoadWords(ctx, locale)
	if err != nil {
		return Contents{}, fmt.Errorf("failed to load history words: %w", err)
	}
	bigrams, err := s.db.LoadBigrams(ctx, locale)
	if err != nil {
		return Contents{}, fmt.Errorf("failed to load history bigrams: %w", err)
	}
	return Contents{Entries: words, Bigrams: bigrams}, nil
}

// PersistWord implements Persister.
func (s *HistorySource) PersistWord(ctx context.Context, locale, word string, frequency uint32) error {
	return s.db.SetWordFrequency(ctx, locale, word, frequency)
}

// PersistBigram implements Persister.
func (s *HistorySource) PersistBigram(ctx context.Context, locale, prev, next string, frequency uint32) error {
	return s.db.SetBigramFrequency(ctx, locale, prev, next, frequency)
}

// StaticSource serves fixed in-memory entries per locale.
type StaticSource struct {
	SourceKind model.SourceKind
	Locales    map[string][]model.LexiconEntry
	// Err, when set, is returned by every Load.
	Err error
}

// Name implements Source.
func (s *StaticSource) Name() string { return "static:" + s.SourceKind.String() }

// Kind implements Source.
func (s *StaticSource) Kind() model.SourceKind { return s.SourceKind }

// Load implements Source.
func (s *StaticSource) Load(_ context.Context, locale string) (Contents, error) {
	if s.Err != nil {
		return Contents{}, s.Err
	}
	entries, ok := s.Locales[locale]
	if !ok {
		return Contents{}, fmt.Errorf("no %s words for locale %q", s.SourceKind, locale)
	}
	out := make([]model.LexiconEntry, len(entries))
	copy(out, entries)
	return Contents{Entries: out}, nil
}
