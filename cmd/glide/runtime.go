package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/verte-zerg/glide/internal/config"
	"github.com/verte-zerg/glide/internal/dictionary"
	"github.com/verte-zerg/glide/internal/gesture"
	"github.com/verte-zerg/glide/internal/layout"
	"github.com/verte-zerg/glide/internal/model"
	"github.com/verte-zerg/glide/internal/recognizer"
	"github.com/verte-zerg/glide/internal/store"
)

// runtime bundles the open history database and a loaded facilitator.
type runtime struct {
	settings config.Settings
	db       *store.Store
	dict     *dictionary.Facilitator
	geo      *model.KeyGeometry
}

func openRuntime(ctx context.Context, s config.Settings, logger *zap.Logger) (*runtime, error) {
	geo := layout.QWERTY()
	if s.LayoutPath != "" {
		loaded, err := layout.Load(s.LayoutPath)
		if err != nil {
			return nil, err
		}
		geo = loaded
	}

	db, err := store.Open(s.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}

	sources := []dictionary.Source{dictionary.NewFileSource(s.WordListDir, model.SourceMain)}
	if s.ContactDir != "" {
		sources = append(sources, dictionary.NewFileSource(s.ContactDir, model.SourceContacts))
	}
	if s.UserDir != "" {
		sources = append(sources, dictionary.NewFileSource(s.UserDir, model.SourceUserDictionary))
	}
	sources = append(sources, dictionary.NewHistorySource(db))

	rec := recognizer.New(s.Recognizer, logger.Named("recognizer"))
	dict, err := dictionary.New(s.Dictionary, sources,
		dictionary.WithLogger(logger.Named("dictionary")),
		dictionary.WithRecognizer(rec),
	)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt := &runtime{settings: s, db: db, dict: dict, geo: geo}
	select {
	case report := <-dict.LoadDictionariesForLocale(s.Locale):
		if report.Err != nil {
			rt.close(logger)
			return nil, report.Err
		}
		for _, d := range report.Failed {
			if d.Kind == model.SourceMain {
				rt.close(logger)
				return nil, wordListLoadError(s.Locale, s.WordListDir, d.Err)
			}
			logErrf("warning: %s dictionary unavailable: %v\n", d.Kind, d.Err)
		}
	case <-ctx.Done():
		rt.close(logger)
		return nil, ctx.Err()
	}
	return rt, nil
}

func (rt *runtime) close(logger *zap.Logger) {
	if err := rt.dict.Close(); err != nil {
		logger.Warn("failed to close dictionaries", zap.Error(err))
	}
	if err := rt.db.Close(); err != nil {
		logger.Warn("failed to close db", zap.Error(err))
	}
}

// openHistoryOnly opens the database without loading any dictionary.
func openHistoryOnly(s config.Settings) (*runtime, error) {
	db, err := store.Open(s.HistoryDB)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	return &runtime{settings: s, db: db}, nil
}

// gestureDeps wires the facilitator as suggester. Synthetic gestures are
// never learned.
func gestureDeps(rt *runtime) gesture.Deps {
	return gesture.Deps{
		Suggester: rt.dict,
		Logger:    logger.Named("gesture"),
		Config:    rt.settings.Gesture,
	}
}

func dictionaryQueryPrefix(prefix, previous string) dictionary.Query {
	return dictionary.Query{Prefix: prefix, PreviousWord: previous}
}

func elapsedSince(start time.Time) time.Duration {
	return time.Since(start).Round(time.Microsecond)
}
