package dictionary

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the active locale when one of its word-list files changes.
// It blocks until ctx is done or the facilitator is closed.
func (f *Facilitator) Watch(ctx context.Context) error {
	if f.closed.Load() {
		return ErrFacilitatorClosed
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	watched := map[string]bool{}
	for _, src := range f.sources {
		fs, ok := src.(*FileSource)
		if !ok || watched[fs.Dir] {
			continue
		}
		if err := w.Add(fs.Dir); err != nil {
			f.logger.Warn("cannot watch dictionary dir", zap.String("dir", fs.Dir), zap.Error(err))
			continue
		}
		watched[fs.Dir] = true
	}
	if len(watched) == 0 {
		return fmt.Errorf("no dictionary directory could be watched")
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.ctx.Done():
			return ErrFacilitatorClosed
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !f.affectsActive(event) {
				continue
			}
			f.logger.Debug("dictionary file changed", zap.String("path", event.Name), zap.Stringer("op", event.Op))
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			pending = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("dictionary watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			if snap := f.current.Load(); snap != nil {
				f.logger.Info("reloading dictionaries", zap.String("locale", snap.Locale))
				f.LoadDictionariesForLocale(snap.Locale)
			}
		}
	}
}

func (f *Facilitator) affectsActive(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
		!event.Op.Has(fsnotify.Rename) && !event.Op.Has(fsnotify.Remove) {
		return false
	}
	snap := f.current.Load()
	if snap == nil {
		return false
	}
	for _, src := range f.sources {
		fs, ok := src.(*FileSource)
		if !ok {
			continue
		}
		if filepath.Clean(event.Name) == filepath.Clean(fs.Path(snap.Locale)) {
			return true
		}
	}
	return false
}
