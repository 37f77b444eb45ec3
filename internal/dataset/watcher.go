package dataset

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the store whenever the CSV or either sidecar changes on
// disk. Events are debounced because editors and copy tools fire several
// writes per save. Returns when ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := map[string]bool{
		filepath.Clean(s.csvPath):        true,
		filepath.Clean(s.dbSummaryPath):  true,
		filepath.Clean(s.kpiMappingPath): true,
	}

	// Watch parent directories: many tools replace files by rename, which
	// drops a watch placed on the file itself.
	dirs := make(map[string]bool)
	for path := range watched {
		dirs[filepath.Dir(path)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watched[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := s.Load(); err != nil {
				s.logger.Error("Dataset reload failed, keeping previous snapshot", zap.Error(err))
				continue
			}
			s.logger.Info("Dataset reloaded after file change")
			if onReload != nil {
				onReload()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Dataset watcher error", zap.Error(err))
		}
	}
}
