package pricing

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the catalog when its file changes, until ctx is cancelled.
// Events are debounced because editors and atomic-rename writers emit
// bursts. Watching is best-effort: if the watcher cannot be created the
// catalog simply stays on its last loaded tables.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("Catalog watcher unavailable", zap.Error(err))
		return err
	}

	// Watch the directory, not the file: rename-based atomic writes replace
	// the inode and would drop a file-level watch.
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		c.logger.Warn("Catalog watch failed", zap.String("dir", dir), zap.Error(err))
		return err
	}

	go func() {
		defer watcher.Close()
		const debounce = 250 * time.Millisecond
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if err := c.Reload(); err != nil {
						c.logger.Warn("Catalog reload failed, keeping previous tables", zap.Error(err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("Catalog watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
