package ruleset

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce coalesces the burst of events an editor or an atomic
// rename produces.
const DefaultDebounce = 250 * time.Millisecond

// Watch rebuilds the ruleset whenever the file at path is written, created
// or replaced. The parent directory is watched so replacement by rename is
// seen. Watching stops when ctx ends.
func (p *Provider) Watch(ctx context.Context, path string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(target)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch ruleset dir %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, err := filepath.Abs(event.Name)
				if err != nil || name != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					pending = time.After(debounce)
				}
			case <-pending:
				pending = nil
				p.logger.Info("ruleset document changed, reloading", zap.String("path", target))
				_ = p.Reload(ctx)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Error("fsnotify error", zap.Error(err))
			}
		}
	}()

	return nil
}
