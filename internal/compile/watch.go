package compile

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of filesystem events (editors write,
// rename, and chmod in quick succession) into one rebuild.
const watchDebounce = 200 * time.Millisecond

// Watch rebuilds the project whenever a schema or query file changes
// and reports each outcome to onBuild. The initial build is reported
// too. Watch blocks until ctx is cancelled.
func (c *Compiler) Watch(ctx context.Context, onBuild func(*Result, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, ns := range c.cfg.Namespaces {
		for _, dir := range []string{ns.Schema, ns.Queries} {
			if err := addTree(watcher, filepath.Join(c.root, dir)); err != nil {
				c.logger.Warn("cannot watch directory", "dir", dir, "error", err)
			}
		}
	}

	onBuild(c.Run(ctx))

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			// New subdirectories need their own watch.
			if ev.Op.Has(fsnotify.Create) {
				_ = addTree(watcher, ev.Name)
			}
			c.logger.Debug("source changed", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			pending = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watch error", "error", err)
		case <-pending:
			pending = nil
			onBuild(c.Run(ctx))
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op.Has(fsnotify.Chmod) {
		return false
	}
	return strings.HasSuffix(ev.Name, ".sql") || ev.Op.Has(fsnotify.Create)
}

func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
