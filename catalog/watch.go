package catalog

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change describes one filesystem event under the catalog root.
type Change struct {
	// Server is the affected server directory name.
	Server string

	// Tool is the affected tool name; empty for server-level changes.
	Tool string

	// Op is the fsnotify operation ("CREATE", "WRITE", "REMOVE", ...).
	Op string
}

// ID returns "server.tool" for tool changes and the server name otherwise.
func (c Change) ID() string {
	if c.Tool == "" {
		return c.Server
	}
	return FormatID(c.Server, c.Tool)
}

// Watch reports catalog changes to fn until ctx is done. The catalog itself
// never caches, so Watch is informational: callers use it to log or to flag
// embedding cache entries that may now be stale.
//
// fsnotify is not recursive; the root and each server directory are watched,
// and server directories created later are added as they appear.
func (c *Catalog) Watch(ctx context.Context, fn func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(c.root); err != nil {
		return err
	}
	servers, err := c.ListServers()
	if err != nil {
		return err
	}
	for _, s := range servers {
		if err := watcher.Add(filepath.Join(c.root, s)); err != nil {
			c.logger.Warn("catalog watch add failed", zap.String("server", s), zap.Error(err))
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			change, ok := c.classify(event)
			if !ok {
				continue
			}
			if event.Has(fsnotify.Create) && change.Tool == "" {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := watcher.Add(event.Name); err != nil {
						c.logger.Warn("catalog watch add failed", zap.String("server", change.Server), zap.Error(err))
					}
				}
			}
			fn(change)
		}
	}
}

func (c *Catalog) classify(event fsnotify.Event) (Change, bool) {
	rel, err := filepath.Rel(c.root, event.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return Change{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if hidden(parts[0]) {
		return Change{}, false
	}
	change := Change{Server: parts[0], Op: event.Op.String()}
	if len(parts) == 2 {
		name := parts[1]
		if name == MarkerFile {
			return change, true
		}
		if hidden(name) || !strings.HasSuffix(name, UnitExt) {
			return Change{}, false
		}
		change.Tool = strings.TrimSuffix(name, UnitExt)
	}
	return change, true
}
