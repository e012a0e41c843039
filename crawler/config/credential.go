package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Credential is the portal session cookie, hot-rotatable at runtime. When
// backed by a file the operator can drop in a fresh cookie without a
// restart: Watch picks the change up via fsnotify and Refresh re-reads on
// demand (the resolver calls it after a 401). Without a file the value
// comes from the USERNAME_COOKIE environment variable, re-read on every
// Refresh.
type Credential struct {
	path string
	log  *zap.SugaredLogger

	mu    sync.RWMutex
	value string
}

// NewCredential loads the initial cookie value. A missing credential is
// not an error: the portal serves public lectures without one.
func NewCredential(path string, log *zap.SugaredLogger) *Credential {
	c := &Credential{path: path, log: log}
	c.Refresh()
	return c
}

// Get returns the current cookie value.
func (c *Credential) Get() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Refresh re-reads the cookie from its source.
func (c *Credential) Refresh() {
	fresh := os.Getenv("USERNAME_COOKIE")
	if c.path != "" {
		data, err := os.ReadFile(c.path)
		if err != nil {
			c.log.Warnw("credential file unreadable, keeping current value", "path", c.path, "error", err)
			return
		}
		fresh = strings.TrimSpace(string(data))
	}

	c.mu.Lock()
	changed := fresh != c.value
	c.value = fresh
	c.mu.Unlock()
	if changed {
		c.log.Infow("session credential reloaded")
	}
}

// Watch reloads the credential whenever its file changes. Returns
// immediately when the credential is not file-backed.
func (c *Credential) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors and secret mounts replace the file
	// rather than writing it in place.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != c.path {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				c.Refresh()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warnw("credential watcher error", "error", err)
		}
	}
}
