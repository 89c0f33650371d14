package auth

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.ntppool.org/common/logger"
)

// FileToken reads the API token from a file and reloads it when the file
// changes, e.g. when a mounted secret is rotated.
type FileToken struct {
	path string
	log  *slog.Logger

	lock  sync.RWMutex
	token string
}

// NewFileToken reads the token from path and starts a watcher that
// reloads it until ctx is cancelled.
func NewFileToken(ctx context.Context, path string) (*FileToken, error) {
	ft := &FileToken{
		path: path,
		log:  logger.FromContext(ctx).WithGroup("api-key-file"),
	}

	if err := ft.reload(); err != nil {
		return nil, err
	}

	go ft.watch(ctx)

	return ft, nil
}

func (ft *FileToken) Token(ctx context.Context) (string, error) {
	ft.lock.RLock()
	defer ft.lock.RUnlock()
	if len(ft.token) == 0 {
		return "", ConfigurationError{Setting: "api-key-file", Message: fmt.Sprintf("%s is empty", ft.path)}
	}
	return ft.token, nil
}

func (ft *FileToken) reload() error {
	b, err := os.ReadFile(ft.path)
	if err != nil {
		return ConfigurationError{Setting: "api-key-file", Message: err.Error()}
	}
	token := strings.TrimSpace(string(b))
	if len(token) == 0 {
		return ConfigurationError{Setting: "api-key-file", Message: fmt.Sprintf("%s is empty", ft.path)}
	}

	ft.lock.Lock()
	defer ft.lock.Unlock()
	ft.token = token
	return nil
}

func (ft *FileToken) watch(ctx context.Context) {
	log := ft.log

	const reloadInterval = 10 * time.Minute
	const debounceInterval = 100 * time.Millisecond

	dir, name := filepath.Dir(ft.path), filepath.Base(ft.path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.WarnContext(ctx, "failed to create file watcher, falling back to timer-only reloading", "err", err)
		watcher = nil
	} else if err := watcher.Add(dir); err != nil {
		log.WarnContext(ctx, "failed to watch directory, falling back to timer-only reloading", "dir", dir, "err", err)
		watcher.Close()
		watcher = nil
	}

	var events <-chan fsnotify.Event
	var errs <-chan error
	if watcher != nil {
		defer watcher.Close()
		events = watcher.Events
		errs = watcher.Errors
	}

	timer := time.NewTimer(reloadInterval)
	defer timer.Stop()

	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// kubernetes swaps secrets through a "..data" symlink
			base := filepath.Base(event.Name)
			if base != name && base != "..data" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounceC = time.After(debounceInterval)
			continue

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.WarnContext(ctx, "file watcher error", "err", err)
			continue

		case <-debounceC:
			debounceC = nil

		case <-timer.C:
		}

		if err := ft.reload(); err != nil {
			log.WarnContext(ctx, "could not reload api key, keeping the previous one", "err", err)
		} else {
			log.DebugContext(ctx, "api key reloaded", "file", ft.path)
		}
		timer.Reset(reloadInterval)
	}
}
