package whitelist

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadInterval is the minimum time between two reloads.
const DefaultReloadInterval = time.Second

// FileList is an allow-list loaded from a file and reloaded when the file
// changes.
type FileList struct {
	*List

	path     string
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	watcher    *fsnotify.Watcher
	lastReload time.Time
	onReload   func([]string)
}

// FileOption configures a FileList.
type FileOption func(*FileList)

// WithReloadInterval sets the minimum time between reloads.
func WithReloadInterval(d time.Duration) FileOption {
	return func(f *FileList) {
		if d >= 0 {
			f.interval = d
		}
	}
}

// WithFileLogger sets the logger.
func WithFileLogger(l *slog.Logger) FileOption {
	return func(f *FileList) {
		f.logger = l
	}
}

// WithOnReload registers a callback invoked with the new contents after
// every successful reload.
func WithOnReload(fn func([]string)) FileOption {
	return func(f *FileList) {
		f.onReload = fn
	}
}

// NewFileList loads path and returns the list.
func NewFileList(path string, opts ...FileOption) (*FileList, error) {
	if path == "" {
		return nil, fmt.Errorf("whitelist path cannot be empty")
	}
	f := &FileList{
		List:     New(),
		path:     path,
		interval: DefaultReloadInterval,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Path returns the watched file.
func (f *FileList) Path() string {
	return f.path
}

// Reload reads the file and replaces the list contents.
func (f *FileList) Reload() error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("open whitelist %s: %w", f.path, err)
	}
	defer file.Close()

	users, err := Parse(file)
	if err != nil {
		return fmt.Errorf("read whitelist %s: %w", f.path, err)
	}
	f.Replace(users)

	f.mu.Lock()
	f.lastReload = f.now()
	cb := f.onReload
	f.mu.Unlock()

	f.logger.Info("whitelist loaded", slog.String("path", f.path), slog.Int("users", len(users)))
	if cb != nil {
		cb(users)
	}
	return nil
}

// due reports whether enough time passed since the last reload.
func (f *FileList) due() bool {
	return f.wait() <= 0
}

// wait returns how long until the next reload is allowed.
func (f *FileList) wait() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval - f.now().Sub(f.lastReload)
}

func (f *FileList) reloadLogged() {
	if err := f.Reload(); err != nil {
		f.logger.Error("failed to reload whitelist",
			slog.String("error", err.Error()),
			slog.String("path", f.path))
	}
}

// Watch reloads the list whenever the file is written or replaced, until ctx
// is cancelled. A change arriving within the reload interval of the previous
// reload is applied once the interval has elapsed; further changes in that
// window fold into the same reload.
func (f *FileList) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	f.mu.Lock()
	f.watcher = watcher
	f.mu.Unlock()

	// Watch the directory so atomic renames by editors are seen.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	f.logger.Info("watching whitelist file for changes", slog.String("path", f.path))

	target := filepath.Clean(f.path)
	go func() {
		defer watcher.Close()

		var (
			deferred *time.Timer
			pending  <-chan time.Time
		)
		defer func() {
			if deferred != nil {
				deferred.Stop()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				f.logger.Debug("whitelist watch stopped")
				return

			case <-pending:
				pending = nil
				f.reloadLogged()

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if pending != nil {
					continue
				}
				if wait := f.wait(); wait > 0 {
					deferred = time.NewTimer(wait)
					pending = deferred.C
					f.logger.Debug("whitelist reload deferred", slog.Duration("wait", wait))
					continue
				}
				f.reloadLogged()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Error("whitelist watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// Close stops watching the file.
func (f *FileList) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.watcher != nil {
		err := f.watcher.Close()
		f.watcher = nil
		return err
	}
	return nil
}
