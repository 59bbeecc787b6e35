package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/proseql/proseql/pkg/log"
)

// FSAdapter is a local filesystem [Adapter]. Writes are atomic: data is
// written to a temp file in the same directory, then renamed over the
// destination, so a reader never observes a partially written file.
type FSAdapter struct {
	root string

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watchers map[string][]watchSub
	nextSub  int
}

type watchSub struct {
	id       int
	onChange func()
}

// NewFSAdapter builds an adapter rooted at root. Every path passed to the
// adapter's methods is joined to root with [filepath.Join].
func NewFSAdapter(root string) *FSAdapter {
	return &FSAdapter{root: root, watchers: make(map[string][]watchSub)}
}

func (a *FSAdapter) resolve(path string) string {
	return filepath.Join(a.root, path)
}

func (a *FSAdapter) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(a.resolve(path))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (a *FSAdapter) Write(_ context.Context, path string, data []byte) error {
	full := a.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, full)
}

// Append adds data to the end of the file at path, creating it if
// missing. This backs the append-only JSONL fast path, where rewriting
// the whole file on every record would defeat the point of append-only
// storage.
func (a *FSAdapter) Append(_ context.Context, path string, data []byte) error {
	full := a.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func (a *FSAdapter) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(a.resolve(path))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (a *FSAdapter) Remove(_ context.Context, path string) error {
	err := os.Remove(a.resolve(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (a *FSAdapter) EnsureDir(_ context.Context, path string) error {
	return os.MkdirAll(filepath.Dir(a.resolve(path)), 0o755)
}

// Watch registers onChange against path's containing directory via
// fsnotify, lazily starting a single shared watcher goroutine per
// adapter. The returned unsubscribe removes only this registration.
func (a *FSAdapter) Watch(_ context.Context, path string, onChange func()) (func(), error) {
	full := a.resolve(path)
	dir := filepath.Dir(full)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, err
		}
		a.watcher = w
		go a.dispatch()
	}
	if err := a.watcher.Add(dir); err != nil {
		return nil, err
	}

	a.nextSub++
	id := a.nextSub
	a.watchers[full] = append(a.watchers[full], watchSub{id: id, onChange: onChange})

	unsubscribe := func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		subs := a.watchers[full]
		for i, s := range subs {
			if s.id == id {
				a.watchers[full] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return unsubscribe, nil
}

func (a *FSAdapter) dispatch() {
	logger := log.WithComponent("storage.fs")
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			a.mu.Lock()
			subs := append([]watchSub{}, a.watchers[event.Name]...)
			a.mu.Unlock()
			for _, s := range subs {
				s.onChange()
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("filesystem watch error")
		}
	}
}
