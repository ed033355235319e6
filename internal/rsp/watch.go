package rsp

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/drslump/boohints/internal/errors"
)

// Watcher invokes a callback whenever a response file is rewritten on disk.
// It watches the file's directory rather than the file itself, since editors
// and build tools typically replace the file instead of writing in place.
type Watcher struct {
	log      *slog.Logger
	path     string
	fw       *fsnotify.Watcher
	onChange func()

	done      chan struct{}
	closeOnce sync.Once
}

// Watch starts watching path and calls onChange for every write, create or
// rename of the file. The callback runs on the watcher goroutine and must
// not block.
func Watch(path string, log *slog.Logger, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &errors.ResponseFileError{Path: path, Err: err}
	}

	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()

		return nil, &errors.ResponseFileError{Path: path, Err: err}
	}

	w := &Watcher{
		log:      log,
		path:     path,
		fw:       fw,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	go w.loop()

	return w, nil
}

func (w *Watcher) loop() {
	base := filepath.Base(w.path)

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}

			if filepath.Base(ev.Name) != base {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.log.Debug("response file changed", "path", w.path, "op", ev.Op.String())
			w.onChange()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			w.log.Warn("response file watcher error", "path", w.path, "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error

	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})

	return err
}
