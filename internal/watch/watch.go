// Package watch notifies cmd/log0 when the target executable it attached
// to has been rebuilt, so the reader can stop, rebuild the type
// catalogue from the new binary, and reattach: a target's DWARF and
// .fasthosting/.rodata contents are only valid for the exact build that
// produced them.
//
// The watch is placed on the executable's parent directory rather than
// the file itself, which tolerates rename-into-place rebuilds, and the
// burst of Write/Create/Rename events a toolchain's "link a new binary
// into place" produces is debounced into one Rebuilt signal.
package watch

import (
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events a single relink produces
// (truncate, write, rename-into-place) into one signal.
const DefaultDebounce = 200 * time.Millisecond

// Watcher emits one event on Rebuilt each time the watched executable
// path changes, debounced.
type Watcher struct {
	fsw      *fsnotify.Watcher
	rebuilt  chan struct{}
	errs     chan error
	done     chan struct{}
	debounce time.Duration
}

// New starts watching path. The parent directory is watched rather than
// the file itself, since most build tools replace the executable by
// rename rather than in-place write, which some platforms report as a
// Remove on the old inode instead of a Write.
func New(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir, file := splitDir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		rebuilt:  make(chan struct{}, 1),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
		debounce: DefaultDebounce,
	}

	go w.loop(file)

	return w, nil
}

// Rebuilt delivers one notification per debounced burst of changes to the
// watched path. The channel is buffered 1; a consumer that is slow to
// drain it only misses intermediate rebuilds, never the final one,
// because loop only ever sends the trailing edge of a burst.
func (w *Watcher) Rebuilt() <-chan struct{} { return w.rebuilt }

// Errors surfaces fsnotify's own error channel.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func (w *Watcher) loop(targetFile string) {
	var pending *time.Timer

	fire := make(chan struct{})

	for {
		select {
		case <-w.done:
			if pending != nil {
				pending.Stop()
			}

			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if baseName(ev.Name) != targetFile {
				continue
			}

			if pending != nil {
				pending.Stop()
			}

			pending = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				case <-w.done:
				}
			})

		case <-fire:
			select {
			case w.rebuilt <- struct{}{}:
			default:
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func splitDir(path string) (dir, file string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[:i], path[i+1:]
		}
	}

	return ".", path
}

func baseName(path string) string {
	_, file := splitDir(path)
	return file
}
