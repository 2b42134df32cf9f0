// Package nfchw is the default collab.NfcHardwareAdapter implementation: an
// fsnotify-backed stand-in for a real GPIO/SPI NFC reader (spec §4.8,
// §6.3), so the daemon is runnable end-to-end without tag-reader hardware.
// The creation of a file named after a tag UID under the watched directory
// simulates a tag being placed on the reader; its removal simulates the tag
// being lifted. Grounded on the teacher's own filesystem-watch service
// shape (internal/supervisor/services/*.go run-loop idiom) adapted from
// watching a websocket listener to watching a directory.
package nfchw

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

// Adapter watches dir for tag-uid-named files.
type Adapter struct {
	watcher   *fsnotify.Watcher
	dir       string
	detected  chan string
	removed   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// New creates an Adapter watching dir. dir is created by the caller ahead
// of time; New only attaches a watch to it.
func New(dir string) (*Adapter, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	a := &Adapter{
		watcher:  w,
		dir:      dir,
		detected: make(chan string, 8),
		removed:  make(chan struct{}, 8),
		done:     make(chan struct{}),
	}
	go a.loop()
	return a, nil
}

func (a *Adapter) loop() {
	defer close(a.detected)
	defer close(a.removed)
	for {
		select {
		case ev, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			tagUID := filepath.Base(ev.Name)
			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				select {
				case a.detected <- tagUID:
				default:
					logging.Named("nfchw").Warn().Str("tag_uid", tagUID).Msg("detection channel full, dropping")
				}
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				select {
				case a.removed <- struct{}{}:
				default:
				}
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			logging.Named("nfchw").Error().Err(err).Msg("fsnotify watcher error")
		case <-a.done:
			return
		}
	}
}

func (a *Adapter) Detections() <-chan string   { return a.detected }
func (a *Adapter) Removals() <-chan struct{}   { return a.removed }
func (a *Adapter) Available() bool             { return a.watcher != nil }

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.watcher.Close()
	})
	return err
}
