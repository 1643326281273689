package controller

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// StopFileName requests a graceful halt: touching .overseer/STOP stops the
// loop after the current iteration.
const StopFileName = "STOP"

// stopWatcher surfaces out-of-band stop requests (stop file or signal)
// between iterations. The current iteration always finishes; the loop is
// never interrupted mid-flight.
type stopWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	sigs    chan os.Signal
	once    sync.Once
	stopped chan struct{}
}

func newStopWatcher(overseerDir string) (*stopWatcher, error) {
	w := &stopWatcher{
		dir:     overseerDir,
		sigs:    make(chan os.Signal, 1),
		stopped: make(chan struct{}),
	}

	// A STOP file left over from a previous run counts immediately.
	if _, err := os.Stat(filepath.Join(overseerDir, StopFileName)); err == nil {
		w.once.Do(func() { close(w.stopped) })
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(overseerDir); err != nil {
		fw.Close()
		return nil, err
	}
	w.watcher = fw

	signal.Notify(w.sigs, syscall.SIGINT, syscall.SIGTERM)

	go w.run()
	return w, nil
}

func (w *stopWatcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == StopFileName && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.once.Do(func() { close(w.stopped) })
			}
		case _, ok := <-w.sigs:
			if !ok {
				return
			}
			w.once.Do(func() { close(w.stopped) })
		case <-w.watcher.Errors:
		}
	}
}

// Stopped reports whether a stop has been requested.
func (w *stopWatcher) Stopped() bool {
	select {
	case <-w.stopped:
		return true
	default:
		return false
	}
}

// Close releases the watcher and restores signal handling.
func (w *stopWatcher) Close() {
	signal.Stop(w.sigs)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
