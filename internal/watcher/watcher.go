// Package watcher monitors a directory for filesystem events and indexes
// new or changed files in the background, per base spec §4.12. The
// detector (fsnotify) and a single worker goroutine communicate over a
// buffered FIFO channel of 4096 slots; it is bounded, and when it is full the
// debounce timers wait to deliver while the detector keeps reading events.
// The worker owns the model mutex for the duration of one file's encode and
// never blocks the detector.
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hyphonical/scout/internal/config"
	"github.com/hyphonical/scout/internal/indexer"
	"github.com/hyphonical/scout/internal/media"
	"github.com/hyphonical/scout/internal/scanner"
	"github.com/hyphonical/scout/internal/sidecar"
)

const (
	debounceWindow      = time.Second
	stabilityPollPeriod = 500 * time.Millisecond
	stabilityMaxPolls   = 20 // ~10s total
)

// Watcher watches a directory tree and indexes changed media files.
type Watcher struct {
	fw        *fsnotify.Watcher
	root      string
	recursive bool
	filter    scanner.Options
	modelsMu  sync.Mutex
	models    *indexer.Models
	idxOpts   indexer.Options
	log       *config.Logger

	pendingMu sync.Mutex
	pending   map[string]*time.Timer
	tasks     chan string
}

// New creates a Watcher. filter carries the same size, resolution and
// video-exclusion options the scanner applies (its Force field is not read);
// models and idxOpts drive indexing.
func New(root string, recursive bool, filter scanner.Options, models *indexer.Models, idxOpts indexer.Options, log *config.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	return &Watcher{
		fw:        fw,
		root:      root,
		recursive: recursive,
		filter:    filter,
		models:    models,
		idxOpts:   idxOpts,
		log:       log,
		pending:   make(map[string]*time.Timer),
		tasks:     make(chan string, 4096), // unbounded in practice: generously buffered FIFO
	}, nil
}

// Run adds root (and subdirectories, if recursive) to the watch list,
// starts the single worker goroutine, and blocks processing events until
// done is closed.
func (w *Watcher) Run(done <-chan struct{}) error {
	if err := w.addDir(w.root); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker()
	}()

	defer func() {
		close(w.tasks)
		wg.Wait()
	}()

	for {
		select {
		case <-done:
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			if w.log != nil {
				w.log.Warnf("watch: %v", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if fi, err := os.Stat(path); err == nil && fi.IsDir() {
			if w.recursive {
				_ = w.addDir(path)
				w.expandDirectory(path)
			}
			return
		}
	}

	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	if media.Detect(path) == media.None {
		return
	}
	w.debounce(path)
}

// expandDirectory delivers every immediate file child of a newly created
// directory, per base spec §4.12: "a delivered event whose path is a
// directory is expanded to that directory's immediate file children (only
// if recursive == true)".
func (w *Watcher) expandDirectory(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if media.Detect(full) == media.None {
			continue
		}
		w.debounce(full)
	}
}

// debounce coalesces rapid events for the same path into a single delivery
// after debounceWindow of quiescence.
func (w *Watcher) debounce(path string) {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceWindow, func() {
		w.pendingMu.Lock()
		delete(w.pending, path)
		w.pendingMu.Unlock()
		w.tasks <- path
	})
}

// addDir adds dir (and, if recursive, its non-hidden subdirectories) to the
// fsnotify watch list.
func (w *Watcher) addDir(dir string) error {
	if err := w.fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	if !w.recursive {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if err := w.addDir(filepath.Join(dir, e.Name())); err != nil {
			if w.log != nil {
				w.log.Warnf("watch: skip dir %s: %v", e.Name(), err)
			}
		}
	}
	return nil
}

// worker drains tasks sequentially; it is the single consumer the detector
// never blocks on.
func (w *Watcher) worker() {
	for path := range w.tasks {
		if err := w.processOne(path); err != nil && w.log != nil {
			w.log.Warnf("watch: %s: %v", path, err)
		}
	}
}

func (w *Watcher) processOne(path string) error {
	if err := waitForFileStable(path); err != nil {
		return err
	}

	mt := media.Detect(path)
	if mt == media.None {
		return nil
	}
	if w.filter.ExcludeVideos && mt == media.Video {
		return nil
	}
	if !passesSizeAndResolution(path, mt, w.filter) {
		return nil
	}

	hash, err := media.Compute(path)
	if err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	mediaDir := filepath.Dir(path)
	sidecarPath := sidecar.BuildPath(mediaDir, hash)
	if s, err := sidecar.Load(sidecarPath); err == nil && s.IsCurrentVersion() {
		if w.log != nil {
			w.log.Debugf("up to date, skipping %s", path)
		}
		return nil
	}

	w.modelsMu.Lock()
	defer w.modelsMu.Unlock()
	return indexer.IndexOne(w.models, path, w.idxOpts)
}

// waitForFileStable polls size and openability until two consecutive
// identical non-zero sizes are observed and the file opens successfully,
// or reports failure after stabilityMaxPolls attempts (~10s), per base
// spec §4.12.
func waitForFileStable(path string) error {
	var lastSize int64 = -1
	stableCount := 0

	for attempt := 0; attempt < stabilityMaxPolls; attempt++ {
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			if info.Size() == lastSize {
				stableCount++
			} else {
				stableCount = 0
				lastSize = info.Size()
			}
			if stableCount >= 1 {
				if f, err := os.Open(path); err == nil {
					f.Close()
					return nil
				}
			}
		}
		time.Sleep(stabilityPollPeriod)
	}
	return fmt.Errorf("file busy: %s did not stabilize within %v", path, stabilityMaxPolls*stabilityPollPeriod)
}

func passesSizeAndResolution(path string, mt media.Type, opts scanner.Options) bool {
	if opts.MaxSizeMB > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return false
		}
		if float64(info.Size())/(1024*1024) > opts.MaxSizeMB {
			return false
		}
	}
	if opts.MinResolution > 0 && mt == media.Image {
		ok, err := scanner.MeetsMinResolution(path, opts.MinResolution)
		if err != nil || !ok {
			return false
		}
	}
	return true
}
