package daemon

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates the feed file was created or moved into place.
	OpCreate EventOp = iota
	// OpModify indicates the feed file was written.
	OpModify
	// OpDelete indicates the feed file was removed or moved away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// FeedEvent is a file system event for the watched feed file.
type FeedEvent struct {
	// Path is the absolute path of the feed file.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// FeedWatcher watches a single feed file for changes.
//
// The parent directory is watched rather than the file itself, so feeds
// replaced by rename (as most editors and export tools do) keep being seen.
type FeedWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FeedEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	path    string
}

// NewFeedWatcher creates a new FeedWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFeedWatcher() (*FeedWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FeedWatcher{
		watcher: watcher,
		events:  make(chan FeedEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching feedPath.
func (fw *FeedWatcher) Start(feedPath string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(feedPath)
	if err != nil {
		return fmt.Errorf("failed to resolve feed path %s: %w", feedPath, err)
	}
	fw.path = abs

	if err := fw.watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch feed directory %s: %w", filepath.Dir(abs), err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching and closes the event channels.
// It blocks until the event processing goroutine has exited.
func (fw *FeedWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FeedEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FeedWatcher) Events() <-chan FeedEvent {
	return fw.events
}

// Errors returns the channel that emits watcher errors.
// This channel is closed when the watcher is stopped.
func (fw *FeedWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FeedWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FeedWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if feedEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- feedEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event on the feed file to a FeedEvent.
// Events for other files in the directory and chmod events are dropped.
func (fw *FeedWatcher) convertEvent(event fsnotify.Event) (FeedEvent, bool) {
	name, err := filepath.Abs(event.Name)
	if err != nil || name != fw.path {
		return FeedEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FeedEvent{}, false
	}

	return FeedEvent{Path: fw.path, Op: op}, true
}
