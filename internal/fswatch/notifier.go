package fswatch

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DebounceInterval is the per-path coalescing window.
const DebounceInterval = 100 * time.Millisecond

// DrainInterval is how often the consumer dequeues pending notifications.
const DrainInterval = 100 * time.Millisecond

// DrainBatchSize is the max notifications delivered per tick.
const DrainBatchSize = 5

// Sink receives routed notifications ready for downstream broadcast, usually
// the message hub.
type Sink interface {
	Publish(Notification)
}

// Notifier watches one or more directories recursively and emits debounced,
// typed, prioritized notifications to a Sink.
type Notifier struct {
	watcher *fsnotify.Watcher
	sink    Sink
	queue   *notificationQueue

	mu      sync.Mutex
	timers  map[string]*time.Timer
	kinds   map[string]Kind // last-seen raw kind per path, coalesced

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	cursors *CursorTracker
}

// NewNotifier creates a Notifier publishing to sink. Call Watch to add
// directories, then Start to begin delivering events.
func NewNotifier(sink Sink) (*Notifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Notifier{
		watcher: w,
		sink:    sink,
		queue:   newNotificationQueue(),
		timers:  make(map[string]*time.Timer),
		kinds:   make(map[string]Kind),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		cursors: NewCursorTracker(),
	}, nil
}

// Watch recursively adds root and all its subdirectories to the watch set.
func (n *Notifier) Watch(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if ignoreDir(filepath.Base(path)) {
				return filepath.SkipDir
			}
			return n.watcher.Add(path)
		}
		return nil
	})
}

// ignoreDir skips directories that would otherwise flood the watcher with
// irrelevant churn.
func ignoreDir(name string) bool {
	return name == "node_modules" || name == ".git"
}

// ignoreBasename filters out editor droppings and generated churn.
func ignoreBasename(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".tmp") || strings.HasSuffix(name, ".lock") {
		return true
	}
	if strings.Contains(name, "node_modules") {
		return true
	}
	return false
}

// Start begins the raw-event loop and the batched delivery consumer.
func (n *Notifier) Start() {
	go n.readLoop()
	go n.drainLoop()
}

// Stop tears down the watcher and both goroutines. Safe to call more than
// once.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() {
		close(n.stop)
		n.watcher.Close()
		<-n.done
	})
}

func (n *Notifier) readLoop() {
	for {
		select {
		case ev, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.handleRaw(ev)
		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[FSWATCH] watcher error: %v", err)
		case <-n.stop:
			return
		}
	}
}

// handleRaw resets the per-path debounce timer, recording the latest raw
// kind seen for that path so the timer fire step can classify it.
func (n *Notifier) handleRaw(ev fsnotify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	kind := KindChange
	if ev.Has(fsnotify.Remove) {
		kind = KindRemove
	} else if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
		kind = KindAdd
	}
	n.kinds[ev.Name] = kind

	if t, ok := n.timers[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	n.timers[path] = time.AfterFunc(DebounceInterval, func() { n.fire(path) })
}

// fire settles the debounced events for path into one typed notification.
func (n *Notifier) fire(path string) {
	n.mu.Lock()
	rawKind, ok := n.kinds[path]
	delete(n.kinds, path)
	delete(n.timers, path)
	n.mu.Unlock()
	if !ok {
		return
	}

	name := filepath.Base(path)
	if ignoreBasename(name) {
		return
	}

	kind := rawKind
	if _, err := os.Stat(path); os.IsNotExist(err) {
		kind = KindRemove
	} else if rawKind == KindAdd {
		kind = KindAdd
	} else {
		kind = KindChange
	}

	ev := Event{Kind: kind, Path: path, Name: name, Timestamp: time.Now()}
	nt := routeBasename(path, name)

	notif := Notification{Type: nt, Payload: ev, Timestamp: ev.Timestamp, Priority: priorityFor(nt)}
	n.queue.enqueue(notif)

	if notif.Priority == PriorityHigh {
		n.drainNow()
	}
}

// routeBasename maps a settled path to its notification type.
func routeBasename(path, name string) NotificationType {
	switch name {
	case "TASK_BOARD.md":
		return TypeTaskBoardUpdated
	case "DISCUSSION_BOARD.md":
		return TypeDiscussionUpdated
	}
	dir := filepath.Base(filepath.Dir(path))
	if dir == "messages" && strings.HasSuffix(name, ".json") {
		return TypeNewMessage
	}
	return TypeFileChanged
}

func (n *Notifier) drainLoop() {
	defer close(n.done)
	ticker := time.NewTicker(DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.drainNow()
		case <-n.stop:
			return
		}
	}
}

func (n *Notifier) drainNow() {
	for _, notif := range n.queue.drain(DrainBatchSize) {
		n.sink.Publish(notif)
	}
}

// Cursors exposes the editor/cursor presence tracker for handlers that need
// to record open/close signals and cursor positions.
func (n *Notifier) Cursors() *CursorTracker {
	return n.cursors
}
