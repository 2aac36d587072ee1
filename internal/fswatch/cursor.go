package fswatch

import (
	"sync"
	"time"
)

// cursorStaleAfter is how long a cursor position is kept before being pruned
// on read.
const cursorStaleAfter = 30 * time.Second

// CursorPosition is a single editor's last-reported position in a file.
type CursorPosition struct {
	EditorID string
	Line     int
	Column   int
	At       time.Time
}

// CursorTracker tracks, per file, which editors currently have it open and
// their last reported cursor position. Used to back the cursor-update and
// concurrent-editing-warning outbound messages.
type CursorTracker struct {
	mu      sync.Mutex
	editors map[string]map[string]time.Time   // path -> editorID -> opened-at
	cursors map[string]map[string]CursorPosition // path -> editorID -> position
}

// NewCursorTracker creates an empty tracker.
func NewCursorTracker() *CursorTracker {
	return &CursorTracker{
		editors: make(map[string]map[string]time.Time),
		cursors: make(map[string]map[string]CursorPosition),
	}
}

// Open records that editorID has path open.
func (c *CursorTracker) Open(path, editorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.editors[path] == nil {
		c.editors[path] = make(map[string]time.Time)
	}
	c.editors[path][editorID] = time.Now()
}

// Close removes editorID from path's editor set. If it was the last editor,
// the entry is cleared entirely.
func (c *CursorTracker) Close(path, editorID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.editors[path]; ok {
		delete(set, editorID)
		if len(set) == 0 {
			delete(c.editors, path)
		}
	}
	if set, ok := c.cursors[path]; ok {
		delete(set, editorID)
		if len(set) == 0 {
			delete(c.cursors, path)
		}
	}
}

// UpdateCursor records editorID's latest position in path.
func (c *CursorTracker) UpdateCursor(path, editorID string, line, col int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursors[path] == nil {
		c.cursors[path] = make(map[string]CursorPosition)
	}
	c.cursors[path][editorID] = CursorPosition{EditorID: editorID, Line: line, Column: col, At: time.Now()}
}

// Editors returns the current editor IDs for path, other than self, pruning
// any cursor positions older than cursorStaleAfter as a side effect of the
// read.
func (c *CursorTracker) Editors(path, self string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-cursorStaleAfter)
	if positions, ok := c.cursors[path]; ok {
		for editorID, pos := range positions {
			if pos.At.Before(cutoff) {
				delete(positions, editorID)
			}
		}
	}

	set, ok := c.editors[path]
	if !ok {
		return nil
	}
	var out []string
	for editorID := range set {
		if editorID != self {
			out = append(out, editorID)
		}
	}
	return out
}
