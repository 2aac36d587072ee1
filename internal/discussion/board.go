// Package discussion writes the append-only DISCUSSION_BOARD.md sink the
// message hub records chat traffic to.
package discussion

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Board appends structured chat entries to a single markdown file. Writes
// are serialized by the Board's own mutex, so it's safe to call from more
// than one goroutine.
type Board struct {
	mu   sync.Mutex
	path string
}

// NewBoard targets the given file path. Nothing is written until the first
// Append, which creates the file if absent; no header is written.
func NewBoard(path string) *Board {
	return &Board{path: path}
}

// Entry is one chat message recorded to the board.
type Entry struct {
	DisplayName string
	AgentID     string
	Role        string
	Perspective string
	Text        string
	Timestamp   time.Time
}

// Append writes one entry to the board, creating the file on first use.
func (b *Board) Append(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	perspective := e.Perspective
	if perspective == "" {
		perspective = "-"
	}

	_, err = fmt.Fprintf(f, "- **%s** (`%s`, %s, %s) @ %s: %s\n",
		e.DisplayName, e.AgentID, e.Role, perspective,
		e.Timestamp.Format(time.RFC3339), e.Text)
	return err
}
