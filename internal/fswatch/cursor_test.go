package fswatch

import "testing"

func TestCursorTrackerOpenCloseAndEditorsExcludesSelf(t *testing.T) {
	c := NewCursorTracker()
	c.Open("TASK_BOARD.md", "agent-a")
	c.Open("TASK_BOARD.md", "agent-b")
	c.UpdateCursor("TASK_BOARD.md", "agent-b", 3, 7)

	others := c.Editors("TASK_BOARD.md", "agent-a")
	if len(others) != 1 || others[0] != "agent-b" {
		t.Fatalf("expected only agent-b visible to agent-a, got %v", others)
	}

	c.Close("TASK_BOARD.md", "agent-b")
	others = c.Editors("TASK_BOARD.md", "agent-a")
	if len(others) != 0 {
		t.Fatalf("expected no other editors after close, got %v", others)
	}
}

func TestCursorTrackerCloseLastEditorClearsEntry(t *testing.T) {
	c := NewCursorTracker()
	c.Open("file.md", "agent-a")
	c.Close("file.md", "agent-a")

	if _, ok := c.editors["file.md"]; ok {
		t.Fatal("expected editor set for file.md to be cleared once empty")
	}
}
