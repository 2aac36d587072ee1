package tasklock

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ClaimStore persists task claims to SQLite. Locks are ephemeral and never
// persisted; only claims survive a restart.
type ClaimStore struct {
	db *sql.DB

	// exportPath, if set, receives a JSON snapshot of all claims after every
	// mutation, so task-claims.json stays readable by outside tooling while
	// the live store stays relational.
	exportPath string
}

// NewClaimStore opens (creating if needed) a SQLite database at dbPath and
// wires exportPath as the best-effort task-claims.json snapshot target.
func NewClaimStore(dbPath, exportPath string) (*ClaimStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &ClaimStore{db: db, exportPath: exportPath}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ClaimStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS claims (
			task_id TEXT PRIMARY KEY,
			owner_agent_id TEXT NOT NULL,
			claimed_at TIMESTAMP NOT NULL,
			status TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database handle.
func (s *ClaimStore) Close() error {
	return s.db.Close()
}

// Save creates or updates a claim row.
func (s *ClaimStore) Save(taskID, ownerAgentID string, claimedAt time.Time, status ClaimStatus) error {
	_, err := s.db.Exec(`
		INSERT INTO claims (task_id, owner_agent_id, claimed_at, status)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			owner_agent_id = excluded.owner_agent_id,
			status = excluded.status
	`, taskID, ownerAgentID, claimedAt, string(status))
	if err != nil {
		return err
	}
	s.exportSnapshot()
	return nil
}

// Delete removes a claim row (called when a claim completes).
func (s *ClaimStore) Delete(taskID string) error {
	_, err := s.db.Exec(`DELETE FROM claims WHERE task_id = ?`, taskID)
	if err != nil {
		return err
	}
	s.exportSnapshot()
	return nil
}

// LoadAll restores every persisted claim on startup.
func (s *ClaimStore) LoadAll() ([]*claim, error) {
	rows, err := s.db.Query(`SELECT task_id, owner_agent_id, claimed_at, status FROM claims`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*claim
	for rows.Next() {
		c := &claim{}
		var status string
		if err := rows.Scan(&c.taskID, &c.ownerID, &c.claimedAt, &status); err != nil {
			return nil, err
		}
		c.status = ClaimStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// exportClaim mirrors the JSON shape written to task-claims.json.
type exportClaim struct {
	TaskID       string    `json:"taskId"`
	OwnerAgentID string    `json:"ownerAgentId"`
	ClaimedAt    time.Time `json:"claimedAt"`
	Status       string    `json:"status"`
}

// exportSnapshot writes a best-effort JSON snapshot of all claims; failures
// are swallowed.
func (s *ClaimStore) exportSnapshot() {
	if s.exportPath == "" {
		return
	}
	rows, err := s.LoadAll()
	if err != nil {
		return
	}

	out := make([]exportClaim, 0, len(rows))
	for _, c := range rows {
		out = append(out, exportClaim{
			TaskID:       c.taskID,
			OwnerAgentID: c.ownerID,
			ClaimedAt:    c.claimedAt,
			Status:       string(c.status),
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.exportPath, data, 0o644)
}
