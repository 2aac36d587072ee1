package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/agentmesh/internal/identity"
)

func main() {
	workspace := flag.String("workspace", ".", "workspace root containing identities.json / task-claims.db")
	action := flag.String("action", "", "Action to perform: identities, tasks, identity")
	agentID := flag.String("agent", "", "Agent ID (for -action identity)")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	switch *action {
	case "identities":
		listIdentities(*workspace, *jsonOutput)
	case "identity":
		if *agentID == "" {
			fmt.Fprintln(os.Stderr, "Usage: hubctl -action identity -agent <id>")
			os.Exit(1)
		}
		showIdentity(*workspace, *agentID, *jsonOutput)
	case "tasks":
		listTasks(*workspace, *jsonOutput)
	default:
		fmt.Fprintf(os.Stderr, "Usage: hubctl -workspace <dir> -action <identities|identity|tasks> [-agent <id>] [-json]\n")
		os.Exit(1)
	}
}

func listIdentities(workspace string, jsonOutput bool) {
	p := identity.NewPersister(workspace + "/identities.json")
	ids, err := p.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read identities: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		json.NewEncoder(os.Stdout).Encode(ids)
		return
	}

	for _, id := range ids {
		fmt.Printf("%-36s %-20s role=%-12s sessions=%d connected=%v\n",
			id.AgentID, id.DisplayName, id.CurrentRole, id.Stats.TotalSessions, id.Connected())
	}
	fmt.Printf("%d identities total\n", len(ids))
}

func showIdentity(workspace, agentID string, jsonOutput bool) {
	p := identity.NewPersister(workspace + "/identities.json")
	ids, err := p.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read identities: %v\n", err)
		os.Exit(1)
	}

	for _, id := range ids {
		if id.AgentID == agentID {
			if jsonOutput {
				json.NewEncoder(os.Stdout).Encode(identity.BuildCard(id))
			} else {
				card := identity.BuildCard(id)
				fmt.Printf("%s (%s): rank=%s achievements=%v\n", card.DisplayName, card.AgentID, card.Rank.Title, card.Achievements)
			}
			return
		}
	}
	fmt.Fprintf(os.Stderr, "agent %s not found\n", agentID)
	os.Exit(1)
}

func listTasks(workspace string, jsonOutput bool) {
	db, err := sql.Open("sqlite", workspace+"/task-claims.db")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open claim store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT task_id, owner_agent_id, claimed_at, status FROM claims`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read claims: %v\n", err)
		os.Exit(1)
	}
	defer rows.Close()

	type row struct {
		TaskID    string `json:"taskId"`
		OwnerID   string `json:"ownerAgentId"`
		ClaimedAt string `json:"claimedAt"`
		Status    string `json:"status"`
	}
	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.TaskID, &r.OwnerID, &r.ClaimedAt, &r.Status); err != nil {
			fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
			os.Exit(1)
		}
		out = append(out, r)
	}

	if jsonOutput {
		json.NewEncoder(os.Stdout).Encode(out)
		return
	}
	for _, r := range out {
		fmt.Printf("%-20s owner=%-36s status=%-12s claimed=%s\n", r.TaskID, r.OwnerID, r.Status, r.ClaimedAt)
	}
	fmt.Printf("%d claims total\n", len(out))
}
