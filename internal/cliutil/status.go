package cliutil

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
)

// StatusCmd implements `escctl status`.
type StatusCmd struct{}

func NewStatusCmd() *StatusCmd { return &StatusCmd{} }

func (c *StatusCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sessions (with PIDs) and pending escalations",
		RunE: withClient(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
			if !cl.IsRunning(ctx) {
				fmt.Println("Service is not running")
				return fmt.Errorf("service not running")
			}

			resp, err := cl.Status(ctx)
			if err != nil {
				return fmt.Errorf("getting status: %w", err)
			}

			sessions, _ := resp["sessions"].(map[string]any)
			pending, _ := resp["pending"].([]any)

			fmt.Printf("Service is running. %d session(s):\n", len(sessions))
			if len(sessions) > 0 {
				renderSessionsTable(sessions)
			}
			fmt.Println()

			if len(pending) == 0 {
				fmt.Println("No pending escalations.")
				return nil
			}
			fmt.Printf("%d pending escalation(s):\n", len(pending))
			renderPendingTable(pending)
			return nil
		}),
	}
}

func renderSessionsTable(sessions map[string]any) {
	ids := make([]string, 0, len(sessions))
	for id := range sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Session", "PID", "Age\n(s)"})

	for _, id := range ids {
		info, _ := sessions[id].(map[string]any)
		pid := "-"
		if v, ok := info["pid"]; ok {
			pid = fmt.Sprintf("%v", v)
		}
		age, _ := info["age"].(float64)
		table.Append([]string{id, pid, fmt.Sprintf("%.0f", age)})
	}
	table.Render()
}

func renderPendingTable(pending []any) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"ID", "Message", "Pending\n(#)", "Next Fire\n(s)"})

	for _, raw := range pending {
		item, _ := raw.(map[string]any)
		eid, _ := item["escalation_id"].(string)
		msg, _ := item["message"].(string)
		count, _ := item["pending_count"].(float64)
		nextFire, _ := item["next_fire_in"].(float64)
		table.Append([]string{eid, msg, fmt.Sprintf("%.0f", count), fmt.Sprintf("%.0f", nextFire)})
	}
	table.Render()
}
