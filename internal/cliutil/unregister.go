package cliutil

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
)

// UnregisterCmd implements `escctl unregister [--session-id ID]`.
type UnregisterCmd struct{}

func NewUnregisterCmd() *UnregisterCmd { return &UnregisterCmd{} }

func (c *UnregisterCmd) Command() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "unregister",
		Short: "Unregister a session",
		RunE: withClient(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
			if !cl.IsRunning(ctx) {
				fmt.Println("Service is not running")
				return fmt.Errorf("service not running")
			}

			resp, err := cl.UnregisterSession(ctx, sessionID)
			if err != nil || resp["status"] != "ok" {
				return fmt.Errorf("failed to unregister session")
			}

			sid, _ := resp["session_id"].(string)
			if sid == "" {
				sid = "unknown"
			}
			if shuttingDown, _ := resp["shutting_down"].(bool); shuttingDown {
				fmt.Printf("Session unregistered: %s. Last session, service shutting down.\n", sid)
				return nil
			}
			count, _ := resp["session_count"].(float64)
			fmt.Printf("Session unregistered: %s (count=%.0f)\n", sid, count)
			return nil
		}),
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session ID to unregister (default: oldest)")
	return cmd
}
