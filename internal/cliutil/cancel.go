package cliutil

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
)

// CancelCmd implements `escctl cancel <id>`.
type CancelCmd struct{}

func NewCancelCmd() *CancelCmd { return &CancelCmd{} }

func (c *CancelCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <escalation-id>",
		Short: "Cancel an escalation",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
			escalationID := args[0]

			if !cl.IsRunning(ctx) {
				fmt.Println("Service is not running")
				return fmt.Errorf("service not running")
			}

			resp, err := cl.Cancel(ctx, escalationID)
			if err != nil || resp["status"] != "ok" {
				return fmt.Errorf("failed to cancel escalation")
			}

			if cancelled, _ := resp["cancelled"].(bool); cancelled {
				fmt.Printf("Cancelled escalation: %s\n", escalationID)
			} else {
				fmt.Printf("No escalation found with ID: %s\n", escalationID)
				return fmt.Errorf("no escalation found with ID %s", escalationID)
			}
			return nil
		}),
	}
}
