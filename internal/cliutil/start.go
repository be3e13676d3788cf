package cliutil

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
)

// StartCmd implements `escctl start`.
type StartCmd struct{}

func NewStartCmd() *StartCmd { return &StartCmd{} }

func (c *StartCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the escalation service if not already running",
		RunE: withClient(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
			if cl.IsRunning(ctx) {
				fmt.Println("Service is already running")
				return nil
			}

			fmt.Println("Starting escalation service...")
			ok, err := ensureStarted(ctx, cmd)
			if err != nil || !ok {
				return fmt.Errorf("failed to start service")
			}
			fmt.Println("Service started successfully")
			return nil
		}),
	}
}
