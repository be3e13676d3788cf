package cliutil

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
)

// StopCmd implements `escctl stop`.
type StopCmd struct{}

func NewStopCmd() *StopCmd { return &StopCmd{} }

func (c *StopCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Force stop the escalation service",
		RunE: withClient(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
			if !cl.IsRunning(ctx) {
				fmt.Println("Service is not running")
				return nil
			}

			fmt.Println("Stopping escalation service...")
			resp, err := cl.Shutdown(ctx)
			if err != nil || resp["status"] != "ok" {
				return fmt.Errorf("failed to stop service")
			}
			fmt.Println("Service stopped")
			return nil
		}),
	}
}
