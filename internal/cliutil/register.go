package cliutil

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
)

// RegisterCmd implements `escctl register [--session-id ID] [--pid PID]`.
type RegisterCmd struct{}

func NewRegisterCmd() *RegisterCmd { return &RegisterCmd{} }

func (c *RegisterCmd) Command() *cobra.Command {
	var sessionID string
	var pid int32

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a session with PID tracking",
		RunE: withClient(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
			if _, err := ensureStarted(ctx, cmd); err != nil {
				return fmt.Errorf("starting service: %w", err)
			}

			if !cmd.Flags().Changed("pid") {
				pid = int32(os.Getppid())
			}

			resp, err := cl.RegisterSession(ctx, sessionID, pid, true)
			if err != nil || resp["status"] != "ok" {
				return fmt.Errorf("failed to register session")
			}

			sid, _ := resp["session_id"].(string)
			if sid == "" {
				sid = "unknown"
			}
			count, _ := resp["session_count"].(float64)
			if count == 0 {
				count = 1
			}
			fmt.Printf("Session registered: %s (pid=%d, count=%.0f)\n", sid, pid, count)
			return nil
		}),
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "session ID (default: auto-generated)")
	cmd.Flags().Int32Var(&pid, "pid", 0, "PID to track (default: current shell PID)")
	return cmd
}
