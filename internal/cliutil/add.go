package cliutil

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
)

// AddCmd implements `escctl add <id> <message> [--delays c,c,...]`.
type AddCmd struct{}

func NewAddCmd() *AddCmd { return &AddCmd{} }

func (c *AddCmd) Command() *cobra.Command {
	var delaysFlag string

	cmd := &cobra.Command{
		Use:   "add <escalation-id> <message>",
		Short: "Add an escalation manually",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error {
			escalationID, message := args[0], args[1]

			var delays []int
			if delaysFlag != "" {
				parsed, err := parseDelays(delaysFlag)
				if err != nil {
					return err
				}
				delays = parsed
			}

			if _, err := ensureStarted(ctx, cmd); err != nil {
				return fmt.Errorf("starting service: %w", err)
			}

			resp, err := cl.Add(ctx, escalationID, message, delays)
			if err != nil || resp["status"] != "ok" {
				return fmt.Errorf("failed to add escalation")
			}
			fmt.Printf("Added escalation: %s\n", escalationID)
			return nil
		}),
	}

	cmd.Flags().StringVar(&delaysFlag, "delays", "", "comma-separated delays in seconds (default: 60,3600)")
	return cmd
}

func parseDelays(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	delays := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid --delays value %q: %w", s, err)
		}
		delays = append(delays, n)
	}
	return delays, nil
}
