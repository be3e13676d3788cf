// Package cliutil implements escctl, the escalation daemon's control CLI: a
// thin wrapper over internal/client's RPCs, plus the start-if-needed
// protocol hook scripts rely on before their first RPC.
package cliutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/hmyuuu/escalationd/internal/client"
	"github.com/hmyuuu/escalationd/internal/config"
	"github.com/hmyuuu/escalationd/internal/lifecycle"
)

// ExitCode is the process exit status: 0 success, 1 any failure (service
// down, RPC error, ID not found on cancel).
type ExitCode int

const (
	exitCodeSuccess ExitCode = 0
	exitCodeError   ExitCode = 1
)

// ctxKey namespaces values stashed on cobra's command context.
type ctxKey string

const ctxKeyClient ctxKey = "client"

// Run builds and executes the escctl root command, returning the process
// exit code.
func Run() ExitCode {
	slog.SetDefault(newLogger())
	cfg := config.Default()

	rootCmd := &cobra.Command{
		Use:   "escctl",
		Short: "Control the escalation-notification daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfg.SocketPath, "sock", cfg.SocketPath, "path to the daemon's Unix socket")
	rootCmd.PersistentFlags().StringVar(&cfg.LockPath, "lock", cfg.LockPath, "path to the start-if-needed lockfile")
	rootCmd.PersistentFlags().StringVar(&cfg.DaemonPath, "daemon-path", cfg.DaemonPath, "path to the escalationd binary, used to auto-start the service")

	rootCmd.AddCommand(
		NewStartCmd().Command(),
		NewStopCmd().Command(),
		NewStatusCmd().Command(),
		NewAddCmd().Command(),
		NewCancelCmd().Command(),
		NewRegisterCmd().Command(),
		NewUnregisterCmd().Command(),
	)

	if err := rootCmd.Execute(); err != nil {
		return exitCodeError
	}
	return exitCodeSuccess
}

func newLogger() *slog.Logger {
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.Kitchen,
	}))
}

// withClient wires a client.Client built from the root command's persistent
// flags into f.
func withClient(f func(ctx context.Context, cl *client.Client, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		sock, err := cmd.Root().PersistentFlags().GetString("sock")
		if err != nil {
			return fmt.Errorf("reading --sock flag: %w", err)
		}
		cl := client.New(sock)
		ctx := context.WithValue(cmd.Context(), ctxKeyClient, cl)
		return f(ctx, cl, cmd, args)
	}
}

// ensureStarted runs the client-side start-if-needed protocol using the
// root command's --sock/--lock/--daemon-path flags.
func ensureStarted(ctx context.Context, cmd *cobra.Command) (bool, error) {
	sock, err := cmd.Root().PersistentFlags().GetString("sock")
	if err != nil {
		return false, err
	}
	lock, err := cmd.Root().PersistentFlags().GetString("lock")
	if err != nil {
		return false, err
	}
	daemonPath, err := cmd.Root().PersistentFlags().GetString("daemon-path")
	if err != nil {
		return false, err
	}
	return lifecycle.StartIfNeeded(ctx, sock, lock, daemonPath, nil)
}
