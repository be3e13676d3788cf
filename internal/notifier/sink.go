// Package notifier implements the escalation daemon's notification sink: a
// thin adapter that shells out to an external notifier binary and reports
// only its exit status. The sink never retries; escalation semantics already
// encode retry via the timer engine's next scheduled event.
package notifier

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

// Outcome describes the result of a single fire attempt.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNonzero      Outcome = "nonzero"
	OutcomeSpawnFailed  Outcome = "spawn_failed"
	emergencyPriority           = 2
	emergencyRetrySecs          = 60
	emergencyExpireSecs         = 3600
	maxTitleLen                 = 250
	maxMessageLen               = 1024
)

// Sink spawns a configured notifier binary per fire() call.
type Sink struct {
	binPath string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithTimeout overrides the default notifier process timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Sink) { s.timeout = d }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// New builds a Sink that invokes binPath for every fire.
func New(binPath string, opts ...Option) *Sink {
	s := &Sink{
		binPath: binPath,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Fire executes the notifier with (title, message, priority), adding
// --retry/--expire when priority is the emergency tier. It never returns an
// error to the caller beyond the Outcome classification; callers that need
// to distinguish failure modes inspect the returned Outcome.
func (s *Sink) Fire(ctx context.Context, title, message string, priority int) Outcome {
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen]
	}
	if len(message) > maxMessageLen {
		message = message[:maxMessageLen]
	}

	args := []string{title, message, strconv.Itoa(priority)}
	if priority == emergencyPriority {
		args = append(args, "--retry", strconv.Itoa(emergencyRetrySecs), "--expire", strconv.Itoa(emergencyExpireSecs))
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, s.binPath, args...)
	err := cmd.Run()

	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(cctx.Err(), context.DeadlineExceeded):
		s.logger.Error("notifier timed out", "bin", s.binPath, "title", title)
		return OutcomeTimeout
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.logger.Error("notifier exited nonzero", "bin", s.binPath, "title", title, "error", err)
			return OutcomeNonzero
		}
		s.logger.Error("notifier failed to spawn", "bin", s.binPath, "title", title, "error", err)
		return OutcomeSpawnFailed
	}
}

// TitleForPriority returns the notification title for a given priority,
// per the daemon's priority→title mapping.
func TitleForPriority(priority int) string {
	if priority == emergencyPriority {
		return "Claude Permission (1hr)"
	}
	return "Claude Permission"
}
