package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/hmyuuu/escalationd/internal/metrics"
	"github.com/hmyuuu/escalationd/internal/scheduler"
	"github.com/hmyuuu/escalationd/internal/session"
)

// Engine is the subset of the scheduler the RPC server dispatches to.
type Engine interface {
	Add(id, message string, delays []int)
	Cancel(id string) bool
	Status() []scheduler.GroupStatus
}

// Sessions is the subset of the session registry the RPC server dispatches
// to.
type Sessions interface {
	Register(sessionID string, pid int32, hasPID bool) (string, int)
	Unregister(sessionID string) (id string, count int, shuttingDown bool)
	Count() int
	Snapshot() map[string]session.SessionView
}

// Shutdowner is invoked by the shutdown command.
type Shutdowner interface {
	RequestShutdown()
}

// Server is the daemon's RPC listener: it accept()s with a poll timeout so
// the running flag is re-checked, and dispatches each connection to a
// transient worker goroutine.
type Server struct {
	listener    net.Listener
	engine      Engine
	sessions    Sessions
	shutdowner  Shutdowner
	logger      *slog.Logger
	connTimeout time.Duration
	acceptPoll  time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithConnTimeout overrides the per-connection read/write deadline.
func WithConnTimeout(d time.Duration) Option {
	return func(s *Server) { s.connTimeout = d }
}

// WithAcceptPoll overrides the accept loop's poll timeout.
func WithAcceptPoll(d time.Duration) Option {
	return func(s *Server) { s.acceptPoll = d }
}

// New builds a Server over an already-bound listener.
func New(listener net.Listener, engine Engine, sessions Sessions, shutdowner Shutdowner, opts ...Option) *Server {
	s := &Server{
		listener:    listener,
		engine:      engine,
		sessions:    sessions,
		shutdowner:  shutdowner,
		logger:      slog.Default(),
		connTimeout: 30 * time.Second,
		acceptPoll:  1 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// deadliner is implemented by *net.UnixListener; abstracted for testability
// over other listener types that don't support SetDeadline.
type deadliner interface {
	SetDeadline(time.Time) error
}

// Serve runs the accept loop until running returns false. It re-checks
// running on every acceptPoll timeout.
func (s *Server) Serve(running func() bool) {
	for running() {
		if dl, ok := s.listener.(deadliner); ok {
			_ = dl.SetDeadline(time.Now().Add(s.acceptPoll))
		}
		conn, err := s.listener.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !running() {
				return
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.connTimeout))

	payload, err := readFrame(conn)
	if err != nil {
		s.logger.Debug("framing error, closing without reply", "error", err, "remote", conn.RemoteAddr())
		metrics.FramingErrorsTotal.Inc()
		return
	}

	var req Request
	if jsonErr := json.Unmarshal(payload, &req); jsonErr != nil {
		s.logger.Debug("malformed JSON, closing without reply", "error", jsonErr)
		metrics.FramingErrorsTotal.Inc()
		return
	}

	resp := s.dispatch(req)
	body, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", "error", err)
		return
	}
	if err := writeFrame(conn, body); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

func (s *Server) dispatch(req Request) map[string]any {
	metrics.RequestsTotal.WithLabelValues(req.Command).Inc()

	switch req.Command {
	case CommandAdd:
		return s.handleAdd(req)
	case CommandCancel:
		return s.handleCancel(req)
	case CommandStatus:
		return s.handleStatus()
	case CommandRegisterSession:
		return s.handleRegister(req)
	case CommandUnregisterSession:
		return s.handleUnregister(req)
	case CommandShutdown:
		return s.handleShutdown()
	default:
		return errorResponse(fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (s *Server) handleAdd(req Request) map[string]any {
	if req.EscalationID == "" || req.Message == "" {
		return errorResponse("add requires escalation_id and message")
	}
	if len(req.EscalationID) > maxEscalationIDBytes {
		return errorResponse("escalation_id exceeds maximum length")
	}
	if len(req.Message) > maxMessageFieldBytes {
		return errorResponse("message exceeds maximum length")
	}

	delays := req.Delays
	if delays == nil {
		delays = DefaultDelays
	}
	s.engine.Add(req.EscalationID, req.Message, delays)
	return okResponse(map[string]any{"escalation_id": req.EscalationID})
}

func (s *Server) handleCancel(req Request) map[string]any {
	if req.EscalationID == "" {
		return errorResponse("cancel requires escalation_id")
	}
	cancelled := s.engine.Cancel(req.EscalationID)
	return okResponse(map[string]any{"cancelled": cancelled})
}

func (s *Server) handleStatus() map[string]any {
	groups := s.engine.Status()
	pending := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		pending = append(pending, map[string]any{
			"escalation_id": g.EscalationID,
			"message":       g.Message,
			"pending_count": g.PendingCount,
			"next_fire_in":  g.NextFireIn.Seconds(),
		})
	}

	sessions := make(map[string]any, s.sessions.Count())
	for id, v := range s.sessions.Snapshot() {
		entry := map[string]any{
			"registered_at": v.RegisteredAt.Unix(),
			"age":           v.Age.Seconds(),
		}
		if v.HasPID {
			entry["pid"] = v.PID
		}
		sessions[id] = entry
	}

	return okResponse(map[string]any{
		"pending":       pending,
		"session_count": s.sessions.Count(),
		"sessions":      sessions,
	})
}

func (s *Server) handleRegister(req Request) map[string]any {
	var pid int32
	hasPID := req.PID != nil
	if hasPID {
		pid = *req.PID
	}
	id, count := s.sessions.Register(req.SessionID, pid, hasPID)
	return okResponse(map[string]any{"session_id": id, "session_count": count})
}

func (s *Server) handleUnregister(req Request) map[string]any {
	id, count, shuttingDown := s.sessions.Unregister(req.SessionID)
	if shuttingDown {
		s.shutdowner.RequestShutdown()
	}
	return okResponse(map[string]any{
		"session_id":    id,
		"session_count": count,
		"shutting_down": shuttingDown,
	})
}

func (s *Server) handleShutdown() map[string]any {
	s.shutdowner.RequestShutdown()
	return okResponse(map[string]any{"message": "shutting down"})
}
