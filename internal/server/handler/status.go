package handler

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// StatusHandler serves the backend status for the dashboard.
type StatusHandler struct {
	session   SessionService
	conn      Connection
	mode      string
	startedAt time.Time
	proc      *process.Process
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. conn may be nil before the
// broker connection exists.
func NewStatusHandler(sess SessionService, conn Connection, mode string, logger *slog.Logger) *StatusHandler {
	h := &StatusHandler{
		session:   sess,
		conn:      conn,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("handler: process stats unavailable", slog.String("error", err.Error()))
	} else {
		h.proc = p
	}
	return h
}

type connectionStatus struct {
	State      string `json:"state"`
	Pending    int    `json:"pending_requests"`
	Reconnects int64  `json:"reconnects"`
}

type processStatus struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
}

// GetStatus responds with the session, connection and process status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"session":        h.session.Status(r.Context()),
		"process":        h.processStatus(r.Context()),
	}
	if h.conn != nil {
		resp["connection"] = connectionStatus{
			State:      h.conn.State().String(),
			Pending:    h.conn.Pending(),
			Reconnects: h.conn.Reconnects(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) processStatus(ctx context.Context) processStatus {
	ps := processStatus{Goroutines: runtime.NumGoroutine()}
	if h.proc == nil {
		return ps
	}
	if mem, err := h.proc.MemoryInfoWithContext(ctx); err == nil {
		ps.RSSBytes = mem.RSS
	}
	if cpu, err := h.proc.CPUPercentWithContext(ctx); err == nil {
		ps.CPUPercent = cpu
	}
	return ps
}
