package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"pf-ledger/internal/httputil"
)

type Handler struct {
	pool      *pgxpool.Pool
	startedAt time.Time
}

func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool, startedAt: time.Now().UTC()}
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
}

type readyResponse struct {
	Status   string `json:"status"`
	Database dbStat `json:"database"`
}

type dbStat struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

// Live reports process liveness and does not touch the database.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(now.Sub(h.startedAt).Seconds()),
	})
}

// Ready pings the database and returns 503 when it is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	start := time.Now()
	err := h.pool.Ping(ctx)
	ping := time.Since(start).Milliseconds()

	status := "ok"
	httpStatus := http.StatusOK
	db := dbStat{Reachable: true, PingMs: ping}
	if err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		db.Reachable = false
		db.Error = err.Error()
	}
	httputil.WriteJSON(w, httpStatus, readyResponse{Status: status, Database: db})
}
