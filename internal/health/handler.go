package health

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"time"

	"lv-papertrade/internal/httputil"
)

// Pinger is anything whose reachability can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependency struct {
	name     string
	pinger   Pinger
	required bool
}

type Handler struct {
	deps      []dependency
	startedAt time.Time
	timeout   time.Duration
}

func NewHandler(startedAt time.Time) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{startedAt: start, timeout: time.Second}
}

// Require registers a dependency whose failure makes the service not ready.
func (h *Handler) Require(name string, p Pinger) *Handler {
	h.deps = append(h.deps, dependency{name: name, pinger: p, required: true})
	return h
}

// Observe registers a dependency that is reported but never fails
// readiness, for components with a fallback path.
func (h *Handler) Observe(name string, p Pinger) *Handler {
	h.deps = append(h.deps, dependency{name: name, pinger: p})
	return h
}

type dependencyStat struct {
	Reachable bool   `json:"reachable"`
	Required  bool   `json:"required"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type runtimeStats struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

type readinessResponse struct {
	Status       string                    `json:"status"`
	Timestamp    string                    `json:"timestamp"`
	UptimeSec    int64                     `json:"uptime_sec"`
	Uptime       string                    `json:"uptime"`
	Dependencies map[string]dependencyStat `json:"dependencies"`
	Runtime      runtimeStats              `json:"runtime"`
}

type liveResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	UptimeSec int64  `json:"uptime_sec"`
	Uptime    string `json:"uptime"`
}

func (h *Handler) uptime(now time.Time) time.Duration {
	uptime := now.Sub(h.startedAt)
	if uptime < 0 {
		return 0
	}
	return uptime
}

func (h *Handler) check(ctx context.Context) (map[string]dependencyStat, bool) {
	out := make(map[string]dependencyStat, len(h.deps))
	ready := true
	for _, d := range h.deps {
		start := time.Now()
		pingCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := d.pinger.Ping(pingCtx)
		cancel()
		stat := dependencyStat{Required: d.required, PingMs: time.Since(start).Milliseconds(), Reachable: err == nil}
		if err != nil {
			stat.Error = err.Error()
			if d.required {
				ready = false
			}
		}
		out[d.name] = stat
	}
	return out, ready
}

// Live does not touch any dependency.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	httputil.WriteJSON(w, http.StatusOK, liveResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: int64(uptime.Seconds()),
		Uptime:    uptime.String(),
	})
}

// Ready pings every dependency and returns 503 when a required one is down.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	uptime := h.uptime(now)
	deps, ready := h.check(r.Context())
	status, code := "ok", http.StatusOK
	if !ready {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	httputil.WriteJSON(w, code, readinessResponse{
		Status:       status,
		Timestamp:    now.Format(time.RFC3339),
		UptimeSec:    int64(uptime.Seconds()),
		Uptime:       uptime.String(),
		Dependencies: deps,
		Runtime: runtimeStats{
			GoVersion:      runtime.Version(),
			Goroutines:     runtime.NumGoroutine(),
			HeapAllocBytes: mem.HeapAlloc,
			NumGC:          mem.NumGC,
		},
	})
}

// Metrics renders a Prometheus text exposition.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	uptime := h.uptime(time.Now().UTC())
	deps, _ := h.check(r.Context())
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "# HELP papertrade_up Service process is running.\n")
	_, _ = fmt.Fprintf(w, "# TYPE papertrade_up gauge\n")
	_, _ = fmt.Fprintf(w, "papertrade_up 1\n")
	_, _ = fmt.Fprintf(w, "# HELP papertrade_uptime_seconds Service uptime in seconds.\n")
	_, _ = fmt.Fprintf(w, "# TYPE papertrade_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "papertrade_uptime_seconds %d\n", int64(uptime.Seconds()))
	_, _ = fmt.Fprintf(w, "# HELP papertrade_dependency_up Dependency ping status (1=ok,0=down).\n")
	_, _ = fmt.Fprintf(w, "# TYPE papertrade_dependency_up gauge\n")
	for _, name := range names {
		up := 0
		if deps[name].Reachable {
			up = 1
		}
		_, _ = fmt.Fprintf(w, "papertrade_dependency_up{name=%q} %d\n", name, up)
	}
	_, _ = fmt.Fprintf(w, "papertrade_go_goroutines %d\n", runtime.NumGoroutine())
}
