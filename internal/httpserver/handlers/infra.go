package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/httpserver/deps"
	"github.com/ephyr-control/ephyrsub/internal/orchestrator"
)

type componentStatus struct {
	OK        bool                           `json:"ok"`
	Entries   *int                           `json:"entries,omitempty"`
	Changes   *uint64                        `json:"changes,omitempty"`
	LastWrite string                         `json:"last_write,omitempty"`
	Tasks     map[orchestrator.TaskState]int `json:"tasks,omitempty"`
	Mode      string                         `json:"mode,omitempty"`
	Impact    string                         `json:"impact,omitempty"`
	Error     string                         `json:"error,omitempty"`
}

type infraResponse struct {
	Mode       string                     `json:"mode"`
	Components map[string]componentStatus `json:"components"`
}

func Infra(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := d.State.Stats()
		counts := d.Tasks.Counts()

		components := map[string]componentStatus{
			"aggregate": {
				OK:      stats.Entries > 0,
				Entries: &stats.Entries,
				Changes: &stats.Changes,
			},
			"subscriptions": {
				OK:    counts[orchestrator.StateStreaming] > 0,
				Tasks: counts,
			},
			"persistence": checkDumper(d),
			"redis":       checkRedis(r.Context(), d),
		}

		writeJSON(w, d, http.StatusOK, infraResponse{
			Mode:       determineMode(components, counts),
			Components: components,
		})
	}
}

// determineMode: critical when nothing streams, degraded when any task ended
// or a side component is down.
func determineMode(components map[string]componentStatus, counts map[orchestrator.TaskState]int) string {
	if !components["subscriptions"].OK {
		return "critical"
	}
	if counts[orchestrator.StateTerminated] > 0 {
		return "degraded"
	}
	if !components["persistence"].OK {
		return "degraded"
	}
	if redis := components["redis"]; !redis.OK && redis.Mode != "disabled" {
		return "degraded"
	}
	return "healthy"
}

func checkDumper(d deps.Deps) componentStatus {
	if d.Dumper == nil {
		return componentStatus{OK: false, Mode: "disabled", Impact: "no-snapshot-file"}
	}
	st := d.Dumper.Status()
	cs := componentStatus{
		OK:    st.LastError == "",
		Mode:  st.Interval,
		Error: st.LastError,
	}
	if !st.LastWrite.IsZero() {
		cs.LastWrite = st.LastWrite.Format(time.RFC3339)
	}
	if !cs.OK {
		cs.Impact = "snapshot-file-stale"
	}
	return cs
}

func checkRedis(ctx context.Context, d deps.Deps) componentStatus {
	if d.RedisClient == nil {
		return componentStatus{OK: false, Mode: "disabled"}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.RedisClient.Ping(ctx).Err(); err != nil {
		return componentStatus{
			OK:     false,
			Mode:   "degraded",
			Impact: "mirror-and-diff-feed-disabled",
			Error:  err.Error(),
		}
	}
	return componentStatus{OK: true, Mode: "mirroring"}
}
