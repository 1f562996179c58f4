package deps

import (
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/logger"
	"github.com/ephyr-control/ephyrsub/internal/orchestrator"
	"github.com/ephyr-control/ephyrsub/internal/scheduler"
	"github.com/ephyr-control/ephyrsub/internal/state"
)

// StateReader is the read side of the aggregate.
type StateReader interface {
	Snapshot() map[string]domain.InstanceState
	Get(addr string) (domain.InstanceState, bool)
	Count() int
	Stats() state.Stats
}

// TaskBoard exposes the orchestrator task states.
type TaskBoard interface {
	List() []orchestrator.TaskStatus
	Get(name string) (orchestrator.TaskStatus, bool)
	Counts() map[orchestrator.TaskState]int
}

// Dumper is the persistence loop as seen by the API.
type Dumper interface {
	Trigger() bool
	Status() scheduler.DumperStatus
}

type Deps struct {
	Logger       logger.Logger
	StartTime    time.Time
	Version      string
	Commit       string
	BuildDate    string
	GoVersion    string
	AllowedCIDRS []string      // IPs allowed to access everything but /healthz
	TrustProxy   bool          // true if running behind a trusted reverse proxy
	RedisClient  *redis.Client // nil when the Redis mirror is disabled
	State        StateReader
	Tasks        TaskBoard
	Dumper       Dumper
}
