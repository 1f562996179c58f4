package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/logger"
	"github.com/ephyr-control/ephyrsub/internal/utils"
)

// DefaultDumpInterval is how often the snapshot file is rewritten
const DefaultDumpInterval = time.Second

// Snapshotter is anything that can hand out a copy of the aggregate state.
type Snapshotter interface {
	Snapshot() map[string]domain.InstanceState
}

// DumperStatus describes the persistence loop for operators.
type DumperStatus struct {
	Path      string    `json:"path"`
	Interval  string    `json:"interval"`
	Writes    int       `json:"writes"`
	Failures  int       `json:"failures"`
	LastWrite time.Time `json:"last_write"`
	LastError string    `json:"last_error,omitempty"`
}

// StateDumper periodically writes the aggregate state to a JSON file.
// Every write goes to a temp file in the same directory which is then
// renamed over the target, so readers only ever see complete files.
type StateDumper struct {
	source   Snapshotter
	path     string
	interval time.Duration
	logger   logger.Logger
	trigger  chan struct{}

	mu     sync.Mutex
	status DumperStatus
}

// NewStateDumper creates a new state dumper
func NewStateDumper(source Snapshotter, path string, interval time.Duration, log logger.Logger) *StateDumper {
	if interval <= 0 {
		interval = DefaultDumpInterval
	}
	return &StateDumper{
		source:   source,
		path:     path,
		interval: interval,
		logger:   log,
		trigger:  make(chan struct{}, 1),
		status: DumperStatus{
			Path:     path,
			Interval: interval.String(),
		},
	}
}

func (d *StateDumper) Path() string { return d.path }

// Run writes once immediately, then on every tick until ctx is done, and a
// last time on the way out. Write failures are logged; the loop keeps going.
func (d *StateDumper) Run(ctx context.Context) error {
	d.logger.Info("state dumper started",
		logger.String("path", d.path),
		logger.Duration("interval", d.interval))

	d.dump()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.dump()
		case <-d.trigger:
			d.logger.Debug("manual state dump triggered")
			d.dump()
		case <-ctx.Done():
			d.dump()
			d.logger.Info("state dumper stopped", logger.String("path", d.path))
			return nil
		}
	}
}

// Trigger asks a running loop for an extra write. It never blocks and
// reports false when a write is already pending.
func (d *StateDumper) Trigger() bool {
	select {
	case d.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (d *StateDumper) dump() {
	err := d.WriteOnce()

	d.mu.Lock()
	if err != nil {
		d.status.Failures++
		d.status.LastError = err.Error()
	} else {
		d.status.Writes++
		d.status.LastWrite = time.Now()
		d.status.LastError = ""
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error("failed to dump state", logger.String("path", d.path), logger.Error(err))
	}
}

// WriteOnce writes the current snapshot to the target file atomically.
func (d *StateDumper) WriteOnce() error {
	data, err := json.Marshal(d.source.Snapshot())
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %v", domain.ErrPersistence, err)
	}
	if err := writeFileAtomic(d.path, data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (d *StateDumper) Status() DumperStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func writeFileAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			utils.Close(tmp)
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
