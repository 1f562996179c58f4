package orchestrator

import (
	"sync"
	"time"
)

// TaskState is where a task is in its life cycle.
// There is no reconnecting state: a terminated task stays terminated.
type TaskState string

const (
	StateIdle       TaskState = "idle"
	StateConnecting TaskState = "connecting"
	StateStreaming  TaskState = "streaming"
	StateTerminated TaskState = "terminated"
)

// TaskStatus is the public view of one task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	State     TaskState `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Updates   uint64    `json:"updates"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Board tracks the status of every task of a run.
type Board struct {
	mu    sync.RWMutex
	order []string
	tasks map[string]*TaskStatus
}

func NewBoard() *Board {
	return &Board{tasks: make(map[string]*TaskStatus)}
}

func (b *Board) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.order = nil
	b.tasks = make(map[string]*TaskStatus)
}

func (b *Board) register(name, addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tasks[name]; !ok {
		b.order = append(b.order, name)
	}
	b.tasks[name] = &TaskStatus{Name: name, Address: addr, State: StateIdle}
}

func (b *Board) update(name string, fn func(*TaskStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.tasks[name]; ok {
		fn(t)
	}
}

func (b *Board) connecting(name string) {
	b.update(name, func(t *TaskStatus) {
		t.State = StateConnecting
		t.StartedAt = time.Now()
	})
}

func (b *Board) streaming(name, sessionID string) {
	b.update(name, func(t *TaskStatus) {
		t.State = StateStreaming
		t.SessionID = sessionID
	})
}

func (b *Board) updated(name string) {
	b.update(name, func(t *TaskStatus) { t.Updates++ })
}

func (b *Board) terminated(name string, err error) {
	b.update(name, func(t *TaskStatus) {
		t.State = StateTerminated
		t.EndedAt = time.Now()
		if err != nil {
			t.Error = err.Error()
		}
	})
}

// List returns every task in registration order.
func (b *Board) List() []TaskStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]TaskStatus, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, *b.tasks[name])
	}
	return out
}

func (b *Board) Get(name string) (TaskStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tasks[name]
	if !ok {
		return TaskStatus{}, false
	}
	return *t, true
}

// Counts returns how many tasks are in each state.
func (b *Board) Counts() map[TaskState]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[TaskState]int, 4)
	for _, t := range b.tasks {
		out[t.State]++
	}
	return out
}
