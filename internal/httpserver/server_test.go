package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/httpserver/deps"
	"github.com/ephyr-control/ephyrsub/internal/logger"
	"github.com/ephyr-control/ephyrsub/internal/orchestrator"
	"github.com/ephyr-control/ephyrsub/internal/scheduler"
	"github.com/ephyr-control/ephyrsub/internal/state"
)

type fakeBoard struct {
	tasks []orchestrator.TaskStatus
}

func (b fakeBoard) List() []orchestrator.TaskStatus { return b.tasks }

func (b fakeBoard) Get(name string) (orchestrator.TaskStatus, bool) {
	for _, t := range b.tasks {
		if t.Name == name {
			return t, true
		}
	}
	return orchestrator.TaskStatus{}, false
}

func (b fakeBoard) Counts() map[orchestrator.TaskState]int {
	out := make(map[orchestrator.TaskState]int)
	for _, t := range b.tasks {
		out[t.State]++
	}
	return out
}

type fakeDumper struct {
	accept bool
	calls  int
}

func (f *fakeDumper) Trigger() bool {
	f.calls++
	return f.accept
}

func (f *fakeDumper) Status() scheduler.DumperStatus {
	return scheduler.DumperStatus{Path: "state.json", Interval: "1s", Writes: 3}
}

func testDeps(t *testing.T, tasks []orchestrator.TaskStatus, dumper deps.Dumper) deps.Deps {
	t.Helper()
	store := state.NewStore()
	store.Seed([]domain.Instance{
		{IPv4: "10.0.0.1", Password: "secret"},
		{IPv4: "10.0.0.2", Title: "beta"},
	})
	next := domain.NewInstanceState(domain.Instance{IPv4: "10.0.0.1", Password: "secret"})
	next.Restreams = []domain.Restream{{Key: "main"}}
	store.Replace("10.0.0.1", next)

	return deps.Deps{
		Logger:    logger.Nop(),
		StartTime: time.Now(),
		Version:   "test",
		State:     store,
		Tasks:     fakeBoard{tasks: tasks},
		Dumper:    dumper,
	}
}

func streaming() []orchestrator.TaskStatus {
	return []orchestrator.TaskStatus{
		{Name: "10.0.0.1", Address: "10.0.0.1", State: orchestrator.StateStreaming, SessionID: "s1"},
		{Name: "10.0.0.2", Address: "10.0.0.2", State: orchestrator.StateTerminated, Error: "boom"},
		{Name: orchestrator.PersistenceTask, State: orchestrator.StateStreaming},
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewRouter(testDeps(t, nil, nil))
	rec := do(t, h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" || body["instances"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name  string
		tasks []orchestrator.TaskStatus
		want  int
	}{
		{name: "one instance streaming", tasks: streaming(), want: http.StatusOK},
		{
			name: "only persistence running",
			tasks: []orchestrator.TaskStatus{
				{Name: "10.0.0.1", Address: "10.0.0.1", State: orchestrator.StateConnecting},
				{Name: orchestrator.PersistenceTask, State: orchestrator.StateStreaming},
			},
			want: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, NewRouter(testDeps(t, tt.tasks, nil)), http.MethodGet, "/readyz")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestState(t *testing.T) {
	h := NewRouter(testDeps(t, streaming(), nil))

	rec := do(t, h, http.MethodGet, "/api/state")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret") {
		t.Error("state response leaks a credential")
	}
	var snap map[string]domain.InstanceState
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if len(snap) != 2 || len(snap["10.0.0.1"].Restreams) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	rec = do(t, h, http.MethodGet, "/api/state/10.0.0.2")
	var one domain.InstanceState
	if err := json.Unmarshal(rec.Body.Bytes(), &one); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || one.Title != "beta" {
		t.Errorf("GET one = %d %+v", rec.Code, one)
	}

	if rec := do(t, h, http.MethodGet, "/api/state/10.9.9.9"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown instance status = %d, want 404", rec.Code)
	}
}

func TestTasks(t *testing.T) {
	rec := do(t, NewRouter(testDeps(t, streaming(), nil)), http.MethodGet, "/api/tasks")
	var tasks []orchestrator.TaskStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 || tasks[1].Error != "boom" {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestTask(t *testing.T) {
	router := NewRouter(testDeps(t, streaming(), nil))

	rec := do(t, router, http.MethodGet, "/api/tasks/10.0.0.1")
	var task orchestrator.TaskStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatal(err)
	}
	if task.State != orchestrator.StateStreaming || task.SessionID != "s1" {
		t.Errorf("task = %+v", task)
	}

	if rec := do(t, router, http.MethodGet, "/api/tasks/10.9.9.9"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", rec.Code)
	}
}

func TestInfra(t *testing.T) {
	rec := do(t, NewRouter(testDeps(t, streaming(), &fakeDumper{})), http.MethodGet, "/infra")
	var body struct {
		Mode       string                    `json:"mode"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	// one task terminated
	if body.Mode != "degraded" {
		t.Errorf("mode = %q, want degraded", body.Mode)
	}
	if body.Components["redis"]["mode"] != "disabled" {
		t.Errorf("redis = %v", body.Components["redis"])
	}
	if body.Components["aggregate"]["entries"] != float64(2) {
		t.Errorf("aggregate = %v", body.Components["aggregate"])
	}
}

func TestDump(t *testing.T) {
	tests := []struct {
		name   string
		dumper deps.Dumper
		want   int
	}{
		{name: "accepted", dumper: &fakeDumper{accept: true}, want: http.StatusAccepted},
		{name: "already pending", dumper: &fakeDumper{}, want: http.StatusTooManyRequests},
		{name: "disabled", dumper: nil, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, NewRouter(testDeps(t, nil, tt.dumper)), http.MethodPost, "/api/dump")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if rec := do(t, NewRouter(testDeps(t, nil, nil)), http.MethodGet, "/api/dump"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/dump = %d, want 405", rec.Code)
	}
}

func TestAllowedCIDRs(t *testing.T) {
	d := testDeps(t, streaming(), nil)
	d.AllowedCIDRS = []string{"10.1.0.0/16"}
	h := NewRouter(d)

	// httptest requests come from 192.0.2.1
	if rec := do(t, h, http.MethodGet, "/api/state"); rec.Code != http.StatusForbidden {
		t.Errorf("/api/state status = %d, want 403", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("allowed client status = %d, want 200", rec.Code)
	}
}
