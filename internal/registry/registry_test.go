package registry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
)

type stubClient struct {
	surface graphql.Surface
	details domain.ConnectionDetails
}

func (s *stubClient) Execute(_ context.Context, op graphql.Operation, _ map[string]any) (json.RawMessage, error) {
	return json.RawMessage(`{"surface":"` + string(s.surface) + `","password":"` + s.details.Password + `"}`), nil
}

func stubFactory(built *atomic.Int32) Factory {
	return func(surface graphql.Surface, details domain.ConnectionDetails) RequestClient {
		built.Add(1)
		return &stubClient{surface: surface, details: details}
	}
}

func TestRegistryNotBuilt(t *testing.T) {
	var built atomic.Int32
	r := New(stubFactory(&built))

	if r.Built() {
		t.Fatal("fresh registry should not be built")
	}
	_, err := r.Execute(context.Background(), graphql.Info, nil)
	if !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("Execute() error = %v, want ErrNotBuilt", err)
	}
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("ErrNotBuilt should be a connection error")
	}
}

func TestRegistryRoutesBySurface(t *testing.T) {
	var built atomic.Int32
	r := New(stubFactory(&built))
	r.Rebuild(domain.ConnectionDetails{Scheme: "https", Host: "a.example", Password: "one"})

	if got := built.Load(); got != 3 {
		t.Fatalf("built %d clients, want one per surface (3)", got)
	}

	tests := []struct {
		op   graphql.Operation
		want graphql.Surface
	}{
		{op: graphql.Info, want: graphql.SurfaceAPI},
		{op: graphql.TuneVolume, want: graphql.SurfaceMixin},
		{op: graphql.DashboardAddClient, want: graphql.SurfaceDashboard},
	}
	for _, tt := range tests {
		data, err := r.Execute(context.Background(), tt.op, nil)
		if err != nil {
			t.Fatalf("Execute(%s) error = %v", tt.op, err)
		}
		var got struct{ Surface string }
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		if got.Surface != string(tt.want) {
			t.Errorf("Execute(%s) routed to %s, want %s", tt.op, got.Surface, tt.want)
		}
	}
}

func TestRegistryNoClientForSurface(t *testing.T) {
	var built atomic.Int32
	r := New(stubFactory(&built), graphql.SurfaceAPI)
	r.Rebuild(domain.ConnectionDetails{Scheme: "https", Host: "a.example"})

	_, err := r.Execute(context.Background(), graphql.TuneVolume, nil)
	if !errors.Is(err, ErrNoClient) {
		t.Fatalf("Execute() error = %v, want ErrNoClient", err)
	}
}

func TestRegistryRebuildReplacesClients(t *testing.T) {
	var built atomic.Int32
	r := New(stubFactory(&built))
	r.Rebuild(domain.ConnectionDetails{Scheme: "https", Host: "a.example", Password: "old"})
	r.Rebuild(domain.ConnectionDetails{Scheme: "https", Host: "a.example", Password: "new"})

	data, err := r.Execute(context.Background(), graphql.Info, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"password":"new"`) {
		t.Errorf("stale client used after rebuild: %s", data)
	}
	if got := built.Load(); got != 6 {
		t.Errorf("built %d clients over two rebuilds, want 6", got)
	}
}

func TestHTTPClientExecute(t *testing.T) {
	var gotAuth, gotPath string
	var gotReq graphql.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		gotAuth = user + ":" + pass
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"info":{"publicHost":"10.0.0.1","title":"main"}}}`))
	}))
	defer srv.Close()

	details := domain.ConnectionDetails{
		Scheme:   "http",
		Host:     strings.TrimPrefix(srv.URL, "http://"),
		Password: "secret",
	}
	c := NewHTTPClient(graphql.SurfaceAPI, details, 2*time.Second)

	data, err := c.Execute(context.Background(), graphql.Info, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotAuth != "1:secret" {
		t.Errorf("basic auth = %q, want 1:secret", gotAuth)
	}
	if gotPath != "/api" {
		t.Errorf("path = %q, want /api", gotPath)
	}
	if gotReq.OperationName != "Info" || !strings.Contains(gotReq.Query, "publicHost") {
		t.Errorf("unexpected request body: %+v", gotReq)
	}
	if !strings.Contains(string(data), `"publicHost":"10.0.0.1"`) {
		t.Errorf("data = %s", data)
	}
}

func TestHTTPClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(error) bool
	}{
		{
			name:   "graphql errors",
			status: http.StatusOK,
			body:   `{"data":null,"errors":[{"message":"wrong password"}]}`,
			wantErr: func(err error) bool {
				var re *graphql.ResponseError
				return errors.As(err, &re) && strings.Contains(err.Error(), "wrong password")
			},
		},
		{
			name:   "malformed body",
			status: http.StatusOK,
			body:   `<html>`,
			wantErr: func(err error) bool {
				var re *graphql.ResponseError
				return !errors.Is(err, domain.ErrConnection) && !errors.As(err, &re)
			},
		},
		{
			name:   "http status without body",
			status: http.StatusUnauthorized,
			body:   `unauthorized`,
			wantErr: func(err error) bool {
				return errors.Is(err, domain.ErrConnection)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewHTTPClient(graphql.SurfaceAPI, domain.ConnectionDetails{
				Scheme: "http",
				Host:   strings.TrimPrefix(srv.URL, "http://"),
			}, time.Second)

			_, err := c.Execute(context.Background(), graphql.Info, nil)
			if err == nil || !tt.wantErr(err) {
				t.Errorf("Execute() error = %v", err)
			}
		})
	}
}

func TestHTTPClientSurfaceMismatch(t *testing.T) {
	c := NewHTTPClient(graphql.SurfaceAPI, domain.ConnectionDetails{Scheme: "http", Host: "127.0.0.1:1"}, time.Second)
	_, err := c.Execute(context.Background(), graphql.TuneVolume, nil)
	if !errors.Is(err, ErrSurfaceMismatch) {
		t.Errorf("Execute() error = %v, want ErrSurfaceMismatch", err)
	}
}

func TestHTTPClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	c := NewHTTPClient(graphql.SurfaceAPI, domain.ConnectionDetails{Scheme: "http", Host: addr}, time.Second)
	_, err := c.Execute(context.Background(), graphql.Info, nil)
	if !errors.Is(err, domain.ErrConnection) {
		t.Errorf("Execute() error = %v, want connection error", err)
	}
}
