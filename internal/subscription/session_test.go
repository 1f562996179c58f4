package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
)

// fakeEphyr speaks just enough graphql-ws to drive a session. After the
// handshake and the client's "start" it hands the socket to script.
type fakeEphyr struct {
	srv      *httptest.Server
	auth     chan string
	received chan string
	refuse   bool
	script   script
}

type script func(f *fakeEphyr, conn *websocket.Conn, id string)

func newFakeEphyr(t *testing.T, refuse bool, run script) *fakeEphyr {
	t.Helper()
	f := &fakeEphyr{
		auth:     make(chan string, 4),
		received: make(chan string, 64),
		refuse:   refuse,
		script:   run,
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		f.record(f.auth, user+":"+pass)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var init message
		if err := conn.ReadJSON(&init); err != nil || init.Type != msgConnectionInit {
			return
		}
		if f.refuse {
			_ = conn.WriteJSON(message{Type: msgConnectionError, Payload: json.RawMessage(`{"message":"unauthorized"}`)})
			return
		}
		_ = conn.WriteJSON(message{Type: msgConnectionAck})
		_ = conn.WriteJSON(message{Type: msgKeepAlive})

		var start message
		if err := conn.ReadJSON(&start); err != nil || start.Type != msgStart {
			return
		}
		f.record(f.received, start.Type)
		f.script(f, conn, start.ID)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEphyr) instance() domain.Instance {
	return domain.Instance{
		IPv4:     "10.0.0.1",
		Domain:   f.srv.Listener.Addr().String(),
		Password: "pw",
		HTTPS:    domain.BoolPtr(false),
	}
}

func (f *fakeEphyr) open(t *testing.T) *Session {
	t.Helper()
	sub, err := New(f.instance(), graphql.SubscribeState, Options{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sess, err := sub.Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func sendData(conn *websocket.Conn, id, data string) {
	_ = conn.WriteJSON(message{ID: id, Type: msgData, Payload: json.RawMessage(`{"data":` + data + `}`)})
}

func (f *fakeEphyr) record(ch chan string, v string) {
	select {
	case ch <- v:
	default:
	}
}

// drain reads until the client goes away, recording message types.
func drain(f *fakeEphyr, conn *websocket.Conn, _ string) {
	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.record(f.received, msg.Type)
	}
}

func TestNewRejectsNonSubscription(t *testing.T) {
	_, err := New(domain.Instance{IPv4: "10.0.0.1"}, graphql.Info, Options{})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("New() error = %v, want configuration error", err)
	}
}

func TestSubscriptionURL(t *testing.T) {
	tests := []struct {
		name string
		inst domain.Instance
		ssl  *bool
		want string
	}{
		{
			name: "https instance uses wss",
			inst: domain.Instance{IPv4: "10.0.0.1"},
			want: "wss://10.0.0.1/api",
		},
		{
			name: "domain preferred",
			inst: domain.Instance{IPv4: "10.0.0.1", Domain: "a.example", HTTPS: domain.BoolPtr(false)},
			want: "ws://a.example/api",
		},
		{
			name: "override forces ws",
			inst: domain.Instance{IPv4: "10.0.0.1"},
			ssl:  domain.BoolPtr(false),
			want: "ws://10.0.0.1/api",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := New(tt.inst, graphql.SubscribeState, Options{SSL: tt.ssl})
			if err != nil {
				t.Fatal(err)
			}
			if got := sub.URL(); got != tt.want {
				t.Errorf("URL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIterateYieldsUpdatesInOrder(t *testing.T) {
	f := newFakeEphyr(t, false, func(_ *fakeEphyr, conn *websocket.Conn, id string) {
		_ = conn.WriteJSON(message{Type: msgKeepAlive})
		sendData(conn, id, `{"allRestreams":[{"key":"a"}]}`)
		sendData(conn, id, `{"allRestreams":[{"key":"b"}]}`)
		_ = conn.WriteJSON(message{Type: msgKeepAlive})
		sendData(conn, id, `{"allRestreams":[{"key":"c"}]}`)
		_ = conn.WriteJSON(message{ID: id, Type: msgComplete})
	})
	sess := f.open(t)

	if got := <-f.auth; got != "1:pw" {
		t.Errorf("basic auth = %q, want 1:pw", got)
	}

	var keys []string
	for payload, err := range sess.Iterate(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		var data struct {
			AllRestreams []struct{ Key string } `json:"allRestreams"`
		}
		if err := json.Unmarshal(payload, &data); err != nil {
			t.Fatal(err)
		}
		keys = append(keys, data.AllRestreams[0].Key)
	}

	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Errorf("updates = %v, want [a b c]", keys)
	}
}

func TestIterateTerminates(t *testing.T) {
	tests := []struct {
		name   string
		script script
	}{
		{
			name: "error message",
			script: func(_ *fakeEphyr, conn *websocket.Conn, id string) {
				_ = conn.WriteJSON(message{ID: id, Type: msgError, Payload: json.RawMessage(`[{"message":"boom"}]`)})
			},
		},
		{
			name: "graphql errors in data",
			script: func(_ *fakeEphyr, conn *websocket.Conn, id string) {
				_ = conn.WriteJSON(message{ID: id, Type: msgData, Payload: json.RawMessage(`{"errors":[{"message":"denied"}]}`)})
			},
		},
		{
			name: "abnormal close",
			script: func(_ *fakeEphyr, conn *websocket.Conn, id string) {
				sendData(conn, id, `{"allRestreams":[]}`)
				_ = conn.UnderlyingConn().Close()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeEphyr(t, false, tt.script)
			sess := f.open(t)

			var lastErr error
			for _, err := range sess.Iterate(context.Background(), nil) {
				if err != nil {
					lastErr = err
				}
			}
			if !errors.Is(lastErr, domain.ErrSubscriptionTerminated) {
				t.Errorf("final error = %v, want subscription terminated", lastErr)
			}
		})
	}
}

func TestNormalServerCloseEndsQuietly(t *testing.T) {
	f := newFakeEphyr(t, false, func(_ *fakeEphyr, conn *websocket.Conn, id string) {
		sendData(conn, id, `{"allRestreams":[]}`)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})
	sess := f.open(t)

	n := 0
	for _, err := range sess.Iterate(context.Background(), nil) {
		if err != nil {
			t.Fatalf("Iterate() error = %v", err)
		}
		n++
	}
	if n != 1 {
		t.Errorf("got %d updates, want 1", n)
	}
}

func TestCloseAbortsIterate(t *testing.T) {
	f := newFakeEphyr(t, false, func(f *fakeEphyr, conn *websocket.Conn, id string) {
		sendData(conn, id, `{"allRestreams":[]}`)
		drain(f, conn, id)
	})
	sess := f.open(t)

	done := make(chan error, 1)
	go func() {
		var last error
		for _, err := range sess.Iterate(context.Background(), nil) {
			if err != nil {
				last = err
				continue
			}
			go func() { _ = sess.Close() }()
		}
		done <- last
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Iterate() after Close yielded %v, want quiet end", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not abort Iterate")
	}

	if err := sess.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if got := collect(f.received, msgConnectionTerminate, time.Second); !got {
		t.Error("server never saw connection_terminate")
	}
}

func TestContextCancelEndsIterate(t *testing.T) {
	f := newFakeEphyr(t, false, drain)
	sess := f.open(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var last error
		for _, err := range sess.Iterate(ctx, nil) {
			last = err
		}
		done <- last
	}()

	<-f.received // start
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Iterate() final error = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("cancel did not end Iterate")
	}
}

func TestConcurrentIterate(t *testing.T) {
	f := newFakeEphyr(t, false, drain)
	sess := f.open(t)

	go func() {
		for range sess.Iterate(context.Background(), nil) {
		}
	}()
	<-f.received // first iteration has started

	var got error
	for _, err := range sess.Iterate(context.Background(), nil) {
		got = err
	}
	if !errors.Is(got, ErrConcurrentIterate) {
		t.Errorf("second Iterate() error = %v, want ErrConcurrentIterate", got)
	}
}

func TestIterateAfterClose(t *testing.T) {
	f := newFakeEphyr(t, false, drain)
	sess := f.open(t)
	_ = sess.Close()

	var got error
	for _, err := range sess.Iterate(context.Background(), nil) {
		got = err
	}
	if !errors.Is(got, ErrClosed) {
		t.Errorf("Iterate() on closed session = %v, want ErrClosed", got)
	}
}

func TestOpenFailures(t *testing.T) {
	t.Run("connection_error", func(t *testing.T) {
		f := newFakeEphyr(t, true, drain)
		sub, _ := New(f.instance(), graphql.SubscribeState, Options{DialTimeout: time.Second})
		_, err := sub.Open(context.Background())
		if !errors.Is(err, domain.ErrConnection) {
			t.Errorf("Open() error = %v, want connection error", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.Listener.Addr().String()
		srv.Close()

		inst := domain.Instance{IPv4: "10.0.0.9", Domain: addr, HTTPS: domain.BoolPtr(false)}
		sub, _ := New(inst, graphql.SubscribeState, Options{DialTimeout: time.Second})
		_, err := sub.Open(context.Background())
		if !errors.Is(err, domain.ErrConnection) {
			t.Errorf("Open() error = %v, want connection error", err)
		}
	})

	t.Run("not a websocket", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()

		inst := domain.Instance{IPv4: "10.0.0.9", Domain: srv.Listener.Addr().String(), HTTPS: domain.BoolPtr(false)}
		sub, _ := New(inst, graphql.SubscribeState, Options{DialTimeout: time.Second})
		_, err := sub.Open(context.Background())
		if !errors.Is(err, domain.ErrConnection) {
			t.Errorf("Open() error = %v, want connection error", err)
		}
	})
}

func TestOpenCancelledDuringHandshake(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// never acknowledge
		<-release
	}))
	defer srv.Close()

	inst := domain.Instance{IPv4: "10.0.0.9", Domain: srv.Listener.Addr().String(), HTTPS: domain.BoolPtr(false)}
	sub, _ := New(inst, graphql.SubscribeState, Options{DialTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	_, err := sub.Open(ctx)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Open() returned after %v, want prompt return on cancel", elapsed)
	}
	if !errors.Is(err, context.Canceled) || !errors.Is(err, domain.ErrConnection) {
		t.Errorf("Open() error = %v, want cancelled connection error", err)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	f := newFakeEphyr(t, false, drain)
	a := f.open(t)
	b := f.open(t)
	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("session ids %q and %q should be unique", a.ID(), b.ID())
	}
}

func collect(ch <-chan string, want string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-ch:
			if got == want {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
