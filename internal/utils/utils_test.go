package utils

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIPMatcher(t *testing.T) {
	m := NewIPMatcher([]string{"10.0.0.0/8", " 192.168.1.10 ", "garbage", "", "fd00::/8"})
	if m.IsEmpty() {
		t.Fatal("matcher should not be empty")
	}

	tests := []struct {
		ip   string
		want bool
	}{
		{ip: "10.20.30.40", want: true},
		{ip: "192.168.1.10", want: true},
		{ip: "192.168.1.11", want: false},
		{ip: "::ffff:10.0.0.1", want: true},
		{ip: "fd12::1", want: true},
		{ip: "not-an-ip", want: false},
	}
	for _, tt := range tests {
		if got := m.Allow(tt.ip); got != tt.want {
			t.Errorf("Allow(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	if !NewIPMatcher(nil).IsEmpty() || !NewIPMatcher([]string{"nope"}).IsEmpty() {
		t.Error("matcher without valid entries should be empty")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{name: "remote addr", want: "192.0.2.1"},
		{
			name:    "proxy headers ignored",
			headers: map[string]string{"X-Forwarded-For": "1.1.1.1"},
			want:    "192.0.2.1",
		},
		{
			name:       "cloudflare first",
			headers:    map[string]string{"CF-Connecting-IP": "2.2.2.2", "X-Forwarded-For": "1.1.1.1"},
			trustProxy: true,
			want:       "2.2.2.2",
		},
		{
			name:       "left-most forwarded",
			headers:    map[string]string{"X-Forwarded-For": " 1.1.1.1 , 3.3.3.3"},
			trustProxy: true,
			want:       "1.1.1.1",
		},
		{
			name:       "real ip",
			headers:    map[string]string{"X-Real-IP": "4.4.4.4:1234"},
			trustProxy: true,
			want:       "4.4.4.4",
		},
		{name: "no headers behind proxy", trustProxy: true, want: "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestDrainAndClose(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("leftover")}
	DrainAndClose(io.NopCloser(body))
	// NopCloser hides Close; drain still consumes the reader
	if n, _ := body.Read(make([]byte, 1)); n != 0 {
		t.Error("body was not drained")
	}

	body = &trackingBody{Reader: strings.NewReader("x")}
	DrainAndClose(body)
	if !body.closed {
		t.Error("body was not closed")
	}
}
