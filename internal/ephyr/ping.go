package ephyr

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/utils"
)

// PingOptions tune a reachability check.
type PingOptions struct {
	Timeout time.Duration
	// CheckDomain pings the configured domain instead of the preferred host
	// and fails when the instance has no domain.
	CheckDomain bool
	// TLSConfig overrides the client TLS settings (tests, private CAs).
	TLSConfig *tls.Config
}

// Ping checks that the instance web UI answers with a non-error status,
// using the instance credential. Redirects are not followed.
func Ping(ctx context.Context, inst domain.Instance, opts PingOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	host := inst.Host()
	if opts.CheckDomain {
		if inst.Domain == "" {
			return fmt.Errorf("%w: can not check domain of %s, it is not set", domain.ErrConfiguration, inst.IPv4)
		}
		host = inst.Domain
	}
	if host == "" {
		return fmt.Errorf("%w: instance has no host", domain.ErrConfiguration)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tlsConfig := opts.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := &http.Client{
		Timeout: opts.Timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return (&net.Dialer{
					Timeout:   opts.Timeout,
					KeepAlive: 0,
				}).DialContext(ctx, network, addr)
			},
			TLSHandshakeTimeout: opts.Timeout,
			TLSClientConfig:     tlsConfig,
			DisableKeepAlives:   true,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	target := (&url.URL{Scheme: inst.Scheme(), Host: host, Path: "/"}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "ephyr-subscriber")
	if inst.Password != "" {
		req.SetBasicAuth(domain.DefaultHTTPAuthUser, inst.Password)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: ping %s: %v", domain.ErrConnection, target, err)
	}
	defer utils.DrainAndClose(resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: ping %s: %s", domain.ErrConnection, target, resp.Status)
	}
	return nil
}
