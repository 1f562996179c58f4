package subscription

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
	"github.com/ephyr-control/ephyrsub/internal/logger"
	"github.com/ephyr-control/ephyrsub/internal/utils"
)

const defaultDialTimeout = 10 * time.Second

// Options tune how a Subscription connects.
type Options struct {
	// SSL overrides the instance scheme when set: true forces wss, false ws.
	SSL *bool
	// DialTimeout bounds the websocket handshake and the connection_ack wait.
	DialTimeout time.Duration
	// Dialer replaces the default websocket dialer (tests, proxies).
	Dialer *websocket.Dialer
	Logger logger.Logger
}

// Subscription pairs an instance with one subscription operation.
// It is immutable; every Open creates an independent Session.
type Subscription struct {
	instance    domain.Instance
	op          graphql.Operation
	ssl         *bool
	dialTimeout time.Duration
	dialer      *websocket.Dialer
	log         logger.Logger
}

// New fails with a configuration error when op is not a subscription.
func New(inst domain.Instance, op graphql.Operation, opts Options) (*Subscription, error) {
	if !op.IsSubscription() {
		return nil, fmt.Errorf("%w: only subscription operations can be streamed, got %s",
			domain.ErrConfiguration, op)
	}

	s := &Subscription{
		instance:    inst,
		op:          op,
		ssl:         opts.SSL,
		dialTimeout: opts.DialTimeout,
		dialer:      opts.Dialer,
		log:         opts.Logger,
	}
	if s.dialTimeout <= 0 {
		s.dialTimeout = defaultDialTimeout
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	if s.dialer == nil {
		s.dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: s.dialTimeout,
		}
	}
	return s, nil
}

func (s *Subscription) Instance() domain.Instance   { return s.instance }
func (s *Subscription) Operation() graphql.Operation { return s.op }

func (s *Subscription) useSSL() bool {
	if s.ssl != nil {
		return *s.ssl
	}
	return s.instance.UseHTTPS()
}

// URL is ws(s)://host/<surface path>. Credentials travel in a header.
func (s *Subscription) URL() string {
	scheme := "ws"
	if s.useSSL() {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   s.instance.Host(),
		Path:   s.op.Surface.Path(),
	}
	return u.String()
}

func (s *Subscription) header() http.Header {
	h := http.Header{}
	if s.instance.Password != "" {
		creds := domain.DefaultHTTPAuthUser + ":" + s.instance.Password
		h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds)))
	}
	return h
}

// Open dials the instance and completes the graphql-ws handshake.
// Any failure here is a connection error; nothing is left open.
func (s *Subscription) Open(ctx context.Context) (*Session, error) {
	dialer := *s.dialer
	dialer.Subprotocols = []string{Subprotocol}

	dialCtx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	target := s.URL()
	conn, resp, err := dialer.DialContext(dialCtx, target, s.header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %v (status %s)", domain.ErrConnection, target, err, resp.Status)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", domain.ErrConnection, target, err)
	}

	success := false
	defer func() {
		if !success {
			utils.Close(conn)
		}
	}()

	// the handshake only knows deadlines; closing the socket unblocks it
	stop := context.AfterFunc(ctx, func() { utils.Close(conn) })
	err = handshake(conn, s.dialTimeout)
	if !stop() {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrConnection, target, ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrConnection, target, err)
	}

	sess := &Session{
		id:   ulid.Make().String(),
		conn: conn,
		op:   s.op,
	}
	sess.log = s.log.With(
		logger.String("session", sess.id),
		logger.String("url", target),
	)
	sess.log.Debug("subscription session opened")

	success = true
	return sess, nil
}

func handshake(conn *websocket.Conn, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(message{Type: msgConnectionInit, Payload: json.RawMessage(`{}`)}); err != nil {
		return fmt.Errorf("send connection_init: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	_ = conn.SetReadDeadline(deadline)
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	for {
		var msg message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("wait connection_ack: %w", err)
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgKeepAlive:
			continue
		case msgConnectionError:
			return fmt.Errorf("server refused connection: %s", payloadMessage(msg.Payload))
		default:
			return fmt.Errorf("unexpected %q before connection_ack", msg.Type)
		}
	}
}
