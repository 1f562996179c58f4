package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
	"github.com/ephyr-control/ephyrsub/internal/logger"
)

var (
	// ErrConcurrentIterate is yielded when a session is already being iterated.
	ErrConcurrentIterate = errors.New("session is already being iterated")
	// ErrClosed is yielded by Iterate on a closed session.
	ErrClosed = errors.New("session is closed")
)

const (
	closeGrace   = time.Second
	writeTimeout = 10 * time.Second
)

// Payload is the "data" member of one subscription update.
type Payload = json.RawMessage

// StreamingSession is an open subscription stream.
type StreamingSession interface {
	ID() string
	Iterate(ctx context.Context, vars map[string]any) iter.Seq2[Payload, error]
	Close() error
}

var _ StreamingSession = (*Session)(nil)

// Session is one open graphql-ws connection. It is iterated by a single
// goroutine at a time; Close may be called from anywhere.
type Session struct {
	id   string
	conn *websocket.Conn
	op   graphql.Operation
	log  logger.Logger

	iterating atomic.Bool
	closed    atomic.Bool
	nextOp    atomic.Uint64

	writeMu sync.Mutex
	active  string // id of the running operation, guarded by writeMu
}

func (s *Session) ID() string { return s.id }

// Iterate starts the subscription and yields every update in arrival order.
//
// The sequence ends quietly on "complete", on a normal close by the server and
// after Close. It yields one final error when the server reports an error,
// the socket drops abnormally, or ctx is cancelled. Breaking out of the loop
// stops the operation but leaves the session open.
func (s *Session) Iterate(ctx context.Context, vars map[string]any) iter.Seq2[Payload, error] {
	return func(yield func(Payload, error) bool) {
		if !s.iterating.CompareAndSwap(false, true) {
			yield(nil, ErrConcurrentIterate)
			return
		}
		defer s.iterating.Store(false)

		if s.closed.Load() {
			yield(nil, ErrClosed)
			return
		}

		stopWatch := context.AfterFunc(ctx, func() {
			_ = s.Close()
		})
		defer stopWatch()

		opID := strconv.FormatUint(s.nextOp.Add(1), 10)
		start, err := json.Marshal(graphql.NewRequest(s.op, vars))
		if err != nil {
			yield(nil, fmt.Errorf("encode %s: %w", s.op, err))
			return
		}
		if err := s.send(message{ID: opID, Type: msgStart, Payload: start}, opID); err != nil {
			if e := s.readErr(ctx, err); e != nil {
				yield(nil, e)
			}
			return
		}

		for {
			var msg message
			if err := s.conn.ReadJSON(&msg); err != nil {
				if e := s.readErr(ctx, err); e != nil {
					yield(nil, e)
				}
				return
			}

			switch msg.Type {
			case msgKeepAlive, msgConnectionAck:
				continue

			case msgData:
				if msg.ID != opID {
					continue
				}
				var resp graphql.Response
				if err := json.Unmarshal(msg.Payload, &resp); err != nil {
					yield(nil, fmt.Errorf("%w: malformed data message: %v", domain.ErrSubscriptionTerminated, err))
					return
				}
				if err := resp.Err(); err != nil {
					yield(nil, fmt.Errorf("%w: %w", domain.ErrSubscriptionTerminated, err))
					return
				}
				if !yield(resp.Data, nil) {
					s.stop(opID)
					return
				}

			case msgError, msgConnectionError:
				yield(nil, fmt.Errorf("%w: %s", domain.ErrSubscriptionTerminated, payloadMessage(msg.Payload)))
				return

			case msgComplete:
				if msg.ID == opID {
					s.clearActive(opID)
					return
				}

			default:
				s.log.Debug("ignoring unexpected message", logger.String("type", msg.Type))
			}
		}
	}
}

// readErr classifies a failed socket read. It returns nil when the stream
// ended because of Close or a normal close frame.
func (s *Session) readErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if s.closed.Load() {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrSubscriptionTerminated, err)
}

func (s *Session) send(msg message, active string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	defer func() {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}()
	if err := s.conn.WriteJSON(msg); err != nil {
		return err
	}
	if active != "" {
		s.active = active
	}
	return nil
}

func (s *Session) stop(opID string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.active != opID {
		return
	}
	s.active = ""
	_ = s.conn.SetWriteDeadline(time.Now().Add(closeGrace))
	if err := s.conn.WriteJSON(message{ID: opID, Type: msgStop}); err != nil {
		s.log.Debug("failed to send stop", logger.Error(err))
	}
	_ = s.conn.SetWriteDeadline(time.Time{})
}

func (s *Session) clearActive(opID string) {
	s.writeMu.Lock()
	if s.active == opID {
		s.active = ""
	}
	s.writeMu.Unlock()
}

// Close stops the running operation, says goodbye and closes the socket.
// It is safe to call more than once and from any goroutine; an in-flight
// Iterate returns as soon as the socket is gone.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	deadline := time.Now().Add(closeGrace)

	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(deadline)
	if s.active != "" {
		_ = s.conn.WriteJSON(message{ID: s.active, Type: msgStop})
		s.active = ""
	}
	_ = s.conn.WriteJSON(message{Type: msgConnectionTerminate})
	s.writeMu.Unlock()

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	s.log.Debug("subscription session closed")
	return s.conn.Close()
}
