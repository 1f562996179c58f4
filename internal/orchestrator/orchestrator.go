package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
	"github.com/ephyr-control/ephyrsub/internal/instance"
	"github.com/ephyr-control/ephyrsub/internal/logger"
	"github.com/ephyr-control/ephyrsub/internal/subscription"
)

// PersistenceTask is the name the persistence loop has on the board.
const PersistenceTask = "persistence"

// Store is the aggregate the orchestrator feeds.
type Store interface {
	Seed(instances []domain.Instance)
	Get(addr string) (domain.InstanceState, bool)
	Replace(addr string, next domain.InstanceState) domain.Diff
}

// SessionOpener opens a streaming session for one instance.
type SessionOpener interface {
	Open(ctx context.Context, inst domain.Instance, op graphql.Operation) (subscription.StreamingSession, error)
}

// WebsocketOpener opens graphql-ws sessions.
type WebsocketOpener struct {
	Options subscription.Options
}

func (o WebsocketOpener) Open(ctx context.Context, inst domain.Instance, op graphql.Operation) (subscription.StreamingSession, error) {
	sub, err := subscription.New(inst, op, o.Options)
	if err != nil {
		return nil, err
	}
	sess, err := sub.Open(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Runner is a background loop that lives as long as the run, such as the
// snapshot writer.
type Runner interface {
	Run(ctx context.Context) error
}

// DiffSink receives every non-empty diff.
type DiffSink interface {
	HandleDiff(ctx context.Context, addr string, diff domain.Diff)
}

type Options struct {
	// Operation is streamed from every instance. Defaults to the state
	// subscription.
	Operation graphql.Operation
	Variables map[string]any
	Sinks     []DiffSink
	// OnSeeded runs after the store is seeded and before any task starts.
	OnSeeded func(ctx context.Context)
}

// Outcome is how one task ended. Err is nil for a clean end.
type Outcome struct {
	Task    string
	Address string
	Err     error
}

// Orchestrator runs one subscription task per instance next to the
// persistence loop. A failing task never stops its siblings.
type Orchestrator struct {
	store  Store
	opener SessionOpener
	logger logger.Logger
	opts   Options
	board  *Board
}

func New(store Store, opener SessionOpener, log logger.Logger, opts Options) *Orchestrator {
	if opts.Operation.Document == "" {
		opts.Operation = graphql.SubscribeState
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		store:  store,
		opener: opener,
		logger: log,
		opts:   opts,
		board:  NewBoard(),
	}
}

func (o *Orchestrator) Board() *Board { return o.board }

// Run validates instances, seeds the store and runs every task until it ends
// or ctx is done. With a persistence runner Run only returns after ctx is
// done. The returned error combines every task failure; cancellation is not
// a failure.
func (o *Orchestrator) Run(ctx context.Context, instances []domain.Instance, persistence Runner) ([]Outcome, error) {
	if err := instance.Validate(instances); err != nil {
		return nil, err
	}
	if !o.opts.Operation.IsSubscription() {
		return nil, fmt.Errorf("%w: %s is not a subscription", domain.ErrConfiguration, o.opts.Operation)
	}

	o.store.Seed(instances)
	if o.opts.OnSeeded != nil {
		o.opts.OnSeeded(ctx)
	}
	o.board.reset()
	for _, inst := range instances {
		o.board.register(inst.Address(), inst.Address())
	}
	if persistence != nil {
		o.board.register(PersistenceTask, "")
	}

	hosts := make([]string, len(instances))
	for i, inst := range instances {
		hosts[i] = inst.Host()
	}
	o.logger.Info("Subscribed to: " + strings.Join(hosts, ", "))

	n := len(instances)
	if persistence != nil {
		n++
	}
	outcomes := make([]Outcome, n)
	var wg sync.WaitGroup
	for i, inst := range instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := o.guard(func() error { return o.stream(ctx, inst) })
			outcomes[i] = o.finish(ctx, inst.Address(), inst.Address(), err)
		}()
	}

	if persistence != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.board.streaming(PersistenceTask, "")
			err := o.guard(func() error { return persistence.Run(ctx) })
			outcomes[len(instances)] = o.finish(ctx, PersistenceTask, "", err)
		}()
	}

	wg.Wait()

	var errs error
	for _, out := range outcomes {
		if out.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", out.Task, out.Err))
		}
	}
	return outcomes, errs
}

// stream runs one instance task: open, iterate, apply.
func (o *Orchestrator) stream(ctx context.Context, inst domain.Instance) error {
	addr := inst.Address()
	log := o.logger.With(logger.String("instance", inst.DisplayName()))

	o.board.connecting(addr)
	sess, err := o.opener.Open(ctx, inst, o.opts.Operation)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Debug("failed to close session", logger.Error(cerr))
		}
	}()

	o.board.streaming(addr, sess.ID())
	log.Info("subscription started", logger.String("session", sess.ID()))

	for payload, err := range sess.Iterate(ctx, o.opts.Variables) {
		if err != nil {
			return err
		}
		if err := o.apply(ctx, addr, payload, log); err != nil {
			return err
		}
	}
	log.Info("subscription completed")
	return nil
}

func (o *Orchestrator) apply(ctx context.Context, addr string, payload subscription.Payload, log logger.Logger) error {
	prev, ok := o.store.Get(addr)
	if !ok {
		return fmt.Errorf("instance %s is not in the aggregate", addr)
	}
	next, err := prev.ApplyPayload(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSubscriptionTerminated, err)
	}

	diff := o.store.Replace(addr, next)
	o.board.updated(addr)
	if diff.Empty() {
		return nil
	}

	log.Info("state changed",
		logger.Int("changes", len(diff)),
		logger.Strings("paths", diff.Paths()))
	for _, sink := range o.opts.Sinks {
		sink.HandleDiff(ctx, addr, diff)
	}
	return nil
}

// guard turns a panic into an error.
func (o *Orchestrator) guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}

func (o *Orchestrator) finish(ctx context.Context, task, addr string, err error) Outcome {
	if err != nil && ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrConnection)) {
		err = nil
	}
	o.board.terminated(task, err)
	if err != nil {
		o.logger.Error("task terminated",
			logger.String("task", task),
			logger.Error(err))
	} else {
		o.logger.Info("task finished", logger.String("task", task))
	}
	return Outcome{Task: task, Address: addr, Err: err}
}
