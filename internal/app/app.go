package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ephyr-control/ephyrsub/internal/config"
	"github.com/ephyr-control/ephyrsub/internal/domain"
	"github.com/ephyr-control/ephyrsub/internal/ephyr"
	"github.com/ephyr-control/ephyrsub/internal/graphql"
	"github.com/ephyr-control/ephyrsub/internal/httpserver"
	"github.com/ephyr-control/ephyrsub/internal/httpserver/deps"
	"github.com/ephyr-control/ephyrsub/internal/instance"
	"github.com/ephyr-control/ephyrsub/internal/logger"
	"github.com/ephyr-control/ephyrsub/internal/orchestrator"
	"github.com/ephyr-control/ephyrsub/internal/redis"
	"github.com/ephyr-control/ephyrsub/internal/scheduler"
	"github.com/ephyr-control/ephyrsub/internal/state"
	redisstore "github.com/ephyr-control/ephyrsub/internal/store/redis"
	"github.com/ephyr-control/ephyrsub/internal/subscription"
	"github.com/ephyr-control/ephyrsub/internal/version"
)

// Options are the command line arguments.
type Options struct {
	Input       string // an IPv4 address or a .json/.yaml/.yml file
	StateOutput string // snapshot file, must end in .json
}

type App struct {
	cfg          *config.Config
	logger       logger.Logger
	instances    []domain.Instance
	store        *state.Store
	orchestrator *orchestrator.Orchestrator
	dumper       *scheduler.StateDumper
	mirror       *scheduler.RedisMirror
	syncer       *scheduler.RedisSyncer
	server       *httpserver.Server
	redisClient  *goredis.Client
}

// ValidateStateOutput checks the snapshot path before anything starts.
func ValidateStateOutput(path string) error {
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return fmt.Errorf("%w: state output %q must be a .json file", domain.ErrConfiguration, path)
	}
	return nil
}

// New resolves the input and wires every component. Configuration errors
// are returned before any connection is attempted; the optional Redis
// mirror is skipped when Redis can not be reached.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log := logger.New(cfg.LogLevel, cfg.PrettyLog)

	if err := ValidateStateOutput(opts.StateOutput); err != nil {
		return nil, err
	}
	instances, err := instance.FromInput(opts.Input)
	if err != nil {
		return nil, err
	}
	op, ok := graphql.Subscriptions[cfg.Subscription]
	if !ok {
		return nil, fmt.Errorf("%w: unknown subscription %q", domain.ErrConfiguration, cfg.Subscription)
	}

	a := &App{
		cfg:       cfg,
		logger:    log,
		instances: instances,
		store:     state.NewStore(),
	}
	a.dumper = scheduler.NewStateDumper(a.store, opts.StateOutput, cfg.DumpInterval, log)

	var sinks []orchestrator.DiffSink
	if cfg.RedisEnabled() {
		a.redisClient, err = redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, log)
		if err != nil {
			log.Warn("redis mirror disabled", logger.Error(err))
		} else {
			rs := redisstore.NewStore(a.redisClient)
			a.syncer = scheduler.NewRedisSyncer(rs, a.store, log)
			a.mirror = scheduler.NewRedisMirror(rs, a.store, log, cfg.RedisMirrorInterval)
			sinks = append(sinks, a.mirror)
		}
	}

	a.orchestrator = orchestrator.New(a.store, orchestrator.WebsocketOpener{
		Options: subscription.Options{
			DialTimeout: cfg.DialTimeout,
			Logger:      log,
		},
	}, log, orchestrator.Options{
		Operation: op,
		Sinks:     sinks,
		OnSeeded:  a.warmUp,
	})

	if cfg.HTTPEnabled() {
		d := deps.Deps{
			Logger:       log,
			StartTime:    time.Now(),
			Version:      version.Version,
			Commit:       version.Commit,
			BuildDate:    version.BuildDate,
			GoVersion:    version.GoVersion,
			AllowedCIDRS: cfg.AllowedCIDRS,
			TrustProxy:   cfg.TrustProxy,
			RedisClient:  a.redisClient,
			State:        a.store,
			Tasks:        a.orchestrator.Board(),
			Dumper:       a.dumper,
		}
		a.server = httpserver.New(cfg.ListenPort, d)
	}

	return a, nil
}

// warmUp restores the last mirrored state and starts the mirror. It runs
// once the aggregate is seeded.
func (a *App) warmUp(ctx context.Context) {
	if a.syncer != nil {
		if err := a.syncer.Sync(ctx); err != nil {
			a.logger.Warn("failed to restore state from redis", logger.Error(err))
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Start(ctx); err != nil {
			a.logger.Warn("failed to start redis mirror", logger.Error(err))
		}
	}
}

// Run blocks until SIGINT/SIGTERM or a fatal server error, then shuts down
// in order: subscriptions and the final snapshot write, the mirror, the
// HTTP server and Redis.
func (a *App) Run() error {
	a.logger.Info("Starting " + version.String())

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	if a.cfg.PingOnStart {
		a.pingAll(ctx)
	}

	errCh := make(chan error, 1)
	if a.server != nil {
		go func() {
			if err := a.server.Start(); err != nil {
				errCh <- fmt.Errorf("http server error: %w", err)
				cancel()
			}
		}()
	}

	type result struct {
		outcomes []orchestrator.Outcome
		err      error
	}
	done := make(chan result, 1)
	go func() {
		outs, err := a.orchestrator.Run(ctx, a.instances, a.dumper)
		done <- result{outs, err}
	}()

	res := <-done
	if ctx.Err() == nil {
		// only a configuration error ends the run on its own
		cancel()
	}
	a.logger.Info("Shutting down...")

	var runErr error
	if errors.Is(res.err, domain.ErrConfiguration) {
		runErr = res.err
	} else {
		a.logOutcomes(res.outcomes)
	}

	if a.mirror != nil {
		a.mirror.Stop()
		mctx, mcancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		if err := a.mirror.Mirror(mctx); err != nil {
			a.logger.Warn("final redis mirror failed", logger.Error(err))
		}
		mcancel()
	}

	if a.server != nil {
		shutdownCtx, scancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer scancel()
		if err := a.server.Stop(shutdownCtx); err != nil && runErr == nil {
			runErr = fmt.Errorf("failed to stop server: %w", err)
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("Redis closed cleanly")
		}
	}

	select {
	case err := <-errCh:
		if runErr == nil {
			runErr = err
		}
	default:
	}

	a.logger.Info("ephyr-subscriber stopped", logger.String("state_output", a.dumper.Path()))
	_ = a.logger.Sync()
	return runErr
}

func (a *App) logOutcomes(outcomes []orchestrator.Outcome) {
	failed := 0
	for _, out := range outcomes {
		if out.Err != nil {
			failed++
			a.logger.Warn("task ended with error",
				logger.String("task", out.Task),
				logger.Error(out.Err))
		}
	}
	a.logger.Info("all tasks finished",
		logger.Int("tasks", len(outcomes)),
		logger.Int("failed", failed))
}

// pingAll checks every instance concurrently. Results are only logged.
func (a *App) pingAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, inst := range a.instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log := a.logger.With(logger.String("instance", inst.DisplayName()))

			if err := ephyr.Ping(ctx, inst, ephyr.PingOptions{Timeout: a.cfg.RequestTimeout}); err != nil {
				log.Warn("instance is not reachable", logger.Error(err))
				return
			}
			if inst.Domain == "" {
				log.Info("instance is reachable")
				return
			}

			remote := ephyr.NewHTTPRemote(inst, a.cfg.RequestTimeout)
			match, err := remote.VerifyIPv4DomainMatch(ctx)
			switch {
			case err != nil:
				log.Warn("failed to read instance info", logger.Error(err))
			case !match:
				log.Warn("instance public host does not match its address",
					logger.String("ipv4", inst.IPv4))
			default:
				log.Info("instance is reachable", logger.Bool("domain_match", true))
			}
		}()
	}
	wg.Wait()
}
