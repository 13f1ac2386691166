package agg

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env is a wiring factory holding the shared pieces of an event-sourced
// application: store, snapshotter, payload registry and consumers, with a
// common logger and shutdown lifecycle.
type Env struct {
	ctx          context.Context
	id           string
	done         chan struct{}
	shutdownOnce sync.Once
	cancelCtx    context.CancelFunc
	log          *slog.Logger
	store        EventStore
	snapshotter  Snapshotter
	registry     *PayloadRegistry
	metrics      AggMetrics
	consumers    []*Consumer
}

func (e *Env) Registry() *PayloadRegistry { return e.registry }
func (e *Env) Store() EventStore          { return e.store }
func (e *Env) Snapshotter() Snapshotter   { return e.snapshotter }
func (e *Env) Log() *slog.Logger          { return e.log }
func (e *Env) Metrics() AggMetrics        { return e.metrics }

func NewEnv(opts ...EnvOption) (e *Env, err error) {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
	)

	ctx := options.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	log := options.log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("env", id))

	metrics := options.metrics
	if metrics == nil {
		metrics = NopAggMetrics()
	}

	e = &Env{
		id:          id,
		log:         log,
		store:       options.store,
		snapshotter: options.snapshotter,
		registry:    NewPayloadRegistry(),
		metrics:     metrics,
		done:        make(chan struct{}),
		consumers:   make([]*Consumer, 0),
	}
	e.ctx, e.cancelCtx = context.WithCancel(ctx)

	// register event payloads
	for _, reg := range options.defs {
		reg(e.registry)
	}

	// start all consumers
	for _, c := range options.consumers {
		consumer := e.NewConsumer(c.handler, WithConsumerOpts(WithLog(e.log)), WithConsumerOpts(c.consumerOpts...))
		if err := consumer.Start(e.ctx); err != nil {
			return nil, fmt.Errorf("failed to start consumer: %w", err)
		}
		e.consumers = append(e.consumers, consumer)
	}

	context.AfterFunc(e.ctx, func() {
		e.log.Info("shutting down")

		e.log.Debug("stopping consumers", slog.Int("count", len(e.consumers)))
		for _, c := range e.consumers {
			c.Stop()
		}

		e.log.Info("env shutdown")
		close(e.done)
	})

	return e, nil
}

func (e *Env) Shutdown() {
	e.shutdownOnce.Do(func() {
		e.cancelCtx()
		<-e.done
	})
}

func (e *Env) NewConsumer(handler Handler, opts ...ConsumerOption) *Consumer {
	return NewConsumer(e.store, e.registry, handler, WithLog(e.log), WithConsumerOpts(opts...))
}

// Append appends tagged events directly to the env's store. Mostly useful
// at serialization boundaries and in tests; domain code goes through a
// [Repository].
func (e *Env) Append(ctx context.Context, expect Version, aggType string, aggID string, events ...Event) error {
	_, err := e.AppendWithResult(ctx, expect, aggType, aggID, events...)
	return err
}

func (e *Env) AppendWithResult(
	ctx context.Context,
	expect Version,
	aggType string,
	aggID string,
	events ...Event,
) (*StoreAppendResult, error) {
	defer e.metrics.StoreAppendDuration(aggType).ObserveDuration()
	return AppendEvents(ctx, e.store, e.registry, aggType, aggID, expect, events...)
}

// NewRepositoryIn wires a typed repository into the env's store, registry,
// snapshotter and metrics. A package-level function because Go methods
// cannot introduce the state type parameter S.
func NewRepositoryIn[S any](e *Env, aggType string, reducer *Reducer[S], opts ...RepositoryOption) *Repository[S] {
	return NewRepository(
		e.log,
		aggType,
		reducer,
		e.registry,
		e.store,
		WithRepoOpts(
			WithSnapshotter(e.snapshotter),
			WithMetrics(e.metrics),
		),
		WithRepoOpts(opts...),
	)
}

// WithRepoOpts groups repository options, mirroring WithConsumerOpts for
// consumers.
func WithRepoOpts(opts ...RepositoryOption) RepositoryOptions {
	return RepositoryOptions{opts: opts}
}

type RepositoryOptions MultiOption[RepositoryOption]

func (o RepositoryOptions) applyToRepository(options *repoOpts) {
	for _, opt := range o.opts {
		opt.applyToRepository(options)
	}
}
