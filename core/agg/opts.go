package agg

import (
	"context"
	"log/slog"
)

type (
	StoreOption    valueOption[EventStore]
	ContextOption  struct{ ctx context.Context }
	MemoryOption   struct{}
	RegisterOption struct{ reg func(*PayloadRegistry) }
	LogOption      struct{ l *slog.Logger }
	EnvOpts        MultiOption[EnvOption]
)

func WithInMemory() MemoryOption         { return MemoryOption{} }
func WithStore(s EventStore) StoreOption { return StoreOption{v: s} }

// WithDef registers an event definition's payload codec with the env's
// registry.
func WithDef[P any](d Def[P]) RegisterOption {
	return RegisterOption{reg: func(r *PayloadRegistry) { RegisterPayload(r, d) }}
}

func WithCtx(ctx context.Context) ContextOption { return ContextOption{ctx: ctx} }
func WithLog(l *slog.Logger) LogOption          { return LogOption{l: l} }
func WithEnvOpts(opts ...EnvOption) EnvOpts     { return EnvOpts{opts: opts} }

func (o StoreOption) applyToEnv(e *envOptions) { e.store = o.v }
func (o MemoryOption) applyToEnv(e *envOptions) {
	e.store = NewInMemoryStore()
	e.snapshotter = NewInMemorySnapshotter()
}
func (o RegisterOption) applyToEnv(e *envOptions) {
	e.defs = append(e.defs, o.reg)
}
func (o ContextOption) applyToEnv(e *envOptions) {
	e.ctx = o.ctx
}
func (o LogOption) applyToEnv(e *envOptions) {
	e.log = o.l
}
func (o SnapshotterOption) applyToEnv(e *envOptions) { e.snapshotter = o.v }
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}
