package agg

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	seq     atomic.Uint64
	streams map[string][]Envelope
	subs    map[string]*inMemorySubscription
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
		subs:    map[string]*inMemorySubscription{},
	}
}

func (s *InMemoryStore) streamKey(aggType, aggID string) string {
	return fmt.Sprintf("%s-%s", aggType, aggID)
}

func (s *InMemoryStore) Subscribe(ctx context.Context, opts ...SubscribeOption) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	options := NewSubscribeOpts(opts...)

	subID := gonanoid.Must()
	sub := &inMemorySubscription{
		filters: options.Filters(),
		ch:      make(chan Envelope, 64),
		maxSeq:  s.seq.Load(),
		cancel: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, subID)
		},
	}
	s.subs[subID] = sub

	context.AfterFunc(ctx, func() {
		sub.Cancel()
	})

	if options.DeliverPolicy() == DeliverAllPolicy {
		// replay history in global sequence order before going live; live
		// appends racing the replay are held back on the subscription and
		// flushed once the history has drained
		sub.replaying = true
		var history []Envelope
		for _, stream := range s.streams {
			for _, e := range stream {
				if e.Seq < options.StartSequence() {
					continue
				}
				if matchFilters(e, sub.filters) {
					history = append(history, e)
				}
			}
		}
		slices.SortFunc(history, func(a, b Envelope) int {
			return int(a.Seq) - int(b.Seq)
		})
		go func() {
			for _, e := range history {
				sub.ch <- e
			}
			sub.goLive()
		}()
	}

	return sub, nil
}

func (s *InMemoryStore) dispatch(events []Envelope) {
	if len(s.subs) == 0 {
		return
	}

	s.log.Debug(
		"dispatching events",
		slog.Int("events", len(events)),
		slog.Int("subscriptions", len(s.subs)),
	)

	for _, e := range events {
		for _, sub := range s.subs {
			if matchFilters(e, sub.filters) {
				sub.send(e)
			}
		}
	}
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType,
	aggID string,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loadOpts := &eventStoreLoadOptions{}
	for _, opt := range opts {
		opt.ApplyToStoreLoadOptions(loadOpts)
	}

	sk := s.streamKey(aggType, aggID)
	events, ok := s.streams[sk]
	if !ok {
		return nil, ErrAggregateNotFound
	}

	out := make([]Envelope, 0)
	for _, e := range events {
		if e.Version < loadOpts.startVersion {
			continue
		}
		if e.Seq < loadOpts.startSeq {
			continue
		}
		out = append(out, e)
	}

	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType string,
	aggID string,
	expectVersion Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	if len(events) == 0 {
		return nil, ErrStoreNoEvents
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk         = s.streamKey(aggType, aggID)
		curStream  = s.streams[sk]
		curVersion Version
	)

	if len(curStream) > 0 {
		curVersion = curStream[len(curStream)-1].Version
	}
	if curVersion != expectVersion {
		return nil, fmt.Errorf(
			"%w: expected version %d, got %d (agg_type=%s agg_id=%s)",
			ErrConcurrencyConflict, expectVersion, curVersion, aggType, aggID,
		)
	}

	var (
		lastSeq   uint64
		allEvents = make([]Envelope, 0, len(events))
	)
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		lastSeq = s.seq.Add(1)
		e.Seq = lastSeq
		allEvents = append(allEvents, e)
	}
	s.streams[sk] = append(curStream, allEvents...)
	s.log.Debug(
		"append",
		slog.Uint64("last_seq", lastSeq),
		slog.Int("num_events", len(allEvents)),
	)

	s.dispatch(allEvents)

	return &StoreAppendResult{LastSeq: lastSeq}, nil
}

// === Subscription ===

type inMemorySubscription struct {
	filters []SubscribeFilter
	ch      chan Envelope
	maxSeq  uint64
	cancel  context.CancelFunc

	mu        sync.Mutex
	replaying bool
	pending   []Envelope
}

func (i *inMemorySubscription) Chan() <-chan Envelope { return i.ch }
func (i *inMemorySubscription) Cancel()               { i.cancel() }
func (i *inMemorySubscription) MaxSequence() uint64   { return i.maxSeq }

// send delivers a live envelope, or parks it while a history replay is in
// flight so the channel never carries a newer seq ahead of older history.
func (i *inMemorySubscription) send(e Envelope) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.replaying {
		i.pending = append(i.pending, e)
		return
	}
	i.ch <- e
}

// goLive flushes parked envelopes in arrival order and admits direct sends.
func (i *inMemorySubscription) goLive() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, e := range i.pending {
		i.ch <- e
	}
	i.pending = nil
	i.replaying = false
}

var _ EventStore = (*InMemoryStore)(nil)
