// Package domain holds the aggregates used by the engine's end-to-end
// tests: a minimal counter and a small account lifecycle.
package domain

import (
	"github.com/codewandler/aggr-go/core/agg"
)

const CounterType = "counter"

type (
	Counter struct {
		Value          int `json:"value"`
		NumTotalEvents int `json:"num_total_events"`
	}

	Delta struct {
		Amount int `json:"amount"`
	}
)

var (
	Incremented = agg.NewDef[Delta]("incremented")
	Decremented = agg.NewDef[Delta]("decremented")
)

func CounterBuilder() agg.Builder[Counter] {
	b := agg.NewBuilder[Counter]().WithInitialState(func() Counter { return Counter{} })
	b = agg.On(b, Incremented, func(s Counter, p Delta) Counter {
		s.Value += p.Amount
		s.NumTotalEvents++
		return s
	})
	b = agg.On(b, Decremented, func(s Counter, p Delta) Counter {
		s.Value -= p.Amount
		s.NumTotalEvents++
		return s
	})
	return b
}

func CounterReducer() *agg.Reducer[Counter] {
	r, err := CounterBuilder().Reducer()
	if err != nil {
		panic(err)
	}
	return r
}

// CounterDefs registers the counter's event payloads with an env.
func CounterDefs() []agg.EnvOption {
	return []agg.EnvOption{
		agg.WithDef(Incremented),
		agg.WithDef(Decremented),
	}
}
