package agg

import "log/slog"

// Version is the per-aggregate event counter. It starts at 0 for an
// aggregate with no history and increases by exactly 1 for every applied
// event. Persistence layers use it for optimistic concurrency control:
// when appending, the expected version must match the version currently
// held by the store.
type Version uint64

func (v Version) Uint64() uint64 { return uint64(v) }

// Next returns the version after one more applied event.
func (v Version) Next() Version { return v + 1 }

func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
