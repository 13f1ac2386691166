package agg

import (
	"fmt"

	"github.com/codewandler/aggr-go/internal/reflector"
)

// Event is a tagged payload: the runtime value that flows through the
// engine. Events are produced by invoking a [Def] as a factory and are
// never mutated after creation.
type Event struct {
	Tag     string `json:"tag"`
	Payload any    `json:"payload"`
}

// Def describes one event kind: a tag, a payload shape P and an optional
// primary-key extraction function. Two Defs with the same tag denote the
// same event kind. Defs are immutable and shared by reference; tag
// uniqueness within an aggregate's event vocabulary is the caller's
// responsibility.
type Def[P any] struct {
	tag        string
	primaryKey func(P) string
}

// DefOption configures a Def at construction time.
type DefOption[P any] func(*Def[P])

// WithPrimaryKey attaches a primary-key extraction function. The key is
// reserved for persistence/indexing collaborators; the reducer never
// invokes it.
func WithPrimaryKey[P any](fn func(P) string) DefOption[P] {
	return func(d *Def[P]) { d.primaryKey = fn }
}

// NewDef creates an event definition for payload type P. Defs are meant to
// be package-level variables, so an empty tag panics at init time rather
// than surfacing mid-replay.
func NewDef[P any](tag string, opts ...DefOption[P]) Def[P] {
	if tag == "" {
		panic(fmt.Sprintf("agg: empty tag for event definition %T", *new(P)))
	}
	d := Def[P]{tag: tag}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Tag returns the event kind's unique tag.
func (d Def[P]) Tag() string { return d.tag }

// New constructs an Event carrying p. This is the only sanctioned way to
// produce events outside of tests and serialization boundaries.
func (d Def[P]) New(p P) Event { return Event{Tag: d.tag, Payload: p} }

// PrimaryKey extracts the primary key of p, or "" when no extraction
// function was configured.
func (d Def[P]) PrimaryKey(p P) string {
	if d.primaryKey == nil {
		return ""
	}
	return d.primaryKey(p)
}

// HasPrimaryKey reports whether a primary-key function was configured.
func (d Def[P]) HasPrimaryKey() bool { return d.primaryKey != nil }

// DefaultTag derives a tag from the payload type name. Useful when the
// payload type is descriptive enough on its own.
func DefaultTag[P any]() string { return reflector.TypeInfoFor[P]().Type.Name() }
