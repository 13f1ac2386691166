package agg

import (
	"encoding/json"
	"fmt"
	"sync"
)

// payloadCodec holds the tag-erased decode and key-extraction closures of
// one registered Def.
type payloadCodec struct {
	decode func(data json.RawMessage) (any, error)
	key    func(payload any) (string, bool)
}

// PayloadRegistry maps event tags to payload codecs so persistence and
// replay collaborators can decode stored envelopes back into tagged
// events. The reducer core never consults it.
type PayloadRegistry struct {
	mu     sync.RWMutex
	codecs map[string]payloadCodec
}

func NewPayloadRegistry() *PayloadRegistry {
	return &PayloadRegistry{codecs: map[string]payloadCodec{}}
}

// Registrar is implemented by types accepting event definition
// registrations, primarily [PayloadRegistry] and [Env].
type Registrar interface {
	register(tag string, c payloadCodec)
}

func (r *PayloadRegistry) register(tag string, c payloadCodec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[tag] = c
}

// RegisterPayload registers d's tag with reg so envelopes carrying it can
// be decoded. Registering the same tag again overwrites the previous
// codec.
func RegisterPayload[P any](reg Registrar, d Def[P]) {
	reg.register(d.Tag(), payloadCodec{
		decode: func(data json.RawMessage) (any, error) {
			var p P
			if len(data) > 0 {
				if err := json.Unmarshal(data, &p); err != nil {
					return nil, err
				}
			}
			return p, nil
		},
		key: func(payload any) (string, bool) {
			p, ok := payload.(P)
			if !ok || !d.HasPrimaryKey() {
				return "", false
			}
			return d.PrimaryKey(p), true
		},
	})
}

// Decode reconstructs the tagged event carried by env. An unregistered tag
// fails with [ErrUnknownEventTag].
func (r *PayloadRegistry) Decode(env Envelope) (Event, error) {
	r.mu.RLock()
	c, ok := r.codecs[env.Tag]
	r.mu.RUnlock()
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownEventTag, env.Tag)
	}
	payload, err := c.decode(env.Data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to decode payload for tag %s: %w", env.Tag, err)
	}
	return Event{Tag: env.Tag, Payload: payload}, nil
}

// IndexKey extracts the primary key of ev's payload via the registered
// definition. The second return is false when the tag is unknown or the
// definition carries no primary-key function.
func (r *PayloadRegistry) IndexKey(ev Event) (string, bool) {
	r.mu.RLock()
	c, ok := r.codecs[ev.Tag]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return c.key(ev.Payload)
}

var _ Decoder = (*PayloadRegistry)(nil)
