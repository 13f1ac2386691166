package agg

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayloadRegistry_Decode(t *testing.T) {
	created := NewDef("user_created", WithPrimaryKey(func(p userCreated) string {
		return p.UserID
	}))

	reg := NewPayloadRegistry()
	RegisterPayload(reg, created)

	data, err := json.Marshal(userCreated{UserID: "u-1", Name: "Jane Doe", Email: "jane@doe.com"})
	require.NoError(t, err)

	ev, err := reg.Decode(Envelope{Tag: "user_created", Data: data})
	require.NoError(t, err)
	require.Equal(t, "user_created", ev.Tag)
	require.Equal(t, userCreated{UserID: "u-1", Name: "Jane Doe", Email: "jane@doe.com"}, ev.Payload)
}

func TestPayloadRegistry_UnknownTag(t *testing.T) {
	reg := NewPayloadRegistry()
	_, err := reg.Decode(Envelope{Tag: "nope"})
	require.ErrorIs(t, err, ErrUnknownEventTag)
}

func TestPayloadRegistry_EmptyData(t *testing.T) {
	reg := NewPayloadRegistry()
	RegisterPayload(reg, NewDef[userDeactivated]("user_deactivated"))

	ev, err := reg.Decode(Envelope{Tag: "user_deactivated"})
	require.NoError(t, err)
	require.Equal(t, userDeactivated{}, ev.Payload)
}

func TestPayloadRegistry_IndexKey(t *testing.T) {
	created := NewDef("user_created", WithPrimaryKey(func(p userCreated) string {
		return p.UserID
	}))
	deactivated := NewDef[userDeactivated]("user_deactivated")

	reg := NewPayloadRegistry()
	RegisterPayload(reg, created)
	RegisterPayload(reg, deactivated)

	key, ok := reg.IndexKey(created.New(userCreated{UserID: "u-7"}))
	require.True(t, ok)
	require.Equal(t, "u-7", key)

	// no primary-key function
	_, ok = reg.IndexKey(deactivated.New(userDeactivated{}))
	require.False(t, ok)

	// unknown tag
	_, ok = reg.IndexKey(Event{Tag: "nope"})
	require.False(t, ok)
}
