package agg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type incremented struct {
	Amount int `json:"amount"`
}

type userCreated struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

func TestDef(t *testing.T) {
	inc := NewDef[incremented]("increment")
	require.Equal(t, "increment", inc.Tag())
	require.False(t, inc.HasPrimaryKey())
	require.Equal(t, "", inc.PrimaryKey(incremented{Amount: 1}))

	ev := inc.New(incremented{Amount: 2})
	require.Equal(t, "increment", ev.Tag)
	require.Equal(t, incremented{Amount: 2}, ev.Payload)
}

func TestDef_PrimaryKey(t *testing.T) {
	created := NewDef("user_created", WithPrimaryKey(func(p userCreated) string {
		return p.UserID
	}))
	require.True(t, created.HasPrimaryKey())
	require.Equal(t, "u-1", created.PrimaryKey(userCreated{UserID: "u-1"}))
}

func TestDef_EmptyTagPanics(t *testing.T) {
	require.Panics(t, func() {
		NewDef[incremented]("")
	})
}

func TestDefaultTag(t *testing.T) {
	require.Equal(t, "incremented", DefaultTag[incremented]())
	require.Equal(t, "userCreated", DefaultTag[userCreated]())
}
