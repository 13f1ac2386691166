package nats

import (
	"testing"

	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

func TestReuseConnection(t *testing.T) {
	var connects, closes int

	connect := ReuseConnection(func() (*natsgo.Conn, closeFunc, error) {
		connects++
		return &natsgo.Conn{}, func() { closes++ }, nil
	})

	_, close1, err := connect()
	require.NoError(t, err)
	_, close2, err := connect()
	require.NoError(t, err)
	require.Equal(t, 1, connects, "connection should be shared")

	close1()
	require.Equal(t, 0, closes, "still leased")
	close2()
	require.Equal(t, 1, closes, "closed after last lease released")

	// a fresh lease reconnects
	_, close3, err := connect()
	require.NoError(t, err)
	require.Equal(t, 2, connects)
	close3()
	require.Equal(t, 2, closes)
}
