package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConnection(t *testing.T, id string) (*Connection, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	conn := NewConnection(server, id)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = client.Close()
	})

	return conn, client
}

func TestConnectionReadWrite(t *testing.T) {
	conn, client := pipeConnection(t, "c1")

	go func() {
		_, _ = client.Write([]byte("hello"))
	}()

	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, uint64(5), conn.BytesRead())

	go func() {
		buf := make([]byte, 16)
		_, _ = client.Read(buf)
	}()

	n, err = conn.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, uint64(2), conn.BytesWritten())
}

func TestConnectionClose(t *testing.T) {
	conn, _ := pipeConnection(t, "c1")

	assert.Equal(t, StateConnected, conn.State())

	require.NoError(t, conn.Close())
	assert.Equal(t, StateClosed, conn.State())

	select {
	case <-conn.CloseChan():
	default:
		t.Fatal("close channel not closed")
	}

	// idempotent
	assert.NoError(t, conn.Close())

	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrConnectionClosed)

	_, err = conn.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestConnectionID(t *testing.T) {
	conn, _ := pipeConnection(t, "some-id")
	assert.Equal(t, "some-id", conn.ID())
}
