package network

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linemq/lmq/broker"
	"github.com/linemq/lmq/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(slog.LevelError+1, io.Discard)
}

func startRouter(t *testing.T) *broker.Router {
	t.Helper()

	router := broker.NewRouter(64, testLogger())
	go router.Run()
	t.Cleanup(func() {
		router.Dispatch(broker.Shutdown{})
		select {
		case <-router.Done():
		case <-time.After(time.Second):
			t.Error("router did not stop")
		}
	})

	return router
}

// startSession runs a Handler over one end of a pipe and returns the
// client end
func startSession(t *testing.T, router *broker.Router) (net.Conn, *Handler) {
	t.Helper()

	server, client := net.Pipe()
	conn := NewConnection(server, "test-conn")
	handler := NewHandler(conn, router, 16, testLogger())

	go handler.Serve()
	t.Cleanup(func() {
		_ = client.Close()
		select {
		case <-handler.Done():
		case <-time.After(time.Second):
			t.Error("handler did not stop")
		}
	})

	return client, handler
}

func readLine(t *testing.T, r *bufio.Reader, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestHandlerClientIDsMonotonic(t *testing.T) {
	router := startRouter(t)

	serverA, clientA := net.Pipe()
	defer clientA.Close()
	serverB, clientB := net.Pipe()
	defer clientB.Close()

	a := NewHandler(NewConnection(serverA, "a"), router, 4, testLogger())
	b := NewHandler(NewConnection(serverB, "b"), router, 4, testLogger())

	assert.Greater(t, b.ClientID(), a.ClientID())
}

func TestHandlerGreetingOnPipe(t *testing.T) {
	router := startRouter(t)
	client, _ := startSession(t, router)

	r := bufio.NewReader(client)
	line := readLine(t, r, client)

	// a pipe has no TCP address; the fields fall back to zero values
	assert.Equal(t, "INFO {\"hostname\":\"\",\"port\":0,\"client_ip\":\"\"}\n", line)
}

func TestHandlerSession(t *testing.T) {
	router := startRouter(t)
	client, _ := startSession(t, router)
	r := bufio.NewReader(client)

	readLine(t, r, client) // INFO

	_, err := client.Write([]byte("CONNECT {\"verbose\":true}\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "+OK\r\n", readLine(t, r, client))

	_, err = client.Write([]byte("SUB foo 1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "+OK\n", readLine(t, r, client))

	_, err = client.Write([]byte("PUB foo 5\r\nhello\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "+OK\n", readLine(t, r, client))

	// the published message comes back through the mailbox
	assert.Equal(t, "MSG foo 1 5\r\n", readLine(t, r, client))
	assert.Equal(t, "hello\n", readLine(t, r, client))
}

func TestHandlerRejectsBeforeConnect(t *testing.T) {
	router := startRouter(t)
	client, _ := startSession(t, router)
	r := bufio.NewReader(client)

	readLine(t, r, client) // INFO

	_, err := client.Write([]byte("PING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "-ERR\n", readLine(t, r, client))

	_, err = client.Write([]byte("SUB foo 1\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "-ERR\n", readLine(t, r, client))
}

func TestHandlerParserErrorRecovery(t *testing.T) {
	router := startRouter(t)
	client, _ := startSession(t, router)
	r := bufio.NewReader(client)

	readLine(t, r, client) // INFO

	_, err := client.Write([]byte("CONNECT {}\r\n"))
	require.NoError(t, err)

	_, err = client.Write([]byte("BOGUS\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "-ERR\n", readLine(t, r, client))

	_, err = client.Write([]byte("PING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "PONG\r\n", readLine(t, r, client))
}

func TestHandlerShutdownEventEndsSession(t *testing.T) {
	router := startRouter(t)
	client, handler := startSession(t, router)
	r := bufio.NewReader(client)

	readLine(t, r, client) // INFO

	_, err := client.Write([]byte("CONNECT {}\r\n"))
	require.NoError(t, err)

	// a pipe refuses deadline changes once the other end is closed
	require.NoError(t, client.SetReadDeadline(time.Now().Add(4*time.Second)))

	router.Dispatch(broker.Shutdown{})

	select {
	case <-handler.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on shutdown event")
	}

	_, err = r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestHandlerEOFDisconnects(t *testing.T) {
	router := startRouter(t)

	server, client := net.Pipe()
	conn := NewConnection(server, "eof-conn")
	handler := NewHandler(conn, router, 16, testLogger())
	go handler.Serve()

	r := bufio.NewReader(client)
	readLine(t, r, client) // INFO

	require.NoError(t, client.Close())

	select {
	case <-handler.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on EOF")
	}
}
