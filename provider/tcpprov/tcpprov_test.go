package tcpprov

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amdpsp/pspproxy/errs"
)

func TestNewRejectsEmptyAddress(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestConnectReadWritePollLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	p, err := New(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, p.Connect())
	defer p.Close()

	server := <-accepted
	defer server.Close()

	// Before anything arrives, Poll should time out quickly.
	err = p.Poll(50 * time.Millisecond)
	require.Error(t, err)
	require.ErrorIs(t, err, errs.Timeout)

	_, err = server.Write([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, p.Poll(time.Second))
	n, err := p.Peek()
	require.NoError(t, err)
	require.Greater(t, n, 0)

	buf := make([]byte, 5)
	read, err := p.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:read]))
}
