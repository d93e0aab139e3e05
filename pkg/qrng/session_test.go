// pkg/qrng/session_test.go
package qrng

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/qrng-admin/internal/fakeqrng"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

func TestEndToEnd_DiscoverCaptureDisconnect(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(5), fakeqrng.NewDevice(9))
	ctx := context.Background()

	ids, err := h.c.DiscoverDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{5, 9}, ids)

	idx, ok := h.c.ResolveIndex(9)
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	words, err := h.c.CaptureRaw(ctx, 256, idx)
	require.NoError(t, err)
	require.Len(t, words, 256)
	for i, w := range words {
		require.Equal(t, fakeqrng.Word(9, uint32(i), true), w, "word %d", i)
	}

	require.NoError(t, h.c.Close())
	assert.False(t, h.c.Session().Connected())

	_, err = h.c.Session().SendCommand(ctx, protocol.NewRequest(protocol.CmdEcho, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnect_MalformedAddress(t *testing.T) {
	for _, addr := range []string{"", "   ", "host:notaport", "a:b:c", "host:0", "host:70000", ":5000"} {
		s := NewSession(SessionOptions{})
		err := s.Connect(context.Background(), addr)

		var ce *ConnectError
		require.ErrorAs(t, err, &ce, "addr %q", addr)
		assert.False(t, s.Connected())
	}
}

func TestConnect_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := NewSession(SessionOptions{Timeout: time.Second})
	err = s.Connect(context.Background(), addr)

	var ce *ConnectError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, addr, ce.Addr)
}

func TestConnect_AlreadyConnected(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))

	err := h.c.Session().Connect(context.Background(), h.srv.Addr())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
	assert.True(t, h.c.Session().Connected())

	require.NoError(t, h.c.Echo(context.Background()))
}

func TestDisconnect_Idempotent(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))

	require.NoError(t, h.c.Close())
	require.NoError(t, h.c.Close())
	assert.False(t, h.c.Session().Connected())

	// the server saw DIS exactly once
	var dis int
	for _, c := range h.srv.Commands() {
		if c == protocol.CmdDisconnect {
			dis++
		}
	}
	assert.Equal(t, 1, dis)
}

func TestSession_Reconnect(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))
	s := h.c.Session()

	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Connect(context.Background(), h.srv.Addr()))
	require.NoError(t, h.c.Echo(context.Background()))
}

func TestSendCommand_Timeout(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))
	h.srv.SetSilent(true)
	h.c.Session().SetTimeout(200 * time.Millisecond)

	start := time.Now()
	_, err := h.c.Session().SendCommand(context.Background(), protocol.NewRequest(protocol.CmdEcho, 0))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, Timeout, te.Kind)
	assert.Equal(t, protocol.CmdEcho, te.Cmd)

	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)

	// a timed out session is unusable until reconnected
	assert.False(t, h.c.Session().Connected())
}

func TestSendCommand_ContextDeadlineShortensTimeout(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))
	h.srv.SetSilent(true)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := h.c.Echo(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendCommand_ServerGone(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))
	require.NoError(t, h.srv.Close())

	err := h.c.Echo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.False(t, h.c.Session().Connected())
}

func TestSendCommand_MismatchedID(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))
	h.srv.EchoWrongID(true)

	_, err := h.c.Session().SendCommand(context.Background(), protocol.NewRequest(protocol.CmdEcho, 0))
	assert.ErrorIs(t, err, ErrMalformedReply)
	assert.False(t, h.c.Session().Connected())
}

func TestSendCommand_ServerErrorIsNotTransportError(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))

	// dev 7 does not exist on the server; bypass the local registry check
	reply, err := h.c.Session().SendCommand(context.Background(), protocol.NewRequest(protocol.CmdTemperatureRead, 7))
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdDeviceError, reply.Cmd)

	var se *protocol.ServerError
	require.ErrorAs(t, reply.ServerErr(), &se)
	assert.Equal(t, uint32(1), se.Code)

	code, ok := ErrorCode(reply.ServerErr())
	assert.True(t, ok)
	assert.Equal(t, uint32(1), code)

	assert.True(t, h.c.Session().Connected())
}

func TestSendCommand_RejectsInvalidRequest(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))

	_, err := h.c.Session().SendCommand(context.Background(), protocol.Envelope{Cmd: protocol.CmdInvalid})
	require.Error(t, err)

	var te *TransportError
	assert.False(t, errors.As(err, &te))
	assert.True(t, h.c.Session().Connected())
	assert.Zero(t, h.srv.Requests())
}

func TestSendCommand_ObserverSeesEveryRoundTrip(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1))
	ctx := context.Background()

	require.NoError(t, h.c.Echo(ctx))
	_, err := h.c.ServerVersion(ctx)
	require.NoError(t, err)

	require.Equal(t, 2, h.obs.count())
	assert.Equal(t, protocol.CmdEcho, h.obs.calls[0].cmd)
	assert.Equal(t, protocol.CmdServerVersion, h.obs.calls[1].cmd)
	assert.NoError(t, h.obs.calls[0].err)
}

func TestServerInfo(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(1), fakeqrng.NewDevice(2))
	ctx := context.Background()

	v, err := h.c.ServerVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2.0.1", v)

	info, err := h.c.SystemInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"fake-qrng", "boards=2"}, info)

	require.NoError(t, h.c.Reset(ctx))
}

func TestSetTimeout(t *testing.T) {
	s := NewSession(SessionOptions{})
	assert.Equal(t, DefaultTimeout, s.Timeout())

	s.SetTimeoutSeconds(3)
	assert.Equal(t, 3*time.Second, s.Timeout())

	s.SetTimeout(0)
	assert.Equal(t, DefaultTimeout, s.Timeout())
}

func TestNormalizeAddr(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"10.0.0.5:5000", "10.0.0.5:5000", true},
		{"10.0.0.5", "10.0.0.5:" + DefaultPort, true},
		{" qrng.local ", "qrng.local:" + DefaultPort, true},
		{"[::1]:6000", "[::1]:6000", true},
		{"::1", "[::1]:" + DefaultPort, true},
		{"", "", false},
		{"host:", "", false},
		{"host:x", "", false},
		{"a:b:c", "", false},
	}
	for _, tc := range cases {
		got, err := normalizeAddr(tc.in)
		if !tc.ok {
			assert.Error(t, err, "in %q", tc.in)
			continue
		}
		require.NoError(t, err, "in %q", tc.in)
		assert.Equal(t, tc.want, got)
	}
}
