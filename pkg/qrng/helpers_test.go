// pkg/qrng/helpers_test.go
package qrng

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tamzrod/qrng-admin/internal/fakeqrng"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

type observed struct {
	cmd protocol.Command
	err error
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observed
}

func (o *recordingObserver) ObserveRequest(cmd protocol.Command, _ time.Duration, err error) {
	o.mu.Lock()
	o.calls = append(o.calls, observed{cmd: cmd, err: err})
	o.mu.Unlock()
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

type harness struct {
	srv *fakeqrng.Server
	c   *Client
	obs *recordingObserver
}

// startClient serves devs from a fake server and returns a connected client.
// Discovery is not run.
func startClient(t *testing.T, opts Options, devs ...*fakeqrng.Device) *harness {
	t.Helper()

	srv, err := fakeqrng.Start(devs...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	if opts.CalibrationPollInterval == 0 {
		opts.CalibrationPollInterval = 5 * time.Millisecond
	}

	obs := &recordingObserver{}
	c, err := Dial(context.Background(), srv.Addr(), SessionOptions{Timeout: 2 * time.Second, Observer: obs}, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return &harness{srv: srv, c: c, obs: obs}
}

// startDiscovered is startClient followed by a successful discovery.
func startDiscovered(t *testing.T, opts Options, devs ...*fakeqrng.Device) *harness {
	t.Helper()
	h := startClient(t, opts, devs...)
	_, err := h.c.DiscoverDevices(context.Background())
	require.NoError(t, err)
	return h
}
