// internal/poller/builder.go
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	cfg "github.com/tamzrod/qrng-admin/internal/config"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

// Link owns the single session shared by every poller of one server.
// Connection is reused while healthy. After transport death the first
// poller to ask reconnects it, drops the server-side caches and re-runs
// discovery; the rest reuse it.
type Link struct {
	mu     sync.Mutex
	client *qrng.Client
	addr   string
}

func NewLink(client *qrng.Client, addr string) *Link {
	return &Link{client: client, addr: addr}
}

// Client is a Factory: ONE reconnect attempt per call.
func (l *Link) Client(ctx context.Context) (Client, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sess := l.client.Session()
	if sess.Connected() {
		return l.client, nil
	}
	if err := sess.Connect(ctx, l.addr); err != nil {
		return nil, err
	}
	l.client.ForgetServerState()
	if _, err := l.client.DiscoverDevices(ctx); err != nil {
		_ = sess.Disconnect()
		return nil, err
	}
	return l.client, nil
}

// Build constructs a Poller for one configured device on a shared link.
// No retries, no loops, no semantics.
func Build(d cfg.DeviceConfig, link *Link, deltaT time.Duration) (*Poller, error) {
	if link == nil {
		return nil, fmt.Errorf("poller: device %d: link required", d.ID)
	}

	return New(
		Config{
			DeviceID: d.ID,
			Interval: time.Duration(d.Poll.IntervalMs) * time.Millisecond,
			DeltaT:   deltaT,
		},
		link.client,
		link.Client,
	)
}
