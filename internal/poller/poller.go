// internal/poller/poller.go
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

// Client abstracts the QRNG operations needed by the poller.
// *qrng.Client satisfies it.
type Client interface {
	ResolveIndex(deviceID uint16) (int, bool)
	CheckThresholds(ctx context.Context, dev int) error
	ReadTemperature(ctx context.Context, dev int) (float64, error)
	GetCalibrationStatus(ctx context.Context, dev int) (protocol.CalibrationStatus, error)
	UpdateThresholds(ctx context.Context, dev int) error
}

// Factory returns a usable client. ONE attempt per call.
type Factory func(ctx context.Context) (Client, error)

// Config is the minimal runtime config the poller needs.
type Config struct {
	DeviceID uint16
	Interval time.Duration

	// DeltaT is the server-imposed period between threshold refreshes.
	// Zero disables refreshing.
	DeltaT time.Duration
}

// Poller is a dumb, clock-driven health reader for one device.
type Poller struct {
	cfg     Config
	client  Client
	factory Factory

	lastRefresh time.Time
	now         func() time.Time
}

// New creates a poller with immutable config.
// client may be nil; factory is then used on the first tick.
func New(cfg Config, client Client, factory Factory) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.DeltaT < 0 {
		return nil, errors.New("poller: delta t must not be negative")
	}
	if client == nil && factory == nil {
		return nil, errors.New("poller: client or factory required")
	}
	return &Poller{cfg: cfg, client: client, factory: factory, now: time.Now}, nil
}

// MarkRefreshed records that thresholds were pulled outside the poller.
func (p *Poller) MarkRefreshed(at time.Time) { p.lastRefresh = at }

// PollOnce performs exactly one poll cycle.
// All-or-nothing: any failure aborts the cycle.
func (p *Poller) PollOnce(ctx context.Context) PollResult {
	at := p.now()
	res := PollResult{DeviceID: p.cfg.DeviceID, At: at}

	if p.client == nil {
		c, err := p.factory(ctx)
		if err != nil {
			res.Err = fmt.Errorf("poller: reconnect: %w", err)
			return res
		}
		p.client = c
		// a new session starts without cached bounds
		p.lastRefresh = time.Time{}
	}

	dev, ok := p.client.ResolveIndex(p.cfg.DeviceID)
	if !ok {
		res.Err = fmt.Errorf("poller: device %d: %w", p.cfg.DeviceID, qrng.ErrDeviceUnknown)
		return res
	}

	refresh := p.cfg.DeltaT > 0 && at.Sub(p.lastRefresh) >= p.cfg.DeltaT
	if refresh {
		if err := p.client.UpdateThresholds(ctx, dev); err != nil {
			return p.fail(at, err)
		}
	}

	var violations []qrng.Violation
	if err := p.client.CheckThresholds(ctx, dev); err != nil {
		var te *qrng.ThresholdError
		if !errors.As(err, &te) {
			return p.fail(at, err)
		}
		violations = te.Violations
	}

	temp, err := p.client.ReadTemperature(ctx, dev)
	if err != nil {
		return p.fail(at, err)
	}

	cal, err := p.client.GetCalibrationStatus(ctx, dev)
	if err != nil {
		return p.fail(at, err)
	}

	// Commit only if every step succeeded
	if refresh {
		p.lastRefresh = at
	}
	res.Temperature = temp
	res.Calibration = cal
	res.Violations = violations
	res.ThresholdsRefreshed = refresh
	return res
}

// fail records err and, on transport death, discards the client so a future
// tick goes through the factory.
func (p *Poller) fail(at time.Time, err error) PollResult {
	if isTransport(err) {
		p.client = nil
	}
	return PollResult{DeviceID: p.cfg.DeviceID, At: at, Err: err}
}

func isTransport(err error) bool {
	return errors.Is(err, qrng.ErrTimeout) ||
		errors.Is(err, qrng.ErrConnectionLost) ||
		errors.Is(err, qrng.ErrMalformedReply)
}
