// cmd/qrngd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/internal/config"
	"github.com/tamzrod/qrng-admin/internal/logging"
	"github.com/tamzrod/qrng-admin/internal/metrics"
	"github.com/tamzrod/qrng-admin/internal/poller"
	"github.com/tamzrod/qrng-admin/internal/sink"
	"github.com/tamzrod/qrng-admin/internal/status"
	"github.com/tamzrod/qrng-admin/internal/writer"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: qrngd <config.yaml>")
		os.Exit(2)
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config validation failed: %v\n", err)
		os.Exit(1)
	}
	config.Normalize(cfg)

	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("qrngd stopped")
		closeLog()
		os.Exit(1)
	}
	log.Info("qrngd stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, log); err != nil {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	// --------------------
	// Session + discovery
	// --------------------

	timeout := time.Duration(cfg.QRNG.TimeoutMs) * time.Millisecond
	client, err := qrng.Dial(ctx, cfg.QRNG.Server,
		qrng.SessionOptions{Timeout: timeout, Logger: log, Observer: m},
		qrng.Options{
			ChunkWords:         cfg.QRNG.ChunkWords,
			CalibrationTimeout: time.Duration(cfg.QRNG.CalibrationTimeoutMs) * time.Millisecond,
		},
	)
	if err != nil {
		return err
	}
	defer client.Close()
	m.SetConnected(true)

	ids, err := client.DiscoverDevices(ctx)
	if err != nil {
		return fmt.Errorf("device discovery: %w", err)
	}
	log.WithField("device_ids", ids).Info("devices discovered")

	if err := prepareDevices(ctx, cfg, client, log); err != nil {
		return err
	}

	deltaT, err := client.DeltaT(ctx)
	if err != nil {
		return fmt.Errorf("threshold refresh interval: %w", err)
	}

	// --------------------
	// Status writers
	// --------------------

	plans := writer.BuildStatusPlans(cfg)
	endpoints, closeEndpoints, err := writer.DialEndpoints(plans, timeout)
	if err != nil {
		return fmt.Errorf("status writers: %w", err)
	}
	defer closeEndpoints()

	statusWriters, err := writer.BuildStatusWriters(plans, endpoints)
	if err != nil {
		return err
	}

	// --------------------
	// Per-device pipelines
	// --------------------

	link := poller.NewLink(client, cfg.QRNG.Server)
	refreshedAt := time.Now()

	var wg sync.WaitGroup
	for _, d := range cfg.Devices {
		p, err := poller.Build(d, link, deltaT)
		if err != nil {
			return err
		}
		p.MarkRefreshed(refreshedAt)

		out := make(chan poller.PollResult)

		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Run(ctx, out)
		}()
		go func(d config.DeviceConfig) {
			defer wg.Done()
			orchestrate(ctx, d, out, statusWriters[d.ID], m, client, log)
		}(d)
	}

	// --------------------
	// Entropy feed (opt-in)
	// --------------------

	if e := cfg.Entropy; e.Enabled {
		pub, err := sink.NewPublisher(ctx, sink.Config{
			Addr:      e.Redis.Addr,
			Password:  e.Redis.Password,
			DB:        e.Redis.DB,
			Key:       e.Redis.Key,
			MaxBlocks: e.Redis.MaxBlocks,
			Channel:   e.Redis.Channel,
		}, log)
		if err != nil {
			return err
		}
		defer pub.Close()

		f := &sink.Feeder{
			DeviceID: e.DeviceID,
			Words:    e.Words,
			Interval: time.Duration(e.IntervalMs) * time.Millisecond,
			Source:   client,
			Store:    pub,
			Recorder: m,
			Log:      log,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Run(ctx)
		}()
	}

	log.WithField("devices", len(cfg.Devices)).Info("qrngd running")
	<-ctx.Done()
	wg.Wait()
	return nil
}

// prepareDevices checks every configured device exists, applies monitor
// switches, optionally calibrates, and pulls the initial thresholds.
func prepareDevices(ctx context.Context, cfg *config.Config, client *qrng.Client, log logrus.FieldLogger) error {
	for _, d := range cfg.Devices {
		dlog := log.WithFields(logrus.Fields{"device_id": d.ID, "name": d.Name})

		dev, ok := client.ResolveIndex(d.ID)
		if !ok {
			return fmt.Errorf("device %d: %w", d.ID, qrng.ErrDeviceUnknown)
		}

		for _, name := range d.DisableMonitors {
			at, err := protocol.ParseAlarmType(name)
			if err != nil {
				return err
			}
			if err := client.SetMonitorEnable(ctx, at, false, dev); err != nil {
				return err
			}
			dlog.WithField("monitor", at.String()).Info("monitor disabled")
		}

		if cfg.QRNG.CalibrateOnStart {
			dlog.Info("calibration started")
			if err := client.Calibrate(ctx, dev); err != nil {
				var ce *qrng.CalibrationError
				if !errors.As(err, &ce) {
					return err
				}
				// a failed calibration is reported through the status block
				dlog.WithError(err).Warn("calibration failed")
			} else {
				dlog.Info("calibration succeeded")
			}
		}

		if err := client.UpdateThresholds(ctx, dev); err != nil {
			return err
		}
	}
	return nil
}

// orchestrate owns one device's status state: poll results and a 1 Hz
// seconds ticker feed the tracker, and every change is written out.
func orchestrate(
	ctx context.Context,
	d config.DeviceConfig,
	in <-chan poller.PollResult,
	sw writer.StatusWriter,
	m *metrics.Metrics,
	client *qrng.Client,
	log logrus.FieldLogger,
) {
	dlog := log.WithFields(logrus.Fields{"device_id": d.ID, "name": d.Name})
	tr := poller.NewTracker()

	write := func(snap status.Snapshot, what string) {
		if sw == nil {
			return
		}
		if err := sw.WriteStatus(snap); err != nil {
			dlog.WithError(err).Warnf("status write failed (%s)", what)
		}
	}

	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	// Full block write on start (identity re-assert).
	write(tr.Snapshot(), "start")

	for {
		select {
		case <-ctx.Done():
			return

		case res := <-in:
			m.ObservePoll(res)
			m.SetConnected(client.Session().Connected())

			prev := tr.Snapshot().Health
			snap, changed := tr.Apply(res)
			if snap.Health != prev {
				entry := dlog.WithField("health", snap.Health)
				if res.Err != nil {
					entry.WithError(res.Err).Warn("device health changed")
				} else {
					entry.Info("device health changed")
				}
			}
			if changed {
				write(snap, "poll")
			}

		case <-secTicker.C:
			if snap, changed := tr.Tick(); changed {
				write(snap, "tick")
			}
		}
	}
}
