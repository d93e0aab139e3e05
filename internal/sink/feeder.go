// internal/sink/feeder.go
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

// Capturer is the part of *qrng.Client the feeder needs.
type Capturer interface {
	ResolveIndex(deviceID uint16) (int, bool)
	CaptureExtracted(ctx context.Context, count, dev int) ([]uint32, error)
}

// Recorder receives feed statistics. *metrics.Metrics satisfies it.
type Recorder interface {
	AddCapturedWords(deviceID uint16, n int)
	ObserveSink(err error)
}

// Store is where blocks go. *Publisher satisfies it.
type Store interface {
	Publish(ctx context.Context, b Block) error
}

// Feeder captures a fixed number of extracted words on every tick and
// hands them to the store. A failed tick is logged and skipped.
type Feeder struct {
	DeviceID uint16
	Words    int
	Interval time.Duration

	Source   Capturer
	Store    Store
	Recorder Recorder // optional
	Log      logrus.FieldLogger

	seq uint64
}

// Run loops until ctx is cancelled. One capture at a time.
func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.FeedOnce(ctx); err != nil && ctx.Err() == nil {
				f.Log.WithFields(logrus.Fields{"device_id": f.DeviceID}).WithError(err).Warn("entropy feed failed")
			}
		}
	}
}

// FeedOnce performs one capture and store. A partial capture is discarded.
func (f *Feeder) FeedOnce(ctx context.Context) error {
	dev, ok := f.Source.ResolveIndex(f.DeviceID)
	if !ok {
		return qrng.ErrDeviceUnknown
	}

	words, err := f.Source.CaptureExtracted(ctx, f.Words, dev)
	if err != nil {
		var ce *qrng.CaptureError
		if errors.As(err, &ce) && f.Recorder != nil {
			f.Recorder.AddCapturedWords(f.DeviceID, ce.Retrieved)
		}
		return err
	}
	if f.Recorder != nil {
		f.Recorder.AddCapturedWords(f.DeviceID, len(words))
	}

	f.seq++
	err = f.Store.Publish(ctx, Block{
		DeviceID: f.DeviceID,
		Seq:      f.seq,
		At:       time.Now(),
		Words:    words,
	})
	if f.Recorder != nil {
		f.Recorder.ObserveSink(err)
	}
	return err
}
