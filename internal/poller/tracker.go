// internal/poller/tracker.go
package poller

import (
	"errors"

	"github.com/tamzrod/qrng-admin/internal/status"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

// Tracker is the runner-owned status state of one device.
// It turns poll results and 1 Hz ticks into status snapshots.
type Tracker struct {
	snap status.Snapshot
}

// NewTracker starts in the boot state (HealthUnknown).
func NewTracker() *Tracker {
	return &Tracker{snap: status.Snapshot{Health: status.HealthUnknown}}
}

func (t *Tracker) Snapshot() status.Snapshot { return t.snap }

// Apply folds one poll result into the snapshot and reports whether it changed.
func (t *Tracker) Apply(res PollResult) (status.Snapshot, bool) {
	next := t.snap

	if res.Err != nil {
		// Failure keeps the last good readings; seconds_in_error
		// increments on the 1 Hz tick only.
		next.Health = status.HealthError
		next.LastErrorCode = ErrorCode(res.Err)
	} else {
		next.LastErrorCode = 0
		next.CalibrationStatus = uint16(res.Calibration)
		next.AlarmMask = res.AlarmMask()
		next.Temperature = status.CentiDegrees(res.Temperature)

		switch {
		case res.Calibration == protocol.CalibrationInProgress:
			next.Health = status.HealthCalibrating
		case len(res.Violations) > 0:
			next.Health = status.HealthAlarm
		default:
			next.Health = status.HealthOK
		}

		// Reset seconds-in-error on recovery.
		if next.Health == status.HealthOK || next.Health == status.HealthCalibrating {
			next.SecondsInError = 0
		}
	}

	changed := next != t.snap
	t.snap = next
	return next, changed
}

// Tick advances seconds_in_error while the device is in error or alarm.
// It saturates at 65535 and never wraps.
func (t *Tracker) Tick() (status.Snapshot, bool) {
	if t.snap.Health != status.HealthError && t.snap.Health != status.HealthAlarm {
		return t.snap, false
	}
	if t.snap.SecondsInError == 65535 {
		return t.snap, false
	}
	t.snap.SecondsInError++
	return t.snap, true
}

// ErrorCode extracts a best-effort uint16 code from a poll failure.
// A server err field is passed through; local failures map to fixed codes.
func ErrorCode(err error) uint16 {
	if err == nil {
		return 0
	}

	if code, ok := qrng.ErrorCode(err); ok {
		if code == 0 || code > 0xFFFF {
			return status.ErrCodeOther
		}
		return uint16(code)
	}

	var ce *qrng.ConnectError
	switch {
	case errors.As(err, &ce):
		return status.ErrCodeConnectionLost
	case errors.Is(err, qrng.ErrTimeout):
		return status.ErrCodeTimeout
	case errors.Is(err, qrng.ErrConnectionLost):
		return status.ErrCodeConnectionLost
	case errors.Is(err, qrng.ErrMalformedReply):
		return status.ErrCodeMalformed
	}

	return status.ErrCodeOther
}
