// internal/poller/types.go
package poller

import (
	"time"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

// PollResult is a snapshot produced by one poll cycle.
// When Err is non-nil no other field but DeviceID and At is meaningful.
type PollResult struct {
	DeviceID uint16
	At       time.Time

	Temperature float64
	Calibration protocol.CalibrationStatus

	// Violations lists the enabled monitors that failed the threshold check.
	// A violation is a poll result, not a poll failure.
	Violations []qrng.Violation

	// ThresholdsRefreshed is set when this cycle pulled fresh bounds.
	ThresholdsRefreshed bool

	Err error // non-nil means the poll cycle failed
}

// AlarmMask has bit i set for every violated AlarmType i.
func (r PollResult) AlarmMask() uint16 {
	var m uint16
	for _, v := range r.Violations {
		if v.Alarm.Valid() {
			m |= 1 << uint(v.Alarm)
		}
	}
	return m
}
