// internal/poller/tracker_test.go
package poller

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tamzrod/qrng-admin/internal/status"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

func TestTracker_Lifecycle(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, status.HealthUnknown, tr.Snapshot().Health)

	// unknown does not count as error time
	_, changed := tr.Tick()
	assert.False(t, changed)

	snap, changed := tr.Apply(PollResult{Temperature: 30, Calibration: protocol.CalibrationSucceeded})
	assert.True(t, changed)
	assert.Equal(t, status.HealthOK, snap.Health)
	assert.Equal(t, int16(3000), snap.Temperature)
	assert.Equal(t, uint16(protocol.CalibrationSucceeded), snap.CalibrationStatus)

	_, changed = tr.Apply(PollResult{Temperature: 30, Calibration: protocol.CalibrationSucceeded})
	assert.False(t, changed)

	serverErr := &protocol.ServerError{Cmd: protocol.CmdDeviceError, Code: 17}
	snap, changed = tr.Apply(PollResult{Err: serverErr})
	assert.True(t, changed)
	assert.Equal(t, status.HealthError, snap.Health)
	assert.Equal(t, uint16(17), snap.LastErrorCode)
	assert.Equal(t, int16(3000), snap.Temperature, "last good reading kept")

	for i := 0; i < 3; i++ {
		_, changed = tr.Tick()
		assert.True(t, changed)
	}
	assert.Equal(t, uint16(3), tr.Snapshot().SecondsInError)

	snap, _ = tr.Apply(PollResult{Temperature: 30, Calibration: protocol.CalibrationSucceeded})
	assert.Equal(t, status.HealthOK, snap.Health)
	assert.Zero(t, snap.SecondsInError)
	assert.Zero(t, snap.LastErrorCode)
}

func TestTracker_AlarmAndCalibrating(t *testing.T) {
	tr := NewTracker()

	snap, _ := tr.Apply(PollResult{Violations: []qrng.Violation{{Alarm: protocol.AlarmQFactor, Value: protocol.MonitorLowValue}}})
	assert.Equal(t, status.HealthAlarm, snap.Health)
	assert.Equal(t, uint16(1<<7), snap.AlarmMask)

	_, changed := tr.Tick()
	assert.True(t, changed)

	snap, _ = tr.Apply(PollResult{Calibration: protocol.CalibrationInProgress})
	assert.Equal(t, status.HealthCalibrating, snap.Health)
	assert.Zero(t, snap.SecondsInError)
	assert.Zero(t, snap.AlarmMask)
}

func TestTracker_SecondsSaturate(t *testing.T) {
	tr := NewTracker()
	tr.Apply(PollResult{Err: errors.New("boom")})
	tr.snap.SecondsInError = 65534

	_, changed := tr.Tick()
	assert.True(t, changed)
	_, changed = tr.Tick()
	assert.False(t, changed)
	assert.Equal(t, uint16(65535), tr.Snapshot().SecondsInError)
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want uint16
	}{
		{nil, 0},
		{&protocol.ServerError{Cmd: protocol.CmdError, Code: 42}, 42},
		{&protocol.ServerError{Cmd: protocol.CmdUnknown}, status.ErrCodeOther},
		{&qrng.TransportError{Kind: qrng.Timeout}, status.ErrCodeTimeout},
		{&qrng.TransportError{Kind: qrng.ConnectionLost}, status.ErrCodeConnectionLost},
		{&qrng.TransportError{Kind: qrng.MalformedReply}, status.ErrCodeMalformed},
		{&qrng.ConnectError{Addr: "x", Err: errors.New("refused")}, status.ErrCodeConnectionLost},
		{errors.New("other"), status.ErrCodeOther},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ErrorCode(tc.err), "%v", tc.err)
	}
}
