// pkg/protocol/types.go
package protocol

import (
	"fmt"
	"strings"
)

// AlarmType identifies one monitor of a device.
// Values are protocol-locked and travel as plain numbers.
type AlarmType int

const (
	AlarmLaserStatus AlarmType = iota
	AlarmLaserTemp
	AlarmOpticalPower
	AlarmBiasMonitor
	AlarmTemperature
	AlarmVCC
	AlarmVComp
	AlarmQFactor
	AlarmSystemCalibrated

	// NumAlarmTypes is the number of monitors a device exposes.
	NumAlarmTypes = 9
)

var alarmNames = [NumAlarmTypes]string{
	"laser_status",
	"laser_temp",
	"optical_power",
	"bias_monitor",
	"temperature",
	"vcc",
	"vcomp",
	"qfactor",
	"system_calibrated",
}

func (a AlarmType) Valid() bool { return a >= 0 && a < NumAlarmTypes }

func (a AlarmType) String() string {
	if !a.Valid() {
		return fmt.Sprintf("alarm(%d)", int(a))
	}
	return alarmNames[a]
}

// ParseAlarmType accepts the snake_case name used in configuration files.
func ParseAlarmType(s string) (AlarmType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range alarmNames {
		if n == s {
			return AlarmType(i), nil
		}
	}
	return 0, fmt.Errorf("protocol: unknown alarm type %q", s)
}

// AlarmTypes returns every monitor in wire order.
func AlarmTypes() []AlarmType {
	out := make([]AlarmType, NumAlarmTypes)
	for i := range out {
		out[i] = AlarmType(i)
	}
	return out
}

// MonitorValue classifies one reading. It is not a magnitude.
type MonitorValue int

const (
	MonitorOK               MonitorValue = 0
	MonitorLowValue         MonitorValue = -1
	MonitorHighValue        MonitorValue = -2
	MonitorOff              MonitorValue = -3
	MonitorOutOfSecureRange MonitorValue = -4
)

func (v MonitorValue) Valid() bool {
	return v <= MonitorOK && v >= MonitorOutOfSecureRange
}

func (v MonitorValue) String() string {
	switch v {
	case MonitorOK:
		return "ok"
	case MonitorLowValue:
		return "low_value"
	case MonitorHighValue:
		return "high_value"
	case MonitorOff:
		return "off"
	case MonitorOutOfSecureRange:
		return "out_of_secure_range"
	default:
		return fmt.Sprintf("monitor_value(%d)", int(v))
	}
}

// CalibrationStatus is the device-side calibration state.
type CalibrationStatus int

const (
	CalibrationDefault CalibrationStatus = iota
	CalibrationInProgress
	CalibrationSucceeded
	CalibrationFailed
	CalibrationI2CError
)

func (s CalibrationStatus) Valid() bool {
	return s >= CalibrationDefault && s <= CalibrationI2CError
}

// Terminal reports whether a calibration run has ended in this state.
func (s CalibrationStatus) Terminal() bool {
	return s == CalibrationSucceeded || s == CalibrationFailed || s == CalibrationI2CError
}

func (s CalibrationStatus) String() string {
	switch s {
	case CalibrationDefault:
		return "default"
	case CalibrationInProgress:
		return "calibrating"
	case CalibrationSucceeded:
		return "calib_succeeded"
	case CalibrationFailed:
		return "calib_failed"
	case CalibrationI2CError:
		return "i2c_error"
	default:
		return fmt.Sprintf("calibration_status(%d)", int(s))
	}
}
