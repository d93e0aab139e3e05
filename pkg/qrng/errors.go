// pkg/qrng/errors.go
package qrng

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

var (
	ErrAlreadyConnected = errors.New("qrng: session already connected")
	ErrNotConnected     = errors.New("qrng: session not connected")

	ErrTimeout        = errors.New("qrng: request timed out")
	ErrConnectionLost = errors.New("qrng: connection lost")
	ErrMalformedReply = errors.New("qrng: malformed reply")

	// ErrDeviceUnknown is returned before any I/O when a device index
	// is not present in the current registry snapshot.
	ErrDeviceUnknown = errors.New("qrng: device unknown")

	ErrInvalidArgument = errors.New("qrng: invalid argument")
	ErrUnsupported     = errors.New("qrng: operation not supported by device")
)

// ConnectError reports an unreachable or malformed server address.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("qrng: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportErrorKind classifies a failed round trip.
type TransportErrorKind int

const (
	Timeout TransportErrorKind = iota + 1
	ConnectionLost
	MalformedReply
)

func (k TransportErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case ConnectionLost:
		return "connection lost"
	case MalformedReply:
		return "malformed reply"
	default:
		return "unknown"
	}
}

func (k TransportErrorKind) sentinel() error {
	switch k {
	case Timeout:
		return ErrTimeout
	case ConnectionLost:
		return ErrConnectionLost
	case MalformedReply:
		return ErrMalformedReply
	default:
		return nil
	}
}

// TransportError is returned by Session.SendCommand.
// After any TransportError the session is disconnected.
type TransportError struct {
	Kind TransportErrorKind
	Cmd  protocol.Command
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("qrng: %s: %s", e.Cmd, e.Kind)
	}
	return fmt.Sprintf("qrng: %s: %s: %v", e.Cmd, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is matches the kind sentinels (ErrTimeout, ErrConnectionLost, ErrMalformedReply).
func (e *TransportError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// DiscoveryError wraps any failure of a discovery pass.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string { return "qrng: discovery failed: " + e.Err.Error() }

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Violation names one monitor that failed a threshold check.
type Violation struct {
	Alarm protocol.AlarmType
	Value protocol.MonitorValue
}

// ThresholdError lists every enabled monitor that is not OK.
type ThresholdError struct {
	Device     int
	Violations []Violation
}

func (e *ThresholdError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Alarm.String()+"="+v.Value.String())
	}
	return fmt.Sprintf("qrng: thresholds violated (dev=%d): %s", e.Device, strings.Join(parts, ", "))
}

// Alarms returns the violating monitors in wire order.
func (e *ThresholdError) Alarms() []protocol.AlarmType {
	out := make([]protocol.AlarmType, len(e.Violations))
	for i, v := range e.Violations {
		out[i] = v.Alarm
	}
	return out
}

// CalibrationError carries the terminal status of a failed calibration.
type CalibrationError struct {
	Device int
	Status protocol.CalibrationStatus
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("qrng: calibration failed (dev=%d): %s", e.Device, e.Status)
}

// Retriable is false for I2C bus faults, which need a device power cycle.
func (e *CalibrationError) Retriable() bool {
	return e.Status == protocol.CalibrationFailed
}

// CaptureError reports a chunk failure and how many words were retrieved before it.
type CaptureError struct {
	Retrieved int
	Requested int
	Err       error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("qrng: capture failed after %d/%d words: %v", e.Retrieved, e.Requested, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// ErrorCode extracts the server err code from err, if any.
func ErrorCode(err error) (uint32, bool) {
	var se *protocol.ServerError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}
