// internal/status/snapshot.go
package status

import "math"

// Snapshot represents exactly what the writer is allowed to deliver.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health            uint16
	LastErrorCode     uint16
	SecondsInError    uint16
	CalibrationStatus uint16
	AlarmMask         uint16
	Temperature       int16 // centi-degrees C
}

// CentiDegrees converts a reading in degrees C, saturating at the int16 range.
func CentiDegrees(c float64) int16 {
	v := math.Round(c * 100)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
