// internal/status/constants.go
package status

// Device Status Block layout constants.
// These values define the status memory layout and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of logical slots per device.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the device health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the last server error code, or a local failure code.
const SlotLastErrorCode = 1

// SlotSecondsInError holds the duration (in seconds) the device has been in error.
const SlotSecondsInError = 2

// SlotCalibrationStatus holds the last polled calibration status.
const SlotCalibrationStatus = 3

// SlotAlarmMask has bit i set when monitor i failed the last threshold check.
const SlotAlarmMask = 4

// SlotTemperature holds the board temperature in centi-degrees C, two's complement.
const SlotTemperature = 5

// LiveSlots is the number of leading slots rewritten on change.
const LiveSlots = SlotTemperature + 1

// ---- RESERVED RANGE ----

// Slots 6-10 are reserved.
const SlotReservedStart = 6
const SlotReservedEnd = 10

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the device name.
// Device name is always placed at the END of the status block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for device name.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

// HealthUnknown represents an unknown or boot state.
const HealthUnknown uint16 = 0

// HealthOK: last poll succeeded and every enabled monitor is within bounds.
const HealthOK uint16 = 1

// HealthError: the last poll failed (transport or server error).
const HealthError uint16 = 2

// HealthAlarm: the last poll succeeded but at least one monitor is out of bounds.
const HealthAlarm uint16 = 3

// HealthCalibrating: a calibration is running on the device.
const HealthCalibrating uint16 = 4

// ---- LOCAL ERROR CODES ----

// Codes used in SlotLastErrorCode when the server did not report one.
const (
	ErrCodeTimeout        uint16 = 0xFF01
	ErrCodeConnectionLost uint16 = 0xFF02
	ErrCodeMalformed      uint16 = 0xFF03
	ErrCodeOther          uint16 = 0xFFFF
)
