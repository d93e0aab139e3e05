// internal/status/encode.go
package status

// Encode converts a Snapshot into the live slots of a device status block.
// Layout is fixed. No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	regs := make([]uint16, SlotsPerDevice)

	regs[SlotHealthCode] = s.Health
	regs[SlotLastErrorCode] = s.LastErrorCode
	regs[SlotSecondsInError] = s.SecondsInError
	regs[SlotCalibrationStatus] = s.CalibrationStatus
	regs[SlotAlarmMask] = s.AlarmMask
	regs[SlotTemperature] = uint16(s.Temperature)

	return regs
}

// EncodeName packs up to 16 ASCII characters into 8 registers,
// two bytes per register, big-endian. Non-printable bytes become '?'.
func EncodeName(name string) []uint16 {
	out := make([]uint16, SlotDeviceNameSlots)

	b := []byte(name)
	if len(b) > DeviceNameMaxChars {
		b = b[:DeviceNameMaxChars]
	}

	for i := 0; i < len(b); i++ {
		if b[i] < 0x20 || b[i] > 0x7E {
			b[i] = '?'
		}
	}

	for i := 0; i < DeviceNameMaxChars; i += 2 {
		var hi, lo byte
		if i < len(b) {
			hi = b[i]
		}
		if i+1 < len(b) {
			lo = b[i+1]
		}
		out[i/2] = uint16(hi)<<8 | uint16(lo)
	}

	return out
}

// EncodeBlock is the full block: live slots, zeroed reserved range, and name.
func EncodeBlock(s Snapshot, name string) []uint16 {
	regs := Encode(s)
	copy(regs[SlotDeviceNameStart:], EncodeName(name))
	return regs
}
