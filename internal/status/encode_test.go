// internal/status/encode_test.go
package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBlock(t *testing.T) {
	s := Snapshot{
		Health:            HealthAlarm,
		LastErrorCode:     7,
		SecondsInError:    3,
		CalibrationStatus: 2,
		AlarmMask:         1 << 4,
		Temperature:       -1250,
	}

	regs := EncodeBlock(s, "QRNG-A")
	require.Len(t, regs, SlotsPerDevice)

	assert.Equal(t, HealthAlarm, regs[SlotHealthCode])
	assert.Equal(t, uint16(7), regs[SlotLastErrorCode])
	assert.Equal(t, uint16(3), regs[SlotSecondsInError])
	assert.Equal(t, uint16(2), regs[SlotCalibrationStatus])
	assert.Equal(t, uint16(16), regs[SlotAlarmMask])
	assert.Equal(t, int16(-1250), int16(regs[SlotTemperature]))

	for i := SlotReservedStart; i <= SlotReservedEnd; i++ {
		assert.Zero(t, regs[i], "reserved slot %d", i)
	}

	assert.Equal(t, uint16('Q')<<8|uint16('R'), regs[SlotDeviceNameStart])
	assert.Equal(t, uint16('-')<<8|uint16('A'), regs[SlotDeviceNameStart+2])
	assert.Zero(t, regs[SlotDeviceNameEnd])
}

func TestEncodeName(t *testing.T) {
	regs := EncodeName("abcdefghijklmnopqrst")
	require.Len(t, regs, SlotDeviceNameSlots)
	assert.Equal(t, uint16('o')<<8|uint16('p'), regs[7])

	regs = EncodeName("a\x01")
	assert.Equal(t, uint16('a')<<8|uint16('?'), regs[0])
}

func TestCentiDegrees(t *testing.T) {
	assert.Equal(t, int16(3150), CentiDegrees(31.5))
	assert.Equal(t, int16(-40), CentiDegrees(-0.4))
	assert.Equal(t, int16(32767), CentiDegrees(1000))
	assert.Equal(t, int16(-32768), CentiDegrees(-1000))
}
