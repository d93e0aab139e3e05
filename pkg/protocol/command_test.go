// pkg/protocol/command_test.go
package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Bijective(t *testing.T) {
	seen := map[string]Command{}
	for _, c := range Commands() {
		s := c.String()
		require.GreaterOrEqual(t, len(s), 3, "command %d", c)
		require.LessOrEqual(t, len(s), 4, "command %d", c)

		prev, dup := seen[s]
		require.False(t, dup, "wire code %s used by %d and %d", s, prev, c)
		seen[s] = c

		back, err := ParseCommand(s)
		require.NoError(t, err)
		assert.Equal(t, c, back)
	}
}

func TestCommand_WireCodes(t *testing.T) {
	want := map[Command]string{
		CmdEcho:               "ECH",
		CmdFindBoard:          "FBO",
		CmdGetBoardsID:        "GBI",
		CmdCapture:            "CPT",
		CmdCaptureRaw:         "CRA",
		CmdCheckThresholds:    "CTH",
		CmdUpdateThresholds:   "UTH",
		CmdCalibration:        "CLB",
		CmdCalibrationVTC:     "CLV",
		CmdCalibrationStatus:  "CLS",
		CmdNewConfigNetwork:   "NCN",
		CmdAskBabylon:         "ASKB",
		CmdMonitorEnableWrite: "MEW",
	}
	for c, s := range want {
		assert.Equal(t, s, c.String())
	}
}

func TestCommand_Invalid(t *testing.T) {
	assert.False(t, CmdInvalid.Valid())
	_, err := CmdInvalid.MarshalText()
	assert.Error(t, err)

	_, err = ParseCommand("cpt")
	assert.Error(t, err)
}

func TestAlarmType_Names(t *testing.T) {
	for _, at := range AlarmTypes() {
		back, err := ParseAlarmType(at.String())
		require.NoError(t, err)
		assert.Equal(t, at, back)
	}
	_, err := ParseAlarmType("humidity")
	assert.Error(t, err)
}

func TestCalibrationStatus_Terminal(t *testing.T) {
	assert.False(t, CalibrationDefault.Terminal())
	assert.False(t, CalibrationInProgress.Terminal())
	assert.True(t, CalibrationSucceeded.Terminal())
	assert.True(t, CalibrationFailed.Terminal())
	assert.True(t, CalibrationI2CError.Terminal())
}
