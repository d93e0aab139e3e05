// pkg/protocol/command.go
package protocol

import "fmt"

// Command is one entry of the fixed wire vocabulary.
// The set is closed: every value maps to exactly one wire string.
type Command uint8

const (
	CmdInvalid Command = iota

	// generic replies
	CmdAck
	CmdError
	CmdUnknown
	CmdDeviceError

	// connection / session
	CmdEcho
	CmdDisconnect
	CmdReset
	CmdTimeout
	CmdServerVersion
	CmdSystemInfo
	CmdEnd

	// discovery
	CmdFindBoard
	CmdFindDevice
	CmdGetBoardsID
	CmdInitDevice
	CmdAskBabylon
	CmdNumLasers
	CmdLED

	// capture
	CmdCapture
	CmdCaptureRaw
	CmdCaptureReceived
	CmdCaptureFinish
	CmdMinEntropy

	// monitoring
	CmdTemperatureRead
	CmdVCCRead
	CmdOpticalPowerRead
	CmdBiasMonitorRead
	CmdLaserTemperaturesRead
	CmdLaserStatusRead
	CmdVCompRead
	CmdQFactor
	CmdMonitorAlarm
	CmdMonitorEnableWrite
	CmdMonitorOutLimits
	CmdCheckThresholds
	CmdUpdateThresholds
	CmdMonitorValueRead
	CmdDeltaTRead

	// calibration
	CmdCalibration
	CmdCalibrationFinish
	CmdCalibrationStatus
	CmdCalibrationVTC

	// network
	CmdNewConfigNetwork

	numCommands
)

var commandWire = [numCommands]string{
	CmdAck:         "ACK",
	CmdError:       "ERR",
	CmdUnknown:     "UNK",
	CmdDeviceError: "DRR",

	CmdEcho:          "ECH",
	CmdDisconnect:    "DIS",
	CmdReset:         "RST",
	CmdTimeout:       "TOU",
	CmdServerVersion: "SRV",
	CmdSystemInfo:    "SYS",
	CmdEnd:           "END",

	CmdFindBoard:   "FBO",
	CmdFindDevice:  "FDV",
	CmdGetBoardsID: "GBI",
	CmdInitDevice:  "IDV",
	CmdAskBabylon:  "ASKB",
	CmdNumLasers:   "NML",
	CmdLED:         "LED",

	CmdCapture:         "CPT",
	CmdCaptureRaw:      "CRA",
	CmdCaptureReceived: "CPR",
	CmdCaptureFinish:   "CPF",
	CmdMinEntropy:      "MET",

	CmdTemperatureRead:       "TPR",
	CmdVCCRead:               "VCR",
	CmdOpticalPowerRead:      "OPR",
	CmdBiasMonitorRead:       "BMR",
	CmdLaserTemperaturesRead: "LTR",
	CmdLaserStatusRead:       "LAS",
	CmdVCompRead:             "VPR",
	CmdQFactor:               "QFT",
	CmdMonitorAlarm:          "MAL",
	CmdMonitorEnableWrite:    "MEW",
	CmdMonitorOutLimits:      "MOL",
	CmdCheckThresholds:       "CTH",
	CmdUpdateThresholds:      "UTH",
	CmdMonitorValueRead:      "MVR",
	CmdDeltaTRead:            "DTR",

	CmdCalibration:       "CLB",
	CmdCalibrationFinish: "CLF",
	CmdCalibrationStatus: "CLS",
	CmdCalibrationVTC:    "CLV",

	CmdNewConfigNetwork: "NCN",
}

var wireCommand = func() map[string]Command {
	m := make(map[string]Command, numCommands)
	for c := CmdInvalid + 1; c < numCommands; c++ {
		m[commandWire[c]] = c
	}
	return m
}()

// String returns the wire code ("CPT", "CLB", ...).
func (c Command) String() string {
	if c == CmdInvalid || c >= numCommands {
		return fmt.Sprintf("Command(%d)", uint8(c))
	}
	return commandWire[c]
}

// Valid reports whether c is part of the vocabulary.
func (c Command) Valid() bool {
	return c > CmdInvalid && c < numCommands
}

// ParseCommand maps a wire code back to its Command.
func ParseCommand(s string) (Command, error) {
	if c, ok := wireCommand[s]; ok {
		return c, nil
	}
	return CmdInvalid, fmt.Errorf("protocol: unknown command %q", s)
}

// Commands returns the full vocabulary in declaration order.
func Commands() []Command {
	out := make([]Command, 0, numCommands-1)
	for c := CmdInvalid + 1; c < numCommands; c++ {
		out = append(out, c)
	}
	return out
}

func (c Command) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("protocol: cannot encode invalid command %d", uint8(c))
	}
	return []byte(commandWire[c]), nil
}

func (c *Command) UnmarshalText(b []byte) error {
	v, err := ParseCommand(string(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	*c = v
	return nil
}
