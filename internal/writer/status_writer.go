// internal/writer/status_writer.go
package writer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/qrng-admin/internal/status"
)

// deviceStatusWriter is the concrete implementation used by the daemon.
type deviceStatusWriter struct {
	plan StatusPlan
	cli  RegisterWriter

	needFull bool
	last     []uint16 // live slots as last delivered
}

var liveSlotNames = [status.LiveSlots]string{
	"health",
	"last_error",
	"seconds_in_error",
	"calibration",
	"alarm_mask",
	"temperature",
}

// NewDeviceStatusWriter builds a status writer for one device block.
func NewDeviceStatusWriter(plan StatusPlan, cli RegisterWriter) StatusWriter {
	return &deviceStatusWriter{
		plan:     plan,
		cli:      cli,
		needFull: true, // full re-assert on first successful write
	}
}

// WriteStatus delivers a device status snapshot into status memory.
// The first write, and the first write after any failure, re-asserts the
// whole block including the device name. Otherwise only changed slots are written.
func (sw *deviceStatusWriter) WriteStatus(s status.Snapshot) error {
	if sw == nil {
		return errors.New("status writer: disabled")
	}
	if sw.cli == nil {
		return fmt.Errorf("status writer: missing client for endpoint %s", sw.plan.Endpoint)
	}

	baseAddr := sw.baseAddr()
	regs := status.Encode(s)

	// ------------------------------------------------------------
	// Full block write (identity re-assert)
	// ------------------------------------------------------------
	if sw.needFull {
		block := status.EncodeBlock(s, sw.plan.DeviceName)

		if err := sw.cli.WriteRegisters(baseAddr, block); err != nil {
			return fmt.Errorf("status writer: full block write failed: %w", err)
		}

		sw.needFull = false
		sw.last = regs[:status.LiveSlots]
		return nil
	}

	var errs []string

	for slot := 0; slot < status.LiveSlots; slot++ {
		if sw.last[slot] == regs[slot] {
			continue
		}
		if err := sw.cli.WriteRegisters(baseAddr+uint16(slot), []uint16{regs[slot]}); err != nil {
			errs = append(errs, fmt.Sprintf("slot%d %s write failed: %v", slot, liveSlotNames[slot], err))
			continue
		}
		sw.last[slot] = regs[slot]
	}

	if len(errs) > 0 {
		// Any partial failure introduces doubt: re-assert on next success.
		sw.needFull = true
		return errors.New("status writer: " + strings.Join(errs, " | "))
	}

	return nil
}

func (sw *deviceStatusWriter) baseAddr() uint16 {
	// Each device owns a fixed SlotsPerDevice block.
	return sw.plan.BaseSlot * status.SlotsPerDevice
}
