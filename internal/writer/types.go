// internal/writer/types.go
package writer

import "github.com/tamzrod/qrng-admin/internal/status"

// RegisterWriter writes holding registers on the unit that owns a status
// block. *modbus.Unit satisfies it.
type RegisterWriter interface {
	WriteRegisters(addr uint16, regs []uint16) error
}

// StatusPlan places one device status block in a Modbus TCP memory.
type StatusPlan struct {
	DeviceID   uint16
	Endpoint   string
	UnitID     uint8
	BaseSlot   uint16 // block index; address = BaseSlot * SlotsPerDevice
	DeviceName string
}

// StatusWriter is the delivery-only contract for device status.
// It receives a snapshot and writes it verbatim.
// No logic, no state, no interpretation.
type StatusWriter interface {
	WriteStatus(s status.Snapshot) error
}
