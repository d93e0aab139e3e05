// internal/writer/modbus/client.go
package modbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Endpoint is the Modbus TCP memory that holds device status blocks.
// Several devices may share one endpoint under different unit IDs; they
// share the connection through Unit views.
type Endpoint struct {
	addr string

	mu      sync.Mutex // guards handler.SlaveId across units
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Dial opens the status memory connection. A connection dropped later is
// re-dialed by the handler on the next write.
func Dial(cfg Config) (*Endpoint, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("status memory: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("status memory %s: %w", cfg.Endpoint, err)
	}

	return &Endpoint{addr: cfg.Endpoint, handler: h, client: modbus.NewClient(h)}, nil
}

func (e *Endpoint) Addr() string { return e.addr }

func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler.Close()
}

// Unit returns a writer bound to one unit ID of the endpoint.
func (e *Endpoint) Unit(id uint8) *Unit {
	return &Unit{ep: e, id: id}
}

// Unit writes holding registers on one unit of an Endpoint.
type Unit struct {
	ep *Endpoint
	id uint8
}

func (u *Unit) ID() uint8 { return u.id }

// WriteRegisters issues one Write Multiple Registers (FC16) request.
// An empty slice writes nothing.
func (u *Unit) WriteRegisters(addr uint16, regs []uint16) error {
	if len(regs) == 0 {
		return nil
	}

	payload := make([]byte, 2*len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(payload[2*i:], r)
	}

	u.ep.mu.Lock()
	defer u.ep.mu.Unlock()

	u.ep.handler.SlaveId = u.id
	if _, err := u.ep.client.WriteMultipleRegisters(addr, uint16(len(regs)), payload); err != nil {
		return fmt.Errorf("status memory %s unit %d addr %d: %w", u.ep.addr, u.id, addr, err)
	}
	return nil
}
