// pkg/protocol/envelope.go
package protocol

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformed marks an envelope that could not be decoded or validated.
// I/O errors from the underlying stream are never wrapped with it.
var ErrMalformed = errors.New("protocol: malformed envelope")

// Envelope is one request or reply unit.
//
// Exactly one payload kind is used per envelope: Data for numeric payloads,
// Strings for string payloads (network reconfiguration). An empty payload is nil.
type Envelope struct {
	ID       string
	Cmd      Command
	Addr     uint32
	Dev      uint32
	Err      uint32
	Data     []float64
	Strings  []string
	SizeData uint32
	Ext      uint32
}

// NewRequest builds a numeric-payload request for device index dev.
func NewRequest(cmd Command, dev uint32, data ...float64) Envelope {
	if len(data) == 0 {
		data = nil
	}
	return Envelope{
		Cmd:      cmd,
		Dev:      dev,
		Data:     data,
		SizeData: uint32(len(data)),
	}
}

// NewStringRequest builds a string-payload request for device index dev.
func NewStringRequest(cmd Command, dev uint32, data ...string) Envelope {
	if len(data) == 0 {
		data = nil
	}
	return Envelope{
		Cmd:      cmd,
		Dev:      dev,
		Strings:  data,
		SizeData: uint32(len(data)),
	}
}

// Len returns the payload length regardless of kind.
func (e Envelope) Len() int {
	if e.Strings != nil {
		return len(e.Strings)
	}
	return len(e.Data)
}

// ServerError is a non-zero err field, or an ERR/UNK/DRR reply, reported verbatim.
type ServerError struct {
	Cmd  Command
	Code uint32
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("protocol: server replied %s (err=%d)", e.Cmd, e.Code)
}

// ServerErr returns a *ServerError when the reply reports a failure.
// The payload of such a reply must not be interpreted.
func (e Envelope) ServerErr() error {
	switch {
	case e.Err != 0:
		return &ServerError{Cmd: e.Cmd, Code: e.Err}
	case e.Cmd == CmdError, e.Cmd == CmdUnknown, e.Cmd == CmdDeviceError:
		return &ServerError{Cmd: e.Cmd, Code: e.Err}
	}
	return nil
}

// Float returns data[i], failing when the payload is too short.
func (e Envelope) Float(i int) (float64, error) {
	if i < 0 || i >= len(e.Data) {
		return 0, fmt.Errorf("%w: %s payload has %d values, need index %d", ErrMalformed, e.Cmd, len(e.Data), i)
	}
	return e.Data[i], nil
}

// Int returns data[i] as an integer; fractional values are rejected.
func (e Envelope) Int(i int) (int, error) {
	v, err := e.Float(i)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) || v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("%w: %s value %v is not an integer", ErrMalformed, e.Cmd, v)
	}
	return int(v), nil
}

// Ints converts the whole numeric payload to integers.
func (e Envelope) Ints() ([]int, error) {
	out := make([]int, len(e.Data))
	for i := range e.Data {
		v, err := e.Int(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Uint32s converts the numeric payload to 32-bit words exactly.
func (e Envelope) Uint32s() ([]uint32, error) {
	out := make([]uint32, len(e.Data))
	if err := e.PutUint32s(out); err != nil {
		return nil, err
	}
	return out, nil
}

// PutUint32s writes the numeric payload into dst, which must be exactly as long.
func (e Envelope) PutUint32s(dst []uint32) error {
	if len(dst) != len(e.Data) {
		return fmt.Errorf("%w: %s carries %d words, expected %d", ErrMalformed, e.Cmd, len(e.Data), len(dst))
	}
	for i, v := range e.Data {
		if v < 0 || v > math.MaxUint32 || v != math.Trunc(v) {
			return fmt.Errorf("%w: %s word %d (%v) is not a uint32", ErrMalformed, e.Cmd, i, v)
		}
		dst[i] = uint32(v)
	}
	return nil
}
