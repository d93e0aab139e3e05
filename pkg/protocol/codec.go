// pkg/protocol/codec.go
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// wireEnvelope is the exact JSON shape on the socket.
type wireEnvelope struct {
	ID       string          `json:"ID"`
	Cmd      Command         `json:"cmd"`
	Addr     uint32          `json:"addr"`
	Dev      uint32          `json:"dev"`
	Err      uint32          `json:"err"`
	Data     json.RawMessage `json:"data"`
	SizeData uint32          `json:"sizeData"`
	Ext      uint32          `json:"ext"`
}

var emptyArray = json.RawMessage("[]")

// Encode serializes one envelope. sizeData always equals the payload length.
func Encode(e Envelope) ([]byte, error) {
	if !e.Cmd.Valid() {
		return nil, fmt.Errorf("protocol: encode: invalid command %d", uint8(e.Cmd))
	}
	if len(e.Data) > 0 && len(e.Strings) > 0 {
		return nil, errors.New("protocol: encode: envelope carries both numeric and string data")
	}

	w := wireEnvelope{
		ID:       e.ID,
		Cmd:      e.Cmd,
		Addr:     e.Addr,
		Dev:      e.Dev,
		Err:      e.Err,
		Data:     emptyArray,
		SizeData: uint32(e.Len()),
		Ext:      e.Ext,
	}

	var err error
	switch {
	case len(e.Strings) > 0:
		w.Data, err = json.Marshal(e.Strings)
	case len(e.Data) > 0:
		w.Data, err = json.Marshal(e.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s data: %w", e.Cmd, err)
	}

	return json.Marshal(w)
}

// Decode parses exactly one envelope.
func Decode(b []byte) (Envelope, error) {
	d := NewDecoder(bytes.NewReader(b))
	e, err := d.Decode()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Envelope{}, err
	}
	return e, nil
}

// Decoder reads consecutive envelopes from a stream.
type Decoder struct {
	dec *json.Decoder
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// Decode reads the next envelope.
// Stream errors (EOF, deadlines, resets) are returned unwrapped;
// anything wrong with the JSON itself is wrapped with ErrMalformed.
func (d *Decoder) Decode() (Envelope, error) {
	var w wireEnvelope
	if err := d.dec.Decode(&w); err != nil {
		var se *json.SyntaxError
		var te *json.UnmarshalTypeError
		if errors.As(err, &se) || errors.As(err, &te) {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Envelope{}, err
	}
	return w.envelope()
}

func (w wireEnvelope) envelope() (Envelope, error) {
	if !w.Cmd.Valid() {
		return Envelope{}, fmt.Errorf("%w: missing cmd", ErrMalformed)
	}

	e := Envelope{
		ID:       w.ID,
		Cmd:      w.Cmd,
		Addr:     w.Addr,
		Dev:      w.Dev,
		Err:      w.Err,
		SizeData: w.SizeData,
		Ext:      w.Ext,
	}

	if err := decodeData(w.Data, &e); err != nil {
		// A failed reply may carry anything in data; it is not interpreted.
		if e.ServerErr() != nil {
			return e, nil
		}
		return Envelope{}, err
	}
	if e.ServerErr() != nil {
		return e, nil
	}
	if int(e.SizeData) != e.Len() {
		return Envelope{}, fmt.Errorf("%w: %s sizeData=%d but data has %d entries", ErrMalformed, e.Cmd, e.SizeData, e.Len())
	}
	return e, nil
}

func decodeData(raw json.RawMessage, e *Envelope) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var nums []float64
	if err := json.Unmarshal(raw, &nums); err == nil {
		if len(nums) > 0 {
			e.Data = nums
		}
		return nil
	}

	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		if len(strs) > 0 {
			e.Strings = strs
		}
		return nil
	}

	return fmt.Errorf("%w: %s data is neither a number nor a string array", ErrMalformed, e.Cmd)
}
