// pkg/protocol/codec_test.go
package protocol

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, e Envelope) Envelope {
	t.Helper()
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	return got
}

func TestEncode_WireShape(t *testing.T) {
	e := NewRequest(CmdCapture, 2, 1024)
	e.ID = "abc"

	b, err := Encode(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Equal(t, "abc", m["ID"])
	assert.Equal(t, "CPT", m["cmd"])
	assert.Equal(t, float64(0), m["addr"])
	assert.Equal(t, float64(2), m["dev"])
	assert.Equal(t, float64(0), m["err"])
	assert.Equal(t, []any{float64(1024)}, m["data"])
	assert.Equal(t, float64(1), m["sizeData"])
	assert.Equal(t, float64(0), m["ext"])
}

func TestEncode_EmptyPayloadIsArray(t *testing.T) {
	b, err := Encode(NewRequest(CmdEcho, 0))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data":[]`)
	assert.Contains(t, string(b), `"sizeData":0`)
}

func TestEncode_RejectsMixedPayload(t *testing.T) {
	e := NewRequest(CmdNewConfigNetwork, 0, 1)
	e.Strings = []string{"x"}
	_, err := Encode(e)
	assert.Error(t, err)
}

func TestEncode_RejectsInvalidCommand(t *testing.T) {
	_, err := Encode(Envelope{})
	assert.Error(t, err)
}

func TestRoundTrip_AllCommands(t *testing.T) {
	for _, c := range Commands() {
		e := NewRequest(c, 3, 1, 2, 3)
		e.ID = "id-" + c.String()
		e.Addr = 7
		e.Ext = 9
		assert.Equal(t, e, roundTrip(t, e), c.String())
	}
}

func TestRoundTrip_PayloadLengths(t *testing.T) {
	for n := 0; n <= 64; n++ {
		data := make([]float64, n)
		for i := range data {
			data[i] = float64(uint32(i) * 2654435761)
		}
		e := NewRequest(CmdCaptureRaw, 1, data...)
		assert.Equal(t, e, roundTrip(t, e))
	}
}

func TestRoundTrip_StringPayload(t *testing.T) {
	e := NewStringRequest(CmdNewConfigNetwork, 0, "00:11:22:33:44:55", "10.0.0.2", "10.0.0.1", "255.255.255.0")
	assert.Equal(t, e, roundTrip(t, e))
}

func TestRoundTrip_AlarmAndCalibrationValues(t *testing.T) {
	for _, at := range AlarmTypes() {
		e := NewRequest(CmdMonitorValueRead, 0, float64(at))
		got := roundTrip(t, e)
		v, err := got.Int(0)
		require.NoError(t, err)
		assert.Equal(t, at, AlarmType(v))
	}
	for s := CalibrationDefault; s <= CalibrationI2CError; s++ {
		e := NewRequest(CmdCalibrationStatus, 0, float64(s))
		got := roundTrip(t, e)
		v, err := got.Int(0)
		require.NoError(t, err)
		assert.Equal(t, s, CalibrationStatus(v))
	}
}

func TestRoundTrip_MaxWord(t *testing.T) {
	e := NewRequest(CmdCapture, 0, math.MaxUint32, 0, 1)
	got := roundTrip(t, e)
	words, err := got.Uint32s()
	require.NoError(t, err)
	assert.Equal(t, []uint32{math.MaxUint32, 0, 1}, words)
}

func TestDecode_ServerErrorNotInterpreted(t *testing.T) {
	raw := `{"ID":"x","cmd":"CPT","addr":0,"dev":0,"err":5,"data":{"junk":true},"sizeData":99,"ext":0}`
	e, err := Decode([]byte(raw))
	require.NoError(t, err)

	var se *ServerError
	require.True(t, errors.As(e.ServerErr(), &se))
	assert.Equal(t, CmdCapture, se.Cmd)
	assert.Equal(t, uint32(5), se.Code)
}

func TestDecode_ErrorCommands(t *testing.T) {
	for _, c := range []Command{CmdError, CmdUnknown, CmdDeviceError} {
		e := NewRequest(c, 0)
		got := roundTrip(t, e)
		assert.Error(t, got.ServerErr(), c.String())
	}
	assert.NoError(t, roundTrip(t, NewRequest(CmdAck, 0)).ServerErr())
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"syntax":        `{"cmd":"ECH",`,
		"unknown cmd":   `{"cmd":"XYZ","data":[],"sizeData":0}`,
		"missing cmd":   `{"data":[],"sizeData":0}`,
		"mixed data":    `{"cmd":"ECH","data":[1,"a"],"sizeData":2}`,
		"size mismatch": `{"cmd":"ECH","data":[1,2],"sizeData":3}`,
		"bad type":      `{"cmd":"ECH","dev":"zero","data":[],"sizeData":0}`,
	}
	for name, raw := range cases {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformed, name)
	}
}

func TestDecoder_Stream(t *testing.T) {
	a, _ := Encode(NewRequest(CmdEcho, 0))
	b, _ := Encode(NewRequest(CmdAck, 1, 4))
	d := NewDecoder(strings.NewReader(string(a) + "\n" + string(b) + "\n"))

	e1, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, CmdEcho, e1.Cmd)

	e2, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, CmdAck, e2.Cmd)
	assert.Equal(t, []float64{4}, e2.Data)

	_, err = d.Decode()
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, ErrMalformed)
}

func TestDecoder_TruncatedStreamIsIOError(t *testing.T) {
	d := NewDecoder(strings.NewReader(`{"cmd":"ECH","data":[1,2`))
	_, err := d.Decode()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestUint32s_RejectsNonWords(t *testing.T) {
	for _, v := range []float64{-1, 1.5, math.MaxUint32 + 1} {
		e := NewRequest(CmdCapture, 0, v)
		_, err := e.Uint32s()
		assert.ErrorIs(t, err, ErrMalformed)
	}
}
