// internal/fakeqrng/server.go
package fakeqrng

import (
	"bufio"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

// Device is the scripted state of one board.
type Device struct {
	ID uint16

	Temperature       float64
	VCC               []float64
	OpticalPower      []float64
	Bias              []float64
	LaserTemperatures []float64
	LaserStatus       []int
	VComp             float64
	QFactor           float64
	HMin              float64
	NumLasers         int

	// Monitors holds the classification reported by CTH/MVR per alarm type.
	Monitors [protocol.NumAlarmTypes]protocol.MonitorValue
	Enabled  [protocol.NumAlarmTypes]bool

	Thresholds map[protocol.AlarmType][2]float64

	// CalibrationScript is walked one step per CLS after CLB/CLV.
	CalibrationScript []protocol.CalibrationStatus
	NoFixedVTC        bool

	Network []string

	calStep int
	calRun  bool
	calib   protocol.CalibrationStatus
	seq     uint32
}

// NewDevice returns a healthy device with two lasers.
func NewDevice(id uint16) *Device {
	d := &Device{
		ID:                id,
		Temperature:       31.5,
		VCC:               []float64{3.3, 5.0},
		OpticalPower:      []float64{1.1, 1.2},
		Bias:              []float64{0.4, 0.5},
		LaserTemperatures: []float64{25.0, 25.5},
		LaserStatus:       []int{1, 1},
		VComp:             0.75,
		QFactor:           12.5,
		HMin:              0.97,
		NumLasers:         2,
		Thresholds: map[protocol.AlarmType][2]float64{
			protocol.AlarmTemperature: {10, 60},
			protocol.AlarmVCC:         {3.0, 5.5},
		},
		CalibrationScript: []protocol.CalibrationStatus{protocol.CalibrationInProgress, protocol.CalibrationSucceeded},
	}
	for i := range d.Enabled {
		d.Enabled[i] = true
	}
	return d
}

// Word is the deterministic fixture value at position seq of a device stream.
// Raw data is a different pipeline stage, so it is offset from extracted.
func Word(id uint16, seq uint32, raw bool) uint32 {
	x := uint32(id)*0x9E3779B9 + seq*2654435761
	if raw {
		x ^= 0xA5A5A5A5
	}
	x ^= x >> 15
	return x
}

// Server is an in-process QRNG device server speaking the JSON envelope protocol.
type Server struct {
	ln net.Listener

	mu      sync.Mutex
	devices []*Device
	deltaT  float64
	version string
	// Silent makes the server read requests without ever replying.
	silent bool
	// failCapture makes the n-th capture chunk (1-based) fail with err=failCode.
	failCaptureAt int
	failCode      uint32
	captures      int
	badID         bool

	requests atomic.Int64
	log      []protocol.Command

	wg    sync.WaitGroup
	conns map[net.Conn]struct{}
}

// Start listens on 127.0.0.1 with an ephemeral port.
func Start(devices ...*Device) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:      ln,
		devices: devices,
		deltaT:  60,
		version: "2.0.1",
		conns:   make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Close stops the listener and drops every connection.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// Requests returns how many envelopes the server has read.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Commands returns the commands received so far, in order.
func (s *Server) Commands() []protocol.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Command, len(s.log))
	copy(out, s.log)
	return out
}

func (s *Server) SetSilent(v bool) {
	s.mu.Lock()
	s.silent = v
	s.mu.Unlock()
}

// FailCaptureAt makes the n-th capture chunk from now fail with the given code.
func (s *Server) FailCaptureAt(n int, code uint32) {
	s.mu.Lock()
	s.failCaptureAt = n
	s.failCode = code
	s.captures = 0
	s.mu.Unlock()
}

// EchoWrongID makes every reply carry an ID that does not match the request.
func (s *Server) EchoWrongID(v bool) {
	s.mu.Lock()
	s.badID = v
	s.mu.Unlock()
}

func (s *Server) SetDeltaT(seconds float64) {
	s.mu.Lock()
	s.deltaT = seconds
	s.mu.Unlock()
}

// ResetStreams rewinds every device's fixture stream to position 0.
func (s *Server) ResetStreams() {
	s.mu.Lock()
	for _, d := range s.devices {
		d.seq = 0
	}
	s.mu.Unlock()
}

// Update runs fn on the device at index under the server lock.
func (s *Server) Update(index int, fn func(d *Device)) {
	s.mu.Lock()
	fn(s.devices[index])
	s.mu.Unlock()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	dec := protocol.NewDecoder(conn)
	w := bufio.NewWriter(conn)

	for {
		req, err := dec.Decode()
		if err != nil {
			return
		}
		s.requests.Add(1)

		s.mu.Lock()
		s.log = append(s.log, req.Cmd)
		silent := s.silent
		s.mu.Unlock()

		if silent {
			continue
		}

		reply := s.handle(req)
		s.mu.Lock()
		if s.badID {
			reply.ID = "not-" + req.ID
		}
		s.mu.Unlock()

		b, err := protocol.Encode(reply)
		if err != nil {
			return
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
		if req.Cmd == protocol.CmdDisconnect {
			return
		}
	}
}

var errNoDevice = errors.New("no such device")

func (s *Server) device(dev uint32) (*Device, error) {
	if int(dev) >= len(s.devices) {
		return nil, errNoDevice
	}
	return s.devices[dev], nil
}

func reply(req protocol.Envelope, cmd protocol.Command, data ...float64) protocol.Envelope {
	r := protocol.NewRequest(cmd, req.Dev, data...)
	r.ID = req.ID
	return r
}

func errorReply(req protocol.Envelope, cmd protocol.Command, code uint32) protocol.Envelope {
	r := reply(req, cmd)
	r.Err = code
	return r
}

func ints(v []int) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func (s *Server) handle(req protocol.Envelope) protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.Cmd {
	case protocol.CmdEcho, protocol.CmdDisconnect, protocol.CmdReset:
		return reply(req, protocol.CmdAck)

	case protocol.CmdServerVersion:
		r := protocol.NewStringRequest(protocol.CmdServerVersion, 0, s.version)
		r.ID = req.ID
		return r

	case protocol.CmdSystemInfo:
		r := protocol.NewStringRequest(protocol.CmdSystemInfo, 0, "fake-qrng", "boards="+strconv.Itoa(len(s.devices)))
		r.ID = req.ID
		return r

	case protocol.CmdFindBoard:
		return reply(req, protocol.CmdFindBoard, float64(len(s.devices)))

	case protocol.CmdGetBoardsID:
		ids := make([]float64, len(s.devices))
		for i, d := range s.devices {
			ids[i] = float64(d.ID)
		}
		return reply(req, protocol.CmdGetBoardsID, ids...)

	case protocol.CmdFindDevice:
		if len(req.Data) == 1 {
			for i, d := range s.devices {
				if float64(d.ID) == req.Data[0] {
					return reply(req, protocol.CmdFindDevice, float64(i))
				}
			}
		}
		return reply(req, protocol.CmdFindDevice, -1)

	case protocol.CmdDeltaTRead:
		return reply(req, protocol.CmdDeltaTRead, s.deltaT)
	}

	d, err := s.device(req.Dev)
	if err != nil {
		return errorReply(req, protocol.CmdDeviceError, 1)
	}

	switch req.Cmd {
	case protocol.CmdTemperatureRead:
		return reply(req, req.Cmd, d.Temperature)
	case protocol.CmdVCCRead:
		return reply(req, req.Cmd, d.VCC...)
	case protocol.CmdOpticalPowerRead:
		return reply(req, req.Cmd, d.OpticalPower...)
	case protocol.CmdBiasMonitorRead:
		return reply(req, req.Cmd, d.Bias...)
	case protocol.CmdLaserTemperaturesRead:
		return reply(req, req.Cmd, d.LaserTemperatures...)
	case protocol.CmdLaserStatusRead:
		return reply(req, req.Cmd, ints(d.LaserStatus)...)
	case protocol.CmdVCompRead:
		return reply(req, req.Cmd, d.VComp)
	case protocol.CmdQFactor:
		return reply(req, req.Cmd, d.QFactor)
	case protocol.CmdMinEntropy:
		return reply(req, req.Cmd, d.HMin)
	case protocol.CmdNumLasers:
		return reply(req, req.Cmd, float64(d.NumLasers))

	case protocol.CmdMonitorValueRead:
		at, ok := alarmArg(req)
		if !ok {
			return errorReply(req, protocol.CmdError, 2)
		}
		n := 1
		switch at {
		case protocol.AlarmOpticalPower:
			n = len(d.OpticalPower)
		case protocol.AlarmBiasMonitor:
			n = len(d.Bias)
		case protocol.AlarmVCC:
			n = len(d.VCC)
		case protocol.AlarmLaserTemp:
			n = len(d.LaserTemperatures)
		case protocol.AlarmLaserStatus:
			n = len(d.LaserStatus)
		}
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = float64(d.Monitors[at])
		}
		return reply(req, req.Cmd, vals...)

	case protocol.CmdMonitorEnableWrite:
		at, ok := alarmArg(req)
		if !ok || len(req.Data) != 2 {
			return errorReply(req, protocol.CmdError, 2)
		}
		d.Enabled[at] = req.Data[1] != 0
		return reply(req, protocol.CmdAck)

	case protocol.CmdMonitorAlarm:
		at, ok := alarmArg(req)
		if !ok {
			return errorReply(req, protocol.CmdError, 2)
		}
		flag := 0.0
		if d.Enabled[at] {
			flag = 1
		}
		return reply(req, req.Cmd, flag)

	case protocol.CmdCheckThresholds:
		vals := make([]float64, protocol.NumAlarmTypes)
		out := protocol.CmdCheckThresholds
		for i, v := range d.Monitors {
			if !d.Enabled[i] {
				continue
			}
			vals[i] = float64(v)
			if v != protocol.MonitorOK {
				out = protocol.CmdMonitorOutLimits
			}
		}
		return reply(req, out, vals...)

	case protocol.CmdUpdateThresholds:
		var vals []float64
		for _, at := range protocol.AlarmTypes() {
			if b, ok := d.Thresholds[at]; ok {
				vals = append(vals, float64(at), b[0], b[1])
			}
		}
		return reply(req, req.Cmd, vals...)

	case protocol.CmdCalibration, protocol.CmdCalibrationVTC:
		if req.Cmd == protocol.CmdCalibrationVTC && d.NoFixedVTC {
			return reply(req, protocol.CmdUnknown)
		}
		d.calStep = 0
		d.calRun = true
		d.calib = protocol.CalibrationInProgress
		return reply(req, req.Cmd, float64(d.calib))

	case protocol.CmdCalibrationStatus:
		if d.calRun && d.calStep < len(d.CalibrationScript) {
			d.calib = d.CalibrationScript[d.calStep]
			d.calStep++
		}
		if d.calib.Terminal() {
			d.calRun = false
		}
		return reply(req, req.Cmd, float64(d.calib))

	case protocol.CmdCapture, protocol.CmdCaptureRaw:
		s.captures++
		if s.failCaptureAt > 0 && s.captures == s.failCaptureAt {
			return errorReply(req, req.Cmd, s.failCode)
		}
		if len(req.Data) != 1 || req.Data[0] < 0 {
			return errorReply(req, protocol.CmdError, 2)
		}
		n := int(req.Data[0])
		words := make([]float64, n)
		for i := range words {
			words[i] = float64(Word(d.ID, d.seq, req.Cmd == protocol.CmdCaptureRaw))
			d.seq++
		}
		return reply(req, protocol.CmdCaptureReceived, words...)

	case protocol.CmdNewConfigNetwork:
		if len(req.Strings) != 4 {
			return errorReply(req, protocol.CmdError, 2)
		}
		d.Network = append([]string(nil), req.Strings...)
		return reply(req, protocol.CmdAck)
	}

	return reply(req, protocol.CmdUnknown)
}

func alarmArg(req protocol.Envelope) (protocol.AlarmType, bool) {
	if len(req.Data) == 0 {
		return 0, false
	}
	at := protocol.AlarmType(int(req.Data[0]))
	return at, at.Valid()
}
