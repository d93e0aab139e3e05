// pkg/qrng/monitor.go
package qrng

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

// Bounds is one server-maintained threshold pair.
type Bounds struct {
	Low  float64
	High float64
}

// Classify compares a reading against the bounds.
func (b Bounds) Classify(v float64) protocol.MonitorValue {
	switch {
	case v < b.Low:
		return protocol.MonitorLowValue
	case v > b.High:
		return protocol.MonitorHighValue
	default:
		return protocol.MonitorOK
	}
}

// Thresholds is the last snapshot pulled with UpdateThresholds.
// Bounds are never computed locally.
type Thresholds struct {
	DeviceID uint16
	PulledAt time.Time
	Bounds   map[protocol.AlarmType]Bounds
}

// ---- readers ----

func (c *Client) readValues(ctx context.Context, op string, cmd protocol.Command, dev int) ([]float64, error) {
	if _, err := c.device(dev); err != nil {
		return nil, opErr(op, dev, err)
	}
	reply, err := c.call(ctx, protocol.NewRequest(cmd, uint32(dev)))
	if err != nil {
		return nil, opErr(op, dev, err)
	}
	return reply.Data, nil
}

func (c *Client) readValue(ctx context.Context, op string, cmd protocol.Command, dev int) (float64, error) {
	vals, err := c.readValues(ctx, op, cmd, dev)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, opErr(op, dev, fmt.Errorf("%w: empty %s reply", ErrMalformedReply, cmd))
	}
	return vals[0], nil
}

// ReadTemperature returns the board temperature in °C (TPR).
func (c *Client) ReadTemperature(ctx context.Context, dev int) (float64, error) {
	return c.readValue(ctx, "read temperature", protocol.CmdTemperatureRead, dev)
}

// ReadSupplyVoltage returns every VCC rail of the device (VCR).
// The count depends on the board and is only known from the reply.
func (c *Client) ReadSupplyVoltage(ctx context.Context, dev int) ([]float64, error) {
	return c.readValues(ctx, "read supply voltage", protocol.CmdVCCRead, dev)
}

// ReadOpticalPower returns one value per optical power monitor (OPR).
func (c *Client) ReadOpticalPower(ctx context.Context, dev int) ([]float64, error) {
	return c.readValues(ctx, "read optical power", protocol.CmdOpticalPowerRead, dev)
}

// ReadBiasMonitor returns one value per bias monitor (BMR).
func (c *Client) ReadBiasMonitor(ctx context.Context, dev int) ([]float64, error) {
	return c.readValues(ctx, "read bias monitor", protocol.CmdBiasMonitorRead, dev)
}

// ReadLaserTemperatures returns the heater supply of each laser (LTR).
func (c *Client) ReadLaserTemperatures(ctx context.Context, dev int) ([]float64, error) {
	return c.readValues(ctx, "read laser temperatures", protocol.CmdLaserTemperaturesRead, dev)
}

// ReadLaserStatus returns one status word per laser (LAS).
func (c *Client) ReadLaserStatus(ctx context.Context, dev int) ([]int, error) {
	const op = "read laser status"
	if _, err := c.device(dev); err != nil {
		return nil, opErr(op, dev, err)
	}
	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdLaserStatusRead, uint32(dev)))
	if err != nil {
		return nil, opErr(op, dev, err)
	}
	st, err := reply.Ints()
	if err != nil {
		return nil, opErr(op, dev, malformed(err))
	}
	return st, nil
}

// ReadVComp returns the comparator voltage in volts (VPR).
func (c *Client) ReadVComp(ctx context.Context, dev int) (float64, error) {
	return c.readValue(ctx, "read vcomp", protocol.CmdVCompRead, dev)
}

// ReadQFactor returns the running quantum quality factor (QFT).
func (c *Client) ReadQFactor(ctx context.Context, dev int) (float64, error) {
	return c.readValue(ctx, "read qfactor", protocol.CmdQFactor, dev)
}

// ReadMinEntropy returns hMin, which only changes after calibration (MET).
func (c *Client) ReadMinEntropy(ctx context.Context, dev int) (float64, error) {
	return c.readValue(ctx, "read min entropy", protocol.CmdMinEntropy, dev)
}

// NumLasers returns the number of lasers on the board (NML).
func (c *Client) NumLasers(ctx context.Context, dev int) (int, error) {
	const op = "num lasers"
	v, err := c.readValue(ctx, op, protocol.CmdNumLasers, dev)
	if err != nil {
		return 0, err
	}
	if v < 0 || v != float64(int(v)) {
		return 0, opErr(op, dev, fmt.Errorf("%w: laser count %v", ErrMalformedReply, v))
	}
	return int(v), nil
}

// ---- alarms ----

// GetMonitorValue classifies every reading of one monitor (MVR).
func (c *Client) GetMonitorValue(ctx context.Context, at protocol.AlarmType, dev int) ([]protocol.MonitorValue, error) {
	const op = "get monitor value"
	if !at.Valid() {
		return nil, opErr(op, dev, fmt.Errorf("%w: alarm type %d", ErrInvalidArgument, int(at)))
	}
	if _, err := c.device(dev); err != nil {
		return nil, opErr(op, dev, err)
	}

	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdMonitorValueRead, uint32(dev), float64(at)))
	if err != nil {
		return nil, opErr(op, dev, err)
	}
	vals, err := monitorValues(reply)
	if err != nil {
		return nil, opErr(op, dev, err)
	}
	return vals, nil
}

func monitorValues(reply protocol.Envelope) ([]protocol.MonitorValue, error) {
	raw, err := reply.Ints()
	if err != nil {
		return nil, malformed(err)
	}
	out := make([]protocol.MonitorValue, len(raw))
	for i, v := range raw {
		mv := protocol.MonitorValue(v)
		if !mv.Valid() {
			return nil, fmt.Errorf("%w: monitor value %d", ErrMalformedReply, v)
		}
		out[i] = mv
	}
	return out, nil
}

// SetMonitorEnable selects whether CheckThresholds evaluates a monitor (MEW).
func (c *Client) SetMonitorEnable(ctx context.Context, at protocol.AlarmType, enabled bool, dev int) error {
	const op = "set monitor enable"
	if !at.Valid() {
		return opErr(op, dev, fmt.Errorf("%w: alarm type %d", ErrInvalidArgument, int(at)))
	}
	id, err := c.device(dev)
	if err != nil {
		return opErr(op, dev, err)
	}

	flag := 0.0
	if enabled {
		flag = 1
	}
	if _, err := c.call(ctx, protocol.NewRequest(protocol.CmdMonitorEnableWrite, uint32(dev), float64(at), flag)); err != nil {
		return opErr(op, dev, err)
	}

	c.mu.Lock()
	d := c.disabled[id]
	if d == nil {
		d = new([protocol.NumAlarmTypes]bool)
		c.disabled[id] = d
	}
	d[at] = !enabled
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"device_id": id, "alarm": at.String(), "enabled": enabled}).Debug("qrng monitor enable set")
	return nil
}

// MonitorEnabled returns the locally mirrored enable flag. Monitors start enabled.
func (c *Client) MonitorEnabled(dev int, at protocol.AlarmType) bool {
	id, err := c.device(dev)
	if err != nil || !at.Valid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.disabled[id]
	return d == nil || !d[at]
}

// ReadMonitorEnable reads the server-side enable flag of one monitor (MAL).
func (c *Client) ReadMonitorEnable(ctx context.Context, at protocol.AlarmType, dev int) (bool, error) {
	const op = "read monitor enable"
	if !at.Valid() {
		return false, opErr(op, dev, fmt.Errorf("%w: alarm type %d", ErrInvalidArgument, int(at)))
	}
	if _, err := c.device(dev); err != nil {
		return false, opErr(op, dev, err)
	}
	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdMonitorAlarm, uint32(dev), float64(at)))
	if err != nil {
		return false, opErr(op, dev, err)
	}
	v, err := reply.Float(0)
	if err != nil {
		return false, opErr(op, dev, malformed(err))
	}
	return v != 0, nil
}

// CheckThresholds succeeds only if every enabled monitor is OK (CTH).
// A failure is a *ThresholdError naming each violating monitor.
//
// The reply carries one classification per AlarmType, in wire order. Once
// UpdateThresholds has cached bounds for the device, every enabled monitor
// with bounds is also read and classified against them.
func (c *Client) CheckThresholds(ctx context.Context, dev int) error {
	const op = "check thresholds"
	id, err := c.device(dev)
	if err != nil {
		return opErr(op, dev, err)
	}

	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdCheckThresholds, uint32(dev)))
	if err != nil {
		return opErr(op, dev, err)
	}
	vals, err := monitorValues(reply)
	if err != nil {
		return opErr(op, dev, err)
	}
	if len(vals) != protocol.NumAlarmTypes {
		return opErr(op, dev, fmt.Errorf("%w: %d classifications, want %d", ErrMalformedReply, len(vals), protocol.NumAlarmTypes))
	}

	c.mu.Lock()
	var disabled [protocol.NumAlarmTypes]bool
	if d := c.disabled[id]; d != nil {
		disabled = *d
	}
	th, pulled := c.thresholds[id]
	c.mu.Unlock()

	// Monitors the server still reports as OK are compared against the
	// cached bounds using a fresh reading.
	if pulled {
		for _, at := range protocol.AlarmTypes() {
			b, bounded := th.Bounds[at]
			if !bounded || disabled[at] || vals[at] != protocol.MonitorOK {
				continue
			}
			readings, ok, err := c.readMonitor(ctx, op, at, dev)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			for _, r := range readings {
				if mv := b.Classify(r); mv != protocol.MonitorOK {
					vals[at] = mv
					break
				}
			}
		}
	}

	var violations []Violation
	for i, v := range vals {
		if v == protocol.MonitorOK || disabled[i] {
			continue
		}
		violations = append(violations, Violation{Alarm: protocol.AlarmType(i), Value: v})
	}

	if len(violations) > 0 {
		return &ThresholdError{Device: dev, Violations: violations}
	}
	return nil
}

// monitorReaders maps a monitor to the command returning its readings.
// AlarmSystemCalibrated has no reading of its own.
var monitorReaders = map[protocol.AlarmType]protocol.Command{
	protocol.AlarmLaserStatus:  protocol.CmdLaserStatusRead,
	protocol.AlarmLaserTemp:    protocol.CmdLaserTemperaturesRead,
	protocol.AlarmOpticalPower: protocol.CmdOpticalPowerRead,
	protocol.AlarmBiasMonitor:  protocol.CmdBiasMonitorRead,
	protocol.AlarmTemperature:  protocol.CmdTemperatureRead,
	protocol.AlarmVCC:          protocol.CmdVCCRead,
	protocol.AlarmVComp:        protocol.CmdVCompRead,
	protocol.AlarmQFactor:      protocol.CmdQFactor,
}

// readMonitor returns the current readings behind one monitor. ok is false
// when the monitor has no reader.
func (c *Client) readMonitor(ctx context.Context, op string, at protocol.AlarmType, dev int) ([]float64, bool, error) {
	cmd, ok := monitorReaders[at]
	if !ok {
		return nil, false, nil
	}
	vals, err := c.readValues(ctx, op, cmd, dev)
	if err != nil {
		return nil, false, err
	}
	return vals, true, nil
}

// UpdateThresholds pulls fresh bounds from the server (UTH) and replaces the
// cached snapshot. Call it after calibration and then every DeltaT.
//
// Reply data is flattened triples: alarm, low, high.
func (c *Client) UpdateThresholds(ctx context.Context, dev int) error {
	const op = "update thresholds"
	id, err := c.device(dev)
	if err != nil {
		return opErr(op, dev, err)
	}

	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdUpdateThresholds, uint32(dev)))
	if err != nil {
		return opErr(op, dev, err)
	}
	if len(reply.Data)%3 != 0 {
		return opErr(op, dev, fmt.Errorf("%w: %d values is not a list of triples", ErrMalformedReply, len(reply.Data)))
	}

	th := Thresholds{
		DeviceID: id,
		PulledAt: time.Now(),
		Bounds:   make(map[protocol.AlarmType]Bounds, len(reply.Data)/3),
	}
	for i := 0; i < len(reply.Data); i += 3 {
		a, err := reply.Int(i)
		if err != nil {
			return opErr(op, dev, malformed(err))
		}
		at := protocol.AlarmType(a)
		if !at.Valid() {
			return opErr(op, dev, fmt.Errorf("%w: alarm type %d", ErrMalformedReply, a))
		}
		th.Bounds[at] = Bounds{Low: reply.Data[i+1], High: reply.Data[i+2]}
	}

	c.mu.Lock()
	c.thresholds[id] = th
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"device_id": id, "bounds": len(th.Bounds)}).Debug("qrng thresholds updated")
	return nil
}

// Thresholds returns the cached snapshot for a device, if one was pulled.
func (c *Client) Thresholds(dev int) (Thresholds, bool) {
	id, err := c.device(dev)
	if err != nil {
		return Thresholds{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	th, ok := c.thresholds[id]
	return th, ok
}

// DeltaT returns the interval the caller must honor between UpdateThresholds
// calls (DTR). It is fixed by the server, so it is fetched once.
func (c *Client) DeltaT(ctx context.Context) (time.Duration, error) {
	c.mu.Lock()
	d := c.deltaT
	c.mu.Unlock()
	if d > 0 {
		return d, nil
	}

	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdDeltaTRead, 0))
	if err != nil {
		return 0, fmt.Errorf("qrng: delta t: %w", err)
	}
	secs, err := reply.Float(0)
	if err != nil {
		return 0, fmt.Errorf("qrng: delta t: %w", malformed(err))
	}
	if secs <= 0 {
		return 0, fmt.Errorf("qrng: delta t: %w: %v seconds", ErrMalformedReply, secs)
	}

	d = time.Duration(secs * float64(time.Second))
	c.mu.Lock()
	c.deltaT = d
	c.mu.Unlock()
	return d, nil
}
