// pkg/qrng/calibration.go
package qrng

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

// Calibrate runs a full calibration (CLB) and blocks until the device reports
// a terminal status. CalibSucceeded returns nil; CalibFailed and I2CError
// return a *CalibrationError. Nothing is retried here.
//
// Between status polls the session is free, so other requests on the same
// session interleave with a running calibration.
func (c *Client) Calibrate(ctx context.Context, dev int) error {
	return c.calibrate(ctx, "calibrate", protocol.CmdCalibration, dev)
}

// CalibrateFixedVTC calibrates while keeping the laser bias/VTC values (CLV).
// Boards without fixed-VTC support fail with ErrUnsupported.
func (c *Client) CalibrateFixedVTC(ctx context.Context, dev int) error {
	return c.calibrate(ctx, "calibrate fixed vtc", protocol.CmdCalibrationVTC, dev)
}

func (c *Client) calibrate(ctx context.Context, op string, cmd protocol.Command, dev int) error {
	id, err := c.device(dev)
	if err != nil {
		return opErr(op, dev, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.CalibrationTimeout)
	defer cancel()

	log := c.log.WithFields(logrus.Fields{"device_id": id, "cmd": cmd.String()})
	log.Info("qrng calibration started")
	started := time.Now()

	reply, err := c.callTimeout(ctx, protocol.NewRequest(cmd, uint32(dev)), c.opts.CalibrationTimeout)
	if err != nil {
		var se *protocol.ServerError
		if cmd == protocol.CmdCalibrationVTC && errors.As(err, &se) && se.Cmd == protocol.CmdUnknown {
			err = fmt.Errorf("%w: %w", ErrUnsupported, err)
		}
		return opErr(op, dev, err)
	}

	// An ACK without a status means the run was accepted and is in progress.
	status := protocol.CalibrationInProgress
	if len(reply.Data) > 0 {
		if status, err = calibrationStatus(reply); err != nil {
			return opErr(op, dev, err)
		}
	}

	for !status.Terminal() {
		select {
		case <-ctx.Done():
			return opErr(op, dev, ctx.Err())
		case <-time.After(c.opts.CalibrationPollInterval):
		}
		if status, err = c.GetCalibrationStatus(ctx, dev); err != nil {
			return opErr(op, dev, err)
		}
	}

	// Bounds pulled before the run are stale now.
	c.mu.Lock()
	delete(c.thresholds, id)
	c.mu.Unlock()

	log = log.WithFields(logrus.Fields{"status": status.String(), "elapsed": time.Since(started).String()})
	if status != protocol.CalibrationSucceeded {
		log.Warn("qrng calibration failed")
		return &CalibrationError{Device: dev, Status: status}
	}
	log.Info("qrng calibration succeeded")
	return nil
}

// GetCalibrationStatus is a point query (CLS); it never blocks on a running calibration.
func (c *Client) GetCalibrationStatus(ctx context.Context, dev int) (protocol.CalibrationStatus, error) {
	const op = "get calibration status"
	if _, err := c.device(dev); err != nil {
		return 0, opErr(op, dev, err)
	}
	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdCalibrationStatus, uint32(dev)))
	if err != nil {
		return 0, opErr(op, dev, err)
	}
	st, err := calibrationStatus(reply)
	if err != nil {
		return 0, opErr(op, dev, err)
	}
	return st, nil
}

func calibrationStatus(reply protocol.Envelope) (protocol.CalibrationStatus, error) {
	v, err := reply.Int(0)
	if err != nil {
		return 0, malformed(err)
	}
	st := protocol.CalibrationStatus(v)
	if !st.Valid() {
		return 0, fmt.Errorf("%w: calibration status %d", ErrMalformedReply, v)
	}
	return st, nil
}
