// pkg/qrng/client.go
package qrng

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

const (
	DefaultChunkWords              = 4096
	DefaultCalibrationTimeout      = 5 * time.Minute
	DefaultCalibrationPollInterval = 500 * time.Millisecond
)

// Options tunes the per-device components of a Client.
type Options struct {
	// ChunkWords bounds the words carried by one capture envelope.
	ChunkWords int

	// CalibrationTimeout bounds a whole Calibrate call, including the
	// initial CLB/CLV round trip which may block on the server.
	CalibrationTimeout time.Duration

	CalibrationPollInterval time.Duration
}

func (o *Options) defaults() {
	if o.ChunkWords <= 0 {
		o.ChunkWords = DefaultChunkWords
	}
	if o.CalibrationTimeout <= 0 {
		o.CalibrationTimeout = DefaultCalibrationTimeout
	}
	if o.CalibrationPollInterval <= 0 {
		o.CalibrationPollInterval = DefaultCalibrationPollInterval
	}
}

// Client drives one QRNG server through a Session.
// All per-device methods take a device index into the registry snapshot.
type Client struct {
	sess *Session
	reg  *Registry
	opts Options
	log  logrus.FieldLogger

	// per-device state, keyed by device ID so a re-discovery cannot misattribute it
	mu         sync.Mutex
	disabled   map[uint16]*[protocol.NumAlarmTypes]bool
	thresholds map[uint16]Thresholds
	deltaT     time.Duration
}

// NewClient wraps an existing session. The session may be connected later.
func NewClient(sess *Session, opts Options) *Client {
	opts.defaults()
	return &Client{
		sess:       sess,
		reg:        &Registry{},
		opts:       opts,
		log:        sess.log,
		disabled:   make(map[uint16]*[protocol.NumAlarmTypes]bool),
		thresholds: make(map[uint16]Thresholds),
	}
}

// Dial connects a new session to addr and wraps it in a Client.
// The caller must Close the client.
func Dial(ctx context.Context, addr string, sopts SessionOptions, opts Options) (*Client, error) {
	sess := NewSession(sopts)
	if err := sess.Connect(ctx, addr); err != nil {
		return nil, err
	}
	return NewClient(sess, opts), nil
}

func (c *Client) Session() *Session { return c.sess }

func (c *Client) Registry() *Registry { return c.reg }

// Close disconnects the underlying session.
func (c *Client) Close() error { return c.sess.Disconnect() }

// call performs one round trip and surfaces server-reported failures.
func (c *Client) call(ctx context.Context, req protocol.Envelope) (protocol.Envelope, error) {
	return c.callTimeout(ctx, req, 0)
}

func (c *Client) callTimeout(ctx context.Context, req protocol.Envelope, timeout time.Duration) (protocol.Envelope, error) {
	reply, err := c.sess.send(ctx, req, timeout)
	if err != nil {
		return protocol.Envelope{}, err
	}
	if err := reply.ServerErr(); err != nil {
		return protocol.Envelope{}, err
	}
	return reply, nil
}

// device validates a device index locally, before any I/O.
func (c *Client) device(index int) (uint16, error) {
	return c.reg.DeviceID(index)
}

func opErr(op string, dev int, err error) error {
	return fmt.Errorf("qrng: %s (dev=%d): %w", op, dev, err)
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedReply, err)
}

// Echo checks the server is answering (ECH).
func (c *Client) Echo(ctx context.Context) error {
	if _, err := c.call(ctx, protocol.NewRequest(protocol.CmdEcho, 0)); err != nil {
		return fmt.Errorf("qrng: echo: %w", err)
	}
	return nil
}

// Reset asks the server to reset the system (RST).
func (c *Client) Reset(ctx context.Context) error {
	if _, err := c.call(ctx, protocol.NewRequest(protocol.CmdReset, 0)); err != nil {
		return fmt.Errorf("qrng: reset: %w", err)
	}
	c.ForgetServerState()
	return nil
}

// ForgetServerState drops every value cached from the server: threshold
// snapshots and DeltaT. The local monitor enable mirror is kept.
// Call it when the session is re-established, possibly to another server.
func (c *Client) ForgetServerState() {
	c.mu.Lock()
	c.thresholds = make(map[uint16]Thresholds)
	c.deltaT = 0
	c.mu.Unlock()
}

// ServerVersion returns the server firmware version string (SRV).
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdServerVersion, 0))
	if err != nil {
		return "", fmt.Errorf("qrng: server version: %w", err)
	}
	if len(reply.Strings) == 0 {
		return "", fmt.Errorf("qrng: server version: %w: empty reply", ErrMalformedReply)
	}
	return reply.Strings[0], nil
}

// SystemInfo returns the free-form system description lines (SYS).
func (c *Client) SystemInfo(ctx context.Context) ([]string, error) {
	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdSystemInfo, 0))
	if err != nil {
		return nil, fmt.Errorf("qrng: system info: %w", err)
	}
	return reply.Strings, nil
}
