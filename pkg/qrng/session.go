// pkg/qrng/session.go
package qrng

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

const (
	// DefaultPort is appended when Connect gets a bare host.
	DefaultPort = "5000"

	DefaultTimeout = 10 * time.Second

	disconnectGrace = time.Second
)

// Observer is notified after every round trip.
type Observer interface {
	ObserveRequest(cmd protocol.Command, elapsed time.Duration, err error)
}

// SessionOptions configures a Session. The zero value is usable.
type SessionOptions struct {
	Timeout  time.Duration
	Logger   logrus.FieldLogger
	Observer Observer
}

// Session owns the single socket to a device server.
// Requests are strictly serialized: one request in flight, replies in send order.
type Session struct {
	mu      sync.Mutex
	conn    net.Conn
	dec     *protocol.Decoder
	addr    string
	timeout time.Duration

	log logrus.FieldLogger
	obs Observer
}

func NewSession(opts SessionOptions) *Session {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		opts.Logger = l
	}
	return &Session{
		timeout: opts.Timeout,
		log:     opts.Logger,
		obs:     opts.Observer,
	}
}

// Connect opens the socket. A session holds at most one socket:
// calling Connect while connected returns ErrAlreadyConnected.
func (s *Session) Connect(ctx context.Context, serverAddress string) error {
	addr, err := normalizeAddr(serverAddress)
	if err != nil {
		return &ConnectError{Addr: serverAddress, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return ErrAlreadyConnected
	}

	d := net.Dialer{Timeout: s.timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectError{Addr: addr, Err: err}
	}

	s.conn = conn
	s.dec = protocol.NewDecoder(conn)
	s.addr = addr

	s.log.WithField("server", addr).Info("qrng session connected")
	return nil
}

// Disconnect releases the server-side session slot and closes the socket.
// It is a no-op on a disconnected session.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	// Best effort DIS: the server frees the slot even if we never read the ACK.
	req := protocol.NewRequest(protocol.CmdDisconnect, 0)
	req.ID = uuid.NewString()
	if b, err := protocol.Encode(req); err == nil {
		_ = s.conn.SetDeadline(time.Now().Add(disconnectGrace))
		if _, err := s.conn.Write(append(b, '\n')); err == nil {
			_, _ = s.dec.Decode()
		}
	}

	err := s.conn.Close()
	s.log.WithField("server", s.addr).Info("qrng session disconnected")
	s.conn = nil
	s.dec = nil
	return err
}

// Close is Disconnect; it lets a Session be deferred as an io.Closer.
func (s *Session) Close() error { return s.Disconnect() }

// Connected reports whether the session currently holds a socket.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Addr returns the last server address connected to.
func (s *Session) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// SetTimeout sets the I/O deadline applied to every subsequent request.
func (s *Session) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// SetTimeoutSeconds is SetTimeout in whole seconds.
func (s *Session) SetTimeoutSeconds(seconds int) {
	s.SetTimeout(time.Duration(seconds) * time.Second)
}

func (s *Session) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SendCommand writes one request and blocks for its reply.
// The reply is returned as decoded; a server-reported failure is left for the
// caller to check with Envelope.ServerErr.
func (s *Session) SendCommand(ctx context.Context, req protocol.Envelope) (protocol.Envelope, error) {
	return s.send(ctx, req, 0)
}

// send is SendCommand with an optional per-request timeout override.
func (s *Session) send(ctx context.Context, req protocol.Envelope, timeout time.Duration) (protocol.Envelope, error) {
	start := time.Now()
	reply, err := s.roundTrip(ctx, req, timeout)
	if s.obs != nil {
		s.obs.ObserveRequest(req.Cmd, time.Since(start), err)
	}
	return reply, err
}

func (s *Session) roundTrip(ctx context.Context, req protocol.Envelope, timeout time.Duration) (protocol.Envelope, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	payload, err := protocol.Encode(req)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("qrng: %s: %w", req.Cmd, err)
	}
	payload = append(payload, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return protocol.Envelope{}, &TransportError{Kind: ConnectionLost, Cmd: req.Cmd, Err: ErrNotConnected}
	}
	if err := ctx.Err(); err != nil {
		return protocol.Envelope{}, err
	}

	if timeout <= 0 {
		timeout = s.timeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return protocol.Envelope{}, s.fail(req.Cmd, ConnectionLost, err)
	}

	if _, err := s.conn.Write(payload); err != nil {
		return protocol.Envelope{}, s.fail(req.Cmd, classify(err), err)
	}

	reply, err := s.dec.Decode()
	if err != nil {
		return protocol.Envelope{}, s.fail(req.Cmd, classify(err), err)
	}

	// Replies are matched by order; an echoed ID must agree.
	if reply.ID != "" && reply.ID != req.ID {
		return protocol.Envelope{}, s.fail(req.Cmd, MalformedReply,
			fmt.Errorf("reply id %q does not match request id %q", reply.ID, req.ID))
	}

	s.log.WithFields(logrus.Fields{
		"cmd":   req.Cmd.String(),
		"dev":   req.Dev,
		"reply": reply.Cmd.String(),
		"err":   reply.Err,
		"size":  reply.Len(),
	}).Debug("qrng round trip")

	return reply, nil
}

// fail drops the socket: after a failed round trip the stream position is unknown.
// Caller holds s.mu.
func (s *Session) fail(cmd protocol.Command, kind TransportErrorKind, err error) error {
	_ = s.conn.Close()
	s.conn = nil
	s.dec = nil

	s.log.WithFields(logrus.Fields{
		"cmd":    cmd.String(),
		"server": s.addr,
		"kind":   kind.String(),
	}).Warnf("qrng session dropped: %v", err)

	return &TransportError{Kind: kind, Cmd: cmd, Err: err}
}

func classify(err error) TransportErrorKind {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Timeout
	}
	if errors.Is(err, protocol.ErrMalformed) {
		return MalformedReply
	}
	return ConnectionLost
}

// normalizeAddr accepts host:port or a bare host (DefaultPort is used).
func normalizeAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", errors.New("empty address")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		if strings.Contains(addr, ":") && net.ParseIP(addr) == nil {
			return "", err
		}
		host, port = addr, DefaultPort
	}
	if host == "" {
		return "", errors.New("missing host")
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("invalid port %q", port)
	}

	return net.JoinHostPort(host, port), nil
}
