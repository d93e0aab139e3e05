// pkg/qrng/registry.go
package qrng

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

// Registry is the ordered list of device IDs found by the last discovery.
// The list is an immutable snapshot: readers never lock, discovery swaps it whole.
type Registry struct {
	mu  sync.Mutex // serializes discovery passes
	ids atomic.Pointer[[]uint16]
}

func (r *Registry) snapshot() []uint16 {
	p := r.ids.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (r *Registry) replace(ids []uint16) {
	cp := make([]uint16, len(ids))
	copy(cp, ids)
	r.ids.Store(&cp)
}

// DeviceCount returns the number of devices in the current snapshot.
func (r *Registry) DeviceCount() int { return len(r.snapshot()) }

// DeviceIDs returns a copy of the current snapshot.
func (r *Registry) DeviceIDs() []uint16 {
	ids := r.snapshot()
	out := make([]uint16, len(ids))
	copy(out, ids)
	return out
}

// ResolveIndex maps a device ID to its index. ok is false for an unknown device.
func (r *Registry) ResolveIndex(deviceID uint16) (int, bool) {
	for i, id := range r.snapshot() {
		if id == deviceID {
			return i, true
		}
	}
	return -1, false
}

// DeviceID returns the ID at index, or ErrDeviceUnknown.
func (r *Registry) DeviceID(index int) (uint16, error) {
	ids := r.snapshot()
	if index < 0 || index >= len(ids) {
		return 0, fmt.Errorf("%w: index %d (have %d)", ErrDeviceUnknown, index, len(ids))
	}
	return ids[index], nil
}

// DiscoverDevices asks the server to scan for boards (FBO) and then fetches
// their IDs (GBI). On success the registry is replaced; on failure it is kept.
func (c *Client) DiscoverDevices(ctx context.Context) ([]uint16, error) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdFindBoard, 0))
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	count, err := reply.Int(0)
	if err != nil {
		return nil, &DiscoveryError{Err: malformed(err)}
	}

	reply, err = c.call(ctx, protocol.NewRequest(protocol.CmdGetBoardsID, 0))
	if err != nil {
		return nil, &DiscoveryError{Err: err}
	}
	raw, err := reply.Ints()
	if err != nil {
		return nil, &DiscoveryError{Err: malformed(err)}
	}
	if len(raw) != count {
		return nil, &DiscoveryError{Err: fmt.Errorf("%w: FBO reported %d boards, GBI listed %d", ErrMalformedReply, count, len(raw))}
	}

	ids := make([]uint16, len(raw))
	for i, v := range raw {
		if v < 0 || v > math.MaxUint16 {
			return nil, &DiscoveryError{Err: fmt.Errorf("%w: device id %d out of range", ErrMalformedReply, v)}
		}
		ids[i] = uint16(v)
	}

	c.reg.replace(ids)
	c.log.WithField("devices", ids).Info("qrng devices discovered")
	return c.reg.DeviceIDs(), nil
}

// ResolveIndex maps a device ID to its index in the current registry snapshot.
func (c *Client) ResolveIndex(deviceID uint16) (int, bool) { return c.reg.ResolveIndex(deviceID) }

func (c *Client) DeviceCount() int { return c.reg.DeviceCount() }

func (c *Client) DeviceIDs() []uint16 { return c.reg.DeviceIDs() }

// FindDevice asks the server (FDV) for the index of deviceID.
func (c *Client) FindDevice(ctx context.Context, deviceID uint16) (int, error) {
	reply, err := c.call(ctx, protocol.NewRequest(protocol.CmdFindDevice, 0, float64(deviceID)))
	if err != nil {
		return -1, fmt.Errorf("qrng: find device %d: %w", deviceID, err)
	}
	idx, err := reply.Int(0)
	if err != nil {
		return -1, fmt.Errorf("qrng: find device %d: %w", deviceID, malformed(err))
	}
	if idx < 0 {
		return -1, fmt.Errorf("qrng: find device %d: %w", deviceID, ErrDeviceUnknown)
	}
	return idx, nil
}
