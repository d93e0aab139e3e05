// internal/writer/builder.go
package writer

import (
	"errors"
	"fmt"
	"time"

	cfg "github.com/tamzrod/qrng-admin/internal/config"
	wmodbus "github.com/tamzrod/qrng-admin/internal/writer/modbus"
)

// BuildStatusPlans returns one plan per device that opted into a status block.
// Assumes config has already passed validation and normalization.
func BuildStatusPlans(c *cfg.Config) []StatusPlan {
	var plans []StatusPlan
	for _, d := range c.Devices {
		if d.Status == nil {
			continue
		}
		plans = append(plans, StatusPlan{
			DeviceID:   d.ID,
			Endpoint:   d.Status.Endpoint,
			UnitID:     d.Status.UnitID,
			BaseSlot:   d.Status.Slot,
			DeviceName: d.Name,
		})
	}
	return plans
}

// DialEndpoints opens one status memory connection per distinct endpoint.
// On failure every connection already opened is closed.
func DialEndpoints(plans []StatusPlan, timeout time.Duration) (map[string]*wmodbus.Endpoint, func() error, error) {
	eps := make(map[string]*wmodbus.Endpoint)
	closeAll := func() error {
		var errs []error
		for _, ep := range eps {
			if err := ep.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, p := range plans {
		if _, ok := eps[p.Endpoint]; ok {
			continue
		}
		ep, err := wmodbus.Dial(wmodbus.Config{Endpoint: p.Endpoint, Timeout: timeout})
		if err != nil {
			_ = closeAll()
			return nil, nil, err
		}
		eps[p.Endpoint] = ep
	}

	return eps, closeAll, nil
}

// BuildStatusWriters binds every plan to its unit on the dialed endpoints.
// The result is keyed by device ID.
func BuildStatusWriters(plans []StatusPlan, eps map[string]*wmodbus.Endpoint) (map[uint16]StatusWriter, error) {
	out := make(map[uint16]StatusWriter, len(plans))
	for _, p := range plans {
		ep, ok := eps[p.Endpoint]
		if !ok {
			return nil, fmt.Errorf("status writer: device %d: endpoint %s not dialed", p.DeviceID, p.Endpoint)
		}
		out[p.DeviceID] = NewDeviceStatusWriter(p, ep.Unit(p.UnitID))
	}
	return out, nil
}
