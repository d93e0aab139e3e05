// pkg/qrng/network.go
package qrng

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

// NetworkConfig is the new addressing of a device.
type NetworkConfig struct {
	MAC     string
	IP      string
	Gateway string
	Netmask string
}

// Validate checks syntax only. It returns the canonical form sent on the wire.
func (n NetworkConfig) Validate() (NetworkConfig, error) {
	var out NetworkConfig

	mac := strings.TrimSpace(n.MAC)
	if mac == "" {
		return out, fmt.Errorf("%w: mac is empty", ErrInvalidArgument)
	}
	hw, err := net.ParseMAC(mac)
	if err != nil || len(hw) != 6 {
		return out, fmt.Errorf("%w: mac %q", ErrInvalidArgument, n.MAC)
	}
	out.MAC = hw.String()

	if out.IP, err = parseIPv4("ip", n.IP); err != nil {
		return NetworkConfig{}, err
	}
	if out.Gateway, err = parseIPv4("gateway", n.Gateway); err != nil {
		return NetworkConfig{}, err
	}

	mask, err := parseIPv4("netmask", n.Netmask)
	if err != nil {
		return NetworkConfig{}, err
	}
	if _, bits := net.IPMask(net.ParseIP(mask).To4()).Size(); bits == 0 {
		return NetworkConfig{}, fmt.Errorf("%w: netmask %q is not contiguous", ErrInvalidArgument, n.Netmask)
	}
	out.Netmask = mask

	return out, nil
}

func parseIPv4(field, s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidArgument, field)
	}
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil || strings.Contains(s, ":") {
		return "", fmt.Errorf("%w: %s %q is not an IPv4 address", ErrInvalidArgument, field, s)
	}
	return ip.To4().String(), nil
}

// ConfigureNetwork rewrites the device's MAC/IP/gateway/netmask (NCN).
// Input is validated before any I/O. Once applied, the device stops answering
// at its old address; reconnecting is up to the caller.
func (c *Client) ConfigureNetwork(ctx context.Context, cfg NetworkConfig, dev int) error {
	const op = "configure network"

	nc, err := cfg.Validate()
	if err != nil {
		return opErr(op, dev, err)
	}
	id, err := c.device(dev)
	if err != nil {
		return opErr(op, dev, err)
	}

	req := protocol.NewStringRequest(protocol.CmdNewConfigNetwork, uint32(dev), nc.MAC, nc.IP, nc.Gateway, nc.Netmask)
	if _, err := c.call(ctx, req); err != nil {
		return opErr(op, dev, err)
	}

	c.log.WithFields(logrus.Fields{
		"device_id": id,
		"mac":       nc.MAC,
		"ip":        nc.IP,
		"gateway":   nc.Gateway,
		"netmask":   nc.Netmask,
	}).Info("qrng network configuration applied")
	return nil
}
