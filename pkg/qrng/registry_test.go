// pkg/qrng/registry_test.go
package qrng

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/qrng-admin/internal/fakeqrng"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
)

func TestRegistry_EmptyBeforeDiscovery(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(5))

	assert.Zero(t, h.c.DeviceCount())
	assert.Empty(t, h.c.DeviceIDs())

	_, ok := h.c.ResolveIndex(5)
	assert.False(t, ok)

	_, err := h.c.ReadTemperature(context.Background(), 0)
	assert.ErrorIs(t, err, ErrDeviceUnknown)
	assert.Zero(t, h.srv.Requests())
}

func TestDiscoverDevices(t *testing.T) {
	h := startDiscovered(t, Options{}, fakeqrng.NewDevice(5), fakeqrng.NewDevice(9), fakeqrng.NewDevice(2))

	assert.Equal(t, 3, h.c.DeviceCount())
	assert.Equal(t, []uint16{5, 9, 2}, h.c.DeviceIDs())

	for want, id := range []uint16{5, 9, 2} {
		got, ok := h.c.ResolveIndex(id)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := h.c.ResolveIndex(7)
	assert.False(t, ok)

	assert.Equal(t, []protocol.Command{protocol.CmdFindBoard, protocol.CmdGetBoardsID}, h.srv.Commands())
}

func TestDiscoverDevices_NoBoards(t *testing.T) {
	h := startDiscovered(t, Options{})
	assert.Zero(t, h.c.DeviceCount())
}

func TestDeviceIDs_ReturnsCopy(t *testing.T) {
	h := startDiscovered(t, Options{}, fakeqrng.NewDevice(5))

	ids := h.c.DeviceIDs()
	ids[0] = 99

	assert.Equal(t, []uint16{5}, h.c.DeviceIDs())
}

func TestDiscoverDevices_FailureKeepsSnapshot(t *testing.T) {
	h := startDiscovered(t, Options{}, fakeqrng.NewDevice(5), fakeqrng.NewDevice(9))
	require.NoError(t, h.srv.Close())

	_, err := h.c.DiscoverDevices(context.Background())

	var de *DiscoveryError
	require.ErrorAs(t, err, &de)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, []uint16{5, 9}, h.c.DeviceIDs())
}

func TestRegistry_ConcurrentReadersDuringDiscovery(t *testing.T) {
	h := startDiscovered(t, Options{}, fakeqrng.NewDevice(5), fakeqrng.NewDevice(9))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ids := h.c.DeviceIDs()
				if len(ids) != 2 || ids[0] != 5 || ids[1] != 9 {
					t.Errorf("torn snapshot %v", ids)
					return
				}
			}
		}()
	}

	for i := 0; i < 10; i++ {
		_, err := h.c.DiscoverDevices(context.Background())
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestFindDevice(t *testing.T) {
	h := startClient(t, Options{}, fakeqrng.NewDevice(5), fakeqrng.NewDevice(9))
	ctx := context.Background()

	idx, err := h.c.FindDevice(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = h.c.FindDevice(ctx, 3)
	assert.ErrorIs(t, err, ErrDeviceUnknown)
}

func TestUnknownIndex_NoIO(t *testing.T) {
	h := startDiscovered(t, Options{}, fakeqrng.NewDevice(5), fakeqrng.NewDevice(9))
	ctx := context.Background()

	ops := map[string]func(dev int) error{
		"temperature": func(dev int) error { _, err := h.c.ReadTemperature(ctx, dev); return err },
		"vcc":         func(dev int) error { _, err := h.c.ReadSupplyVoltage(ctx, dev); return err },
		"optical":     func(dev int) error { _, err := h.c.ReadOpticalPower(ctx, dev); return err },
		"bias":        func(dev int) error { _, err := h.c.ReadBiasMonitor(ctx, dev); return err },
		"laser temps": func(dev int) error { _, err := h.c.ReadLaserTemperatures(ctx, dev); return err },
		"laser st":    func(dev int) error { _, err := h.c.ReadLaserStatus(ctx, dev); return err },
		"vcomp":       func(dev int) error { _, err := h.c.ReadVComp(ctx, dev); return err },
		"qfactor":     func(dev int) error { _, err := h.c.ReadQFactor(ctx, dev); return err },
		"hmin":        func(dev int) error { _, err := h.c.ReadMinEntropy(ctx, dev); return err },
		"lasers":      func(dev int) error { _, err := h.c.NumLasers(ctx, dev); return err },
		"monitor": func(dev int) error {
			_, err := h.c.GetMonitorValue(ctx, protocol.AlarmTemperature, dev)
			return err
		},
		"enable": func(dev int) error {
			return h.c.SetMonitorEnable(ctx, protocol.AlarmTemperature, false, dev)
		},
		"read enable": func(dev int) error {
			_, err := h.c.ReadMonitorEnable(ctx, protocol.AlarmTemperature, dev)
			return err
		},
		"check":       func(dev int) error { return h.c.CheckThresholds(ctx, dev) },
		"update":      func(dev int) error { return h.c.UpdateThresholds(ctx, dev) },
		"calibrate":   func(dev int) error { return h.c.Calibrate(ctx, dev) },
		"calib vtc":   func(dev int) error { return h.c.CalibrateFixedVTC(ctx, dev) },
		"calib st":    func(dev int) error { _, err := h.c.GetCalibrationStatus(ctx, dev); return err },
		"capture":     func(dev int) error { _, err := h.c.CaptureExtracted(ctx, 16, dev); return err },
		"capture raw": func(dev int) error { _, err := h.c.CaptureRaw(ctx, 16, dev); return err },
		"capture into": func(dev int) error {
			_, err := h.c.CaptureRawInto(ctx, make([]uint32, 4), dev)
			return err
		},
		"network": func(dev int) error {
			return h.c.ConfigureNetwork(ctx, NetworkConfig{
				MAC: "02:00:00:00:00:01", IP: "10.0.0.2", Gateway: "10.0.0.1", Netmask: "255.255.255.0",
			}, dev)
		},
	}

	before := h.srv.Requests()
	observed := h.obs.count()

	for name, op := range ops {
		for _, dev := range []int{2, 3, -1} {
			err := op(dev)
			assert.ErrorIs(t, err, ErrDeviceUnknown, "%s dev=%d", name, dev)
		}
	}

	assert.Equal(t, before, h.srv.Requests())
	assert.Equal(t, observed, h.obs.count())
	assert.True(t, h.c.Session().Connected())
}
