// cmd/qrngctl/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tamzrod/qrng-admin/internal/config"
	"github.com/tamzrod/qrng-admin/internal/logging"
	"github.com/tamzrod/qrng-admin/pkg/protocol"
	"github.com/tamzrod/qrng-admin/pkg/qrng"
)

const usage = `usage: qrngctl [flags] <command> [args]

commands:
  info                       server version and system info
  devices                    list device ids
  monitors                   readings, thresholds and monitor state
  capture N                  N extracted words, hex
  raw N                      N raw words, hex
  calibrate                  full calibration
  calibrate-vtc              calibration with fixed VTC
  netconfig MAC IP GW MASK   push a network configuration
  reset                      reset the server

flags:
`

func main() {
	server := flag.String("server", "127.0.0.1", "device server host[:port]")
	timeout := flag.Duration("timeout", qrng.DefaultTimeout, "per-request timeout")
	devID := flag.Uint("dev", 0, "device id (default: first discovered)")
	verbose := flag.Bool("v", false, "log protocol traffic")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, _, err := logging.New(config.LogConfig{Level: level, Output: "stderr"})
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := qrng.Dial(ctx, *server, qrng.SessionOptions{Timeout: *timeout, Logger: log}, qrng.Options{})
	if err != nil {
		fail(err)
	}
	defer c.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]

	// commands that do not address a device
	switch cmd {
	case "info":
		fail(info(ctx, c))
		return
	case "reset":
		fail(c.Reset(ctx))
		fmt.Println("reset")
		return
	}

	if _, err := c.DiscoverDevices(ctx); err != nil {
		fail(err)
	}

	if cmd == "devices" {
		for i, id := range c.DeviceIDs() {
			fmt.Printf("%d\t%d\n", i, id)
		}
		return
	}

	dev := 0
	if *devID != 0 {
		idx, err := c.FindDevice(ctx, uint16(*devID))
		if err != nil {
			fail(err)
		}
		dev = idx
	}

	switch cmd {
	case "monitors":
		fail(monitors(ctx, c, dev))
	case "capture", "raw":
		n, err := wordCount(args)
		if err != nil {
			fail(err)
		}
		capture := c.CaptureExtracted
		if cmd == "raw" {
			capture = c.CaptureRaw
		}
		words, err := capture(ctx, n, dev)
		if err != nil {
			fail(err)
		}
		printWords(words)
	case "calibrate":
		fail(c.Calibrate(ctx, dev))
		fmt.Println(protocol.CalibrationSucceeded)
	case "calibrate-vtc":
		fail(c.CalibrateFixedVTC(ctx, dev))
		fmt.Println(protocol.CalibrationSucceeded)
	case "netconfig":
		if len(args) != 4 {
			fail(fmt.Errorf("netconfig: want MAC IP GW MASK, got %d args", len(args)))
		}
		fail(c.ConfigureNetwork(ctx, qrng.NetworkConfig{
			MAC:     args[0],
			IP:      args[1],
			Gateway: args[2],
			Netmask: args[3],
		}, dev))
		fmt.Println("network configuration sent")
	default:
		fail(fmt.Errorf("unknown command %q", cmd))
	}
}

func fail(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "qrngctl: %v\n", err)
	os.Exit(1)
}

func wordCount(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("want a word count")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid word count %q", args[0])
	}
	return n, nil
}

func printWords(words []uint32) {
	const perLine = 8
	var sb strings.Builder
	for i, w := range words {
		if i > 0 {
			if i%perLine == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, "%08x", w)
	}
	if len(words) > 0 {
		sb.WriteByte('\n')
	}
	fmt.Print(sb.String())
}

func info(ctx context.Context, c *qrng.Client) error {
	v, err := c.ServerVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("version\t%s\n", v)

	sys, err := c.SystemInfo(ctx)
	if err != nil {
		return err
	}
	for _, line := range sys {
		fmt.Printf("system\t%s\n", line)
	}

	dt, err := c.DeltaT(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("delta_t\t%s\n", dt)
	return nil
}

func monitors(ctx context.Context, c *qrng.Client, dev int) error {
	temp, err := c.ReadTemperature(ctx, dev)
	if err != nil {
		return err
	}
	fmt.Printf("temperature\t%.2f\n", temp)

	q, err := c.ReadQFactor(ctx, dev)
	if err != nil {
		return err
	}
	fmt.Printf("qfactor\t%.4f\n", q)

	vcc, err := c.ReadSupplyVoltage(ctx, dev)
	if err != nil {
		return err
	}
	fmt.Printf("vcc\t%v\n", vcc)

	cal, err := c.GetCalibrationStatus(ctx, dev)
	if err != nil {
		return err
	}
	fmt.Printf("calibration\t%s\n", cal)

	if err := c.UpdateThresholds(ctx, dev); err != nil {
		return err
	}
	th, _ := c.Thresholds(dev)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	for at := protocol.AlarmType(0); at < protocol.NumAlarmTypes; at++ {
		on, err := c.ReadMonitorEnable(ctx, at, dev)
		if err != nil {
			return err
		}
		vals, err := c.GetMonitorValue(ctx, at, dev)
		if err != nil {
			return err
		}
		state := "on"
		if !on {
			state = "off"
		}
		line := fmt.Sprintf("%-18s %-3s %v", at, state, vals)
		if b, ok := th.Bounds[at]; ok {
			line += fmt.Sprintf(" [%g, %g]", b.Low, b.High)
		}
		fmt.Println(line)
	}
	return nil
}
