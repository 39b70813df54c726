// Package featurereport implements the normal-path transport: a
// SET_REPORT/GET_REPORT request-response pair with a settling sleep, and a
// timed interrupt read for the pose stream. It is built on the same gousb
// control-transfer primitive as rawusb, differing in that settle delay and
// in that it never widens its interface claim or detaches a kernel driver:
// it assumes the OS HID subsystem already manages the device.
package featurereport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"sixdof/internal/protocol"
	"sixdof/internal/xerrors"
)

// Options configures which device the feature-report backend opens.
type Options struct {
	// BusID, if non-empty, targets a specific previously-enumerated device
	// (DeviceInfo.BusID) rather than the first VID/PID match.
	BusID string
}

const (
	reqTypeSetReport = 0x21
	reqSetReport     = 0x09
	valSetReport     = 0x0202

	reqTypeGetReport = 0xA1
	reqGetReport     = 0x01
	valGetReport     = 0x0101

	// settleDelay accommodates device processing time between writing a
	// report and reading the input report back.
	settleDelay = 20 * time.Millisecond
)

// Transport is the feature-report backend.
type Transport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intf   *gousb.Interface
	epIn   *gousb.InEndpoint
}

// Open opens the first matching device and claims only the HID command
// interface, without auto-detach: the normal path assumes the OS HID
// subsystem is already managing the device.
func Open(opts Options) (*Transport, error) {
	ctx := gousb.NewContext()

	dev, err := openMatching(ctx, opts.BusID)
	if err != nil {
		ctx.Close()
		return nil, xerrors.Wrap("featurereport.Open", xerrors.KindTransport, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, xerrors.DeviceNotFound("featurereport.Open")
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, xerrors.Wrap("featurereport.Open", xerrors.KindTransport, err)
	}

	intf, err := cfg.Interface(protocol.HIDInterface, 0)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, xerrors.Wrap("featurereport.Open", xerrors.KindTransport, err)
	}

	epIn, _ := intf.InEndpoint(protocol.SLAMEndpoint)

	return &Transport{ctx: ctx, device: dev, config: cfg, intf: intf, epIn: epIn}, nil
}

// Command writes a report and, after the settling delay, reads the input
// report back. A failed acknowledgment read is returned without error; the
// caller decides advisory-vs-fatal per command.
func (t *Transport) Command(frame []byte) ([]byte, error) {
	_, err := t.device.Control(reqTypeSetReport, reqSetReport, valSetReport, protocol.HIDInterface, frame)
	if err != nil {
		return nil, xerrors.Wrap("featurereport.Command", xerrors.KindTransport, err)
	}

	time.Sleep(settleDelay)

	ack := make([]byte, protocol.ReportSize)
	n, err := t.device.Control(reqTypeGetReport, reqGetReport, valGetReport, protocol.HIDInterface, ack)
	if err != nil {
		return nil, nil
	}
	return ack[:n], nil
}

// ReadInterrupt reads one frame with the given timeout. This is the same
// gousb interrupt read rawusb uses, so frames start directly at the opcode
// echo; NormalizesFrame reports false so the Streaming Engine prepends the
// report tag.
func (t *Transport) ReadInterrupt(timeout time.Duration) ([]byte, error) {
	if t.epIn == nil {
		return nil, xerrors.New("featurereport.ReadInterrupt", xerrors.KindTransport)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, protocol.ReportSize+1)
	n, err := t.epIn.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, xerrors.Timeout("featurereport.ReadInterrupt")
		}
		return nil, xerrors.Wrap("featurereport.ReadInterrupt", xerrors.KindTransport, err)
	}
	return buf[:n], nil
}

func (t *Transport) NormalizesFrame() bool { return false }

func (t *Transport) ClearHalt() error { return nil }

// Close releases the claimed interface and the device/context handles.
func (t *Transport) Close() error {
	if t.intf != nil {
		t.intf.Close()
	}
	if t.config != nil {
		t.config.Close()
	}
	if t.device != nil {
		t.device.Close()
	}
	if t.ctx != nil {
		t.ctx.Close()
	}
	return nil
}

// openMatching opens the first device matching VendorID/ProductID, or,
// when busID is non-empty, the specific device whose bus:address equals
// it (as produced by internal/discovery).
func openMatching(ctx *gousb.Context, busID string) (*gousb.Device, error) {
	if busID == "" {
		return ctx.OpenDeviceWithVIDPID(protocol.VendorID, protocol.ProductID)
	}

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(protocol.VendorID) || desc.Product != gousb.ID(protocol.ProductID) {
			return false
		}
		return fmt.Sprintf("%d:%d", desc.Bus, desc.Address) == busID
	})
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, nil
	}
	for _, d := range devices[1:] {
		d.Close()
	}
	return devices[0], nil
}
