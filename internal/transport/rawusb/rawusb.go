// Package rawusb implements the recovery-path transport: direct libusb
// control and interrupt transfers via gousb, bypassing the OS HID stack
// entirely. This is the transport required on platforms whose HID layer
// cannot follow the device through a mid-sequence re-enumeration.
package rawusb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gousb"

	"sixdof/internal/protocol"
	"sixdof/internal/xerrors"
	"sixdof/internal/xlog"
)

const (
	// HID SET_REPORT / GET_REPORT control requests.
	reqTypeSetReport = 0x21
	reqSetReport     = 0x09
	valSetReport     = 0x0202

	reqTypeGetReport = 0xA1
	reqGetReport     = 0x01
	valGetReport     = 0x0101

	controlTimeout = 500 * time.Millisecond
)

// Options configures how the raw-USB transport claims interfaces.
type Options struct {
	// ClaimAllInterfaces widens the claim set to [3,1,2,0] to keep the
	// kernel HID driver from reclaiming them mid-sequence.
	ClaimAllInterfaces bool
	// AllowDetachFallback permits a one-shot detach+reclaim retry when the
	// initial claim of the command interface fails with an access error.
	AllowDetachFallback bool
	// BusID, if non-empty, targets a specific previously-enumerated device
	// (DeviceInfo.BusID) rather than the first VID/PID match.
	BusID string
}

// Transport is the raw-USB backend.
type Transport struct {
	ctx    *gousb.Context
	device *gousb.Device
	config *gousb.Config
	intfs  []*gousb.Interface
	epIn   *gousb.InEndpoint
}

// Open opens the first device matching VendorID/ProductID and claims the
// HID command interface (plus, with opts.ClaimAllInterfaces, the rest of
// the interfaces in claim-order [3,1,2,0]).
func Open(opts Options) (*Transport, error) {
	ctx := gousb.NewContext()

	dev, err := openMatching(ctx, opts.BusID)
	if err != nil {
		ctx.Close()
		return nil, xerrors.Wrap("rawusb.Open", xerrors.KindTransport, err)
	}
	if dev == nil {
		ctx.Close()
		return nil, xerrors.DeviceNotFound("rawusb.Open")
	}

	if err := dev.SetAutoDetach(true); err != nil {
		xlog.Warnf("rawusb: SetAutoDetach failed: %v", err)
	}

	cfg, err := dev.Config(1)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, xerrors.Wrap("rawusb.Open", xerrors.KindTransport, err)
	}

	claimOrder := []int{protocol.HIDInterface}
	if opts.ClaimAllInterfaces {
		claimOrder = []int{3, 1, 2, 0}
	}

	var intfs []*gousb.Interface
	var epIn *gousb.InEndpoint
	for _, num := range claimOrder {
		intf, err := cfg.Interface(num, 0)
		if err != nil && num == protocol.HIDInterface && opts.AllowDetachFallback {
			// One-shot detach + re-claim: a kernel HID driver grabbed the
			// interface back between open and claim.
			xlog.Warnf("rawusb: claim interface %d failed (%v), detaching and retrying once", num, err)
			if detachErr := dev.SetAutoDetach(true); detachErr != nil {
				xlog.Warnf("rawusb: SetAutoDetach retry failed: %v", detachErr)
			}
			intf, err = cfg.Interface(num, 0)
		}
		if err != nil {
			if num == protocol.HIDInterface {
				for _, claimed := range intfs {
					claimed.Close()
				}
				cfg.Close()
				dev.Close()
				ctx.Close()
				return nil, xerrors.Wrap("rawusb.Open", xerrors.KindTransport, err)
			}
			xlog.Warnf("rawusb: claim interface %d failed (%v), continuing", num, err)
			continue
		}
		intfs = append(intfs, intf)
		if num == protocol.HIDInterface {
			if ep, err := intf.InEndpoint(protocol.SLAMEndpoint); err == nil {
				epIn = ep
			}
		}
	}

	return &Transport{ctx: ctx, device: dev, config: cfg, intfs: intfs, epIn: epIn}, nil
}

// Command performs the control-transfer request/response exchange: a
// SET_REPORT control write followed by an optional GET_REPORT control read.
// A failed acknowledgment read is returned without error; the caller
// decides advisory-vs-fatal per command.
func (t *Transport) Command(frame []byte) ([]byte, error) {
	_, err := t.device.Control(reqTypeSetReport, reqSetReport, valSetReport, protocol.HIDInterface, frame)
	if err != nil {
		return nil, xerrors.Wrap("rawusb.Command", xerrors.KindTransport, err)
	}

	ack := make([]byte, protocol.ReportSize)
	n, err := t.device.Control(reqTypeGetReport, reqGetReport, valGetReport, protocol.HIDInterface, ack)
	if err != nil {
		xlog.Warnf("rawusb: ack read failed: %v", err)
		return nil, nil
	}
	return ack[:n], nil
}

// ReadInterrupt reads one frame from the SLAM interrupt endpoint. Raw-USB
// interrupt transfers start directly at the opcode echo; NormalizesFrame
// reports false so the Streaming Engine prepends the report tag.
func (t *Transport) ReadInterrupt(timeout time.Duration) ([]byte, error) {
	if t.epIn == nil {
		return nil, xerrors.New("rawusb.ReadInterrupt", xerrors.KindTransport)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	buf := make([]byte, protocol.ReportSize+1)
	n, err := t.epIn.ReadContext(ctx, buf)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, xerrors.Timeout("rawusb.ReadInterrupt")
		}
		return nil, xerrors.Wrap("rawusb.ReadInterrupt", xerrors.KindTransport, err)
	}
	return buf[:n], nil
}

func (t *Transport) NormalizesFrame() bool { return false }

// ClearHalt performs no transfer and always returns nil: a stall on the
// SLAM interrupt endpoint is not cleared.
func (t *Transport) ClearHalt() error {
	if t.epIn == nil {
		return nil
	}
	return nil
}

// Close releases every claimed interface and the device/context handles.
func (t *Transport) Close() error {
	for _, intf := range t.intfs {
		intf.Close()
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
