// Package discovery enumerates attached 6-DOF tracker devices: a
// semaphore-bounded pool of goroutines queries identity from every USB
// device matching the vendor/product pair.
package discovery

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/gousb"

	"sixdof/internal/protocol"
	"sixdof/internal/xerrors"
	"sixdof/internal/xlog"
)

const (
	concurrency      = 4
	identifySettle   = 20 * time.Millisecond
	reqTypeSetReport = 0x21
	reqSetReport     = 0x09
	valSetReport     = 0x0202
	reqTypeGetReport = 0xA1
	reqGetReport     = 0x01
	valGetReport     = 0x0101
)

// ListDevices enumerates every attached device matching VendorID/ProductID,
// querying UUID/version/features from each over its HID command interface.
// A device that fails identification is logged and skipped; the scan never
// aborts because of a single bad device.
func ListDevices() ([]protocol.DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(protocol.VendorID) && desc.Product == gousb.ID(protocol.ProductID)
	})
	if err != nil {
		return nil, xerrors.Wrap("discovery.ListDevices", xerrors.KindTransport, err)
	}
	defer func() {
		for _, d := range devices {
			d.Close()
		}
	}()

	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, concurrency)
		mu      sync.Mutex
		results []protocol.DeviceInfo
	)

	for _, dev := range devices {
		wg.Add(1)
		sem <- struct{}{}
		go func(dev *gousb.Device) {
			defer wg.Done()
			defer func() { <-sem }()

			info, err := queryDevice(dev)
			if err != nil {
				xlog.Warnf("discovery: skipping device at %s: %v", busID(dev), err)
				return
			}
			mu.Lock()
			results = append(results, info)
			mu.Unlock()
		}(dev)
	}
	wg.Wait()

	return results, nil
}

func busID(dev *gousb.Device) string {
	return fmt.Sprintf("%d:%d", dev.Desc.Bus, dev.Desc.Address)
}

// queryDevice claims the HID command interface only long enough to issue
// the three identity commands: open, query, close per candidate.
func queryDevice(dev *gousb.Device) (protocol.DeviceInfo, error) {
	cfg, err := dev.Config(1)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	defer cfg.Close()

	intf, err := cfg.Interface(protocol.HIDInterface, 0)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	defer intf.Close()

	uuidResp, err := command(dev, protocol.CmdUUID)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	off, err := protocol.ValidateResponse(uuidResp, protocol.CmdUUID)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	uuid := protocol.ExtractCString(uuidResp[off:])

	versionResp, err := command(dev, protocol.CmdVersion)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	off, err = protocol.ValidateResponse(versionResp, protocol.CmdVersion)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	version := protocol.ExtractCString(versionResp[off:])

	featuresResp, err := command(dev, protocol.CmdFeatures)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	off, err = protocol.ValidateResponse(featuresResp, protocol.CmdFeatures)
	if err != nil {
		return protocol.DeviceInfo{}, err
	}
	features := protocol.ParseFeatures(featuresResp[off:])

	return protocol.DeviceInfo{
		UUID:     uuid,
		Version:  version,
		Features: features,
		BusID:    busID(dev),
	}, nil
}

// command performs one SET_REPORT/GET_REPORT control-transfer exchange
// against an already-configured device.
func command(dev *gousb.Device, opcode []byte) ([]byte, error) {
	frame := protocol.BuildCommand(opcode)
	if _, err := dev.Control(reqTypeSetReport, reqSetReport, valSetReport, protocol.HIDInterface, frame[:]); err != nil {
		return nil, err
	}

	time.Sleep(identifySettle)

	resp := make([]byte, protocol.ReportSize)
	n, err := dev.Control(reqTypeGetReport, reqGetReport, valGetReport, protocol.HIDInterface, resp)
	if err != nil {
		return nil, err
	}
	return resp[:n], nil
}
