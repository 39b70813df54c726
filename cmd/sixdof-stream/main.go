// Command sixdof-stream opens the first attached tracker, starts a SLAM
// stream, and prints pose samples to stdout until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sixdof"
)

func main() {
	var (
		list        = flag.Bool("list", false, "list attached devices and exit")
		mode        = flag.String("mode", "edge", "SLAM mode: edge, mixed")
		backend     = flag.String("backend", "rawusb", "transport backend: rawusb, featurereport")
		rotation    = flag.String("rotation", "auto", "rotation payload decoding: auto, matrix, quaternion")
		idleTimeout = flag.Duration("idle-timeout", 30*time.Second, "exit after this long without a sample")
		everyN      = flag.Uint64("every", 100, "print every Nth sample")
	)
	flag.Parse()

	if *list {
		runList()
		return
	}

	opts := []sixdof.Option{
		sixdof.WithSLAMMode(parseMode(*mode)),
		sixdof.WithMacBackend(parseBackend(*backend)),
		sixdof.WithRotationParse(parseRotation(*rotation)),
	}

	dev, err := sixdof.OpenFirst(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("UUID:     %s\n", dev.UUID())
	fmt.Printf("Version:  %s\n", dev.Version())
	fmt.Printf("Features: %s\n\n", dev.Features())

	stream, err := dev.StartSLAM(parseMode(*mode))
	if err != nil {
		fmt.Fprintf(os.Stderr, "start_slam: %v\n", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		stream.Stop()
	}()

	fmt.Printf("Streaming SLAM mode %s (Ctrl+C to stop)...\n", *mode)

	start := time.Now()
	var count uint64
	lastReport := start

	for {
		sample, err := stream.RecvTimeout(*idleTimeout)
		if err != nil {
			if !stream.IsActive() {
				break
			}
			fmt.Fprintf(os.Stderr, "no sample for %s, stopping\n", *idleTimeout)
			break
		}

		count++
		if (count-1)%*everyN == 0 {
			fmt.Printf("ts=%-12d pos=[%+.4f, %+.4f, %+.4f] quat=[%+.3f, %+.3f, %+.3f, %+.3f] conf=%.3f\n",
				sample.TimestampUS,
				sample.Translation[0], sample.Translation[1], sample.Translation[2],
				sample.Quaternion[0], sample.Quaternion[1], sample.Quaternion[2], sample.Quaternion[3],
				sample.Confidence,
			)
		}

		if now := time.Now(); now.Sub(lastReport) >= 3*time.Second {
			elapsed := now.Sub(start).Seconds()
			fmt.Printf("--- %d samples in %.1fs (%.1f Hz), %d dropped ---\n",
				count, elapsed, float64(count)/elapsed, stream.DroppedSamples())
			lastReport = now
		}
	}

	elapsed := time.Since(start).Seconds()
	fmt.Printf("\nTotal: %d samples in %.1fs (%.1f Hz), %d dropped\n",
		count, elapsed, float64(count)/elapsed, stream.DroppedSamples())
}

func runList() {
	devices, err := sixdof.ListDevices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list_devices: %v\n", err)
		os.Exit(1)
	}
	if len(devices) == 0 {
		fmt.Println("no devices found")
		return
	}
	for _, d := range devices {
		fmt.Printf("%s  uuid=%s version=%s features=%s\n", d.BusID, d.UUID, d.Version, d.Features)
	}
}

func parseMode(s string) sixdof.Mode {
	if s == "mixed" {
		return sixdof.ModeMixed
	}
	return sixdof.ModeEdge
}

func parseBackend(s string) sixdof.MacBackend {
	if s == "featurereport" {
		return sixdof.BackendFeatureReport
	}
	return sixdof.BackendRawUSB
}

func parseRotation(s string) sixdof.RotationParse {
	switch s {
	case "matrix":
		return sixdof.RotationMatrix
	case "quaternion":
		return sixdof.RotationQuaternion
	default:
		return sixdof.RotationAuto
	}
}
