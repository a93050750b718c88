// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package main is the gigaflash command line tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v2"

	"github.com/dacqlab/gigaflash/dfuutil"
	"github.com/dacqlab/gigaflash/firmware"
	"github.com/dacqlab/gigaflash/flasher"
	"github.com/dacqlab/gigaflash/giga"
)

const (
	VERSION = "v0.1.0"
	appName = "gigaflash"
)

// Exit codes, part of the contract with the provisioning scripts that
// drive this tool.
const (
	exitDeviceNotFound = 1
	exitBadInput       = 2
	exitTransfer       = 3
)

type options struct {
	firmwareDir     string
	dfuUtil         string
	timeout         time.Duration
	transferTimeout time.Duration
	skipProbe       bool
	debug           bool
}

func main() {
	var opts options

	app := cli.NewApp()
	app.Name = appName
	app.Version = VERSION
	app.Usage = "flash and serialize data-acquisition firmware on the Arduino GIGA R1"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "firmware-dir",
			EnvVars:     []string{"GIGAFLASH_FIRMWARE_DIR"},
			Value:       "firmware",
			Destination: &opts.firmwareDir,
			Usage:       "directory holding the firmware images",
		},
		&cli.StringFlag{
			Name:        "dfu-util",
			Value:       dfuutil.DefaultBinary,
			Destination: &opts.dfuUtil,
			Usage:       "path to the dfu-util binary",
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Value:       giga.DefaultLocateTimeout,
			Destination: &opts.timeout,
			Usage:       "how long to wait for the board to show up in the wanted mode",
		},
		&cli.DurationFlag{
			Name:        "transfer-timeout",
			Value:       dfuutil.DefaultTimeout,
			Destination: &opts.transferTimeout,
			Usage:       "how long a single dfu-util run may take",
		},
		&cli.BoolFlag{
			Name:        "skip-probe",
			Destination: &opts.skipProbe,
			Usage:       "skip the post-flash console check",
		},
		&cli.BoolFlag{
			Name:        "debug",
			EnvVars:     []string{"GIGAFLASH_DEBUG"},
			Destination: &opts.debug,
			Usage:       "enable debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		if opts.debug {
			logrus.SetLevel(logrus.DebugLevel)
		}
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:      "upload",
			Usage:     "flash the image set for a hardware target, optionally embedding a serial number",
			ArgsUsage: "TARGET [SERIAL]",
			Action: func(c *cli.Context) error {
				if c.NArg() < 1 || c.NArg() > 2 {
					return errors.New("expected a TARGET and an optional SERIAL argument")
				}
				return runUpload(c.Context, &opts, c.Args().Get(0), c.Args().Get(1))
			},
		},
		{
			Name:      "patch-serial",
			Usage:     "rewrite the serial number in the firmware already on the board",
			ArgsUsage: "SERIAL",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return errors.New("expected exactly one SERIAL argument")
				}
				return runPatchSerial(c.Context, &opts, c.Args().First())
			},
		},
		{
			Name:  "detect",
			Usage: "report which mode the board is in right now",
			Action: func(c *cli.Context) error {
				return runDetect(c)
			},
		},
		{
			Name:  "targets",
			Usage: "list the known hardware targets and their image sets",
			Action: func(c *cli.Context) error {
				return runTargets(c, &opts)
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		logrus.Error(err)
		os.Exit(exitFor(err))
	}
}

func runUpload(ctx context.Context, opts *options, targetArg, serialArg string) error {
	target, err := firmware.ParseTarget(targetArg)
	if err != nil {
		return err
	}
	var code firmware.SerialCode
	if serialArg != "" {
		if code, err = firmware.ParseSerialCode(serialArg); err != nil {
			return err
		}
	}

	catalog := firmware.NewCatalog(paths.New(opts.firmwareDir))
	images, err := catalog.Resolve(target)
	if err != nil {
		return err
	}
	wantSerial := ""
	if serialArg != "" {
		if images, err = firmware.PatchSet(images, code); err != nil {
			return err
		}
		wantSerial = firmware.FullSerial(code)
		logrus.Infof("companion image will carry serial number %s", wantSerial)
	}

	report, err := newFlasher(opts).Flash(ctx, images)
	logReport(report)
	if err != nil {
		return err
	}
	if opts.skipProbe {
		return nil
	}
	return probeConsole(ctx, opts, wantSerial)
}

func runPatchSerial(ctx context.Context, opts *options, serialArg string) error {
	code, err := firmware.PadSerialCode(serialArg)
	if err != nil {
		return err
	}

	locator := &giga.Locator{}
	if _, err := locator.AwaitDFU(ctx, opts.timeout); err != nil {
		return fmt.Errorf("locating the board: %w", err)
	}

	workdir, err := paths.MkTempDir("", appName)
	if err != nil {
		return fmt.Errorf("creating a working directory: %w", err)
	}
	defer workdir.RemoveAll()

	client := newClient(opts)
	dump := workdir.Join("firmwareM4_current.bin")
	logrus.Infof("reading the current companion firmware back from 0x%08X", firmware.CompanionBase)
	if err := client.Upload(ctx, dfuutil.UploadRequest{Address: firmware.CompanionBase, File: dump.String()}); err != nil {
		return err
	}
	data, err := dump.ReadFile()
	if err != nil {
		return fmt.Errorf("reading the firmware dump: %w", err)
	}

	img, err := firmware.NewImageFromDump(firmware.ImageSpec{
		Name:    dump.Base(),
		Role:    firmware.RoleCompanion,
		Address: firmware.CompanionBase,
		Serial:  &firmware.DefaultSerialField,
	}, data)
	if err != nil {
		return err
	}
	logrus.Debugf("read back %d bytes of firmware (crc32 trailer: %t)", img.Size(), img.CRC32Trailer)
	if current, err := img.EmbeddedSerial(); err == nil && current != "" {
		logrus.Infof("board firmware currently carries serial number %q", current)
	}
	patched, err := img.Patch(code)
	if err != nil {
		return err
	}

	report, err := newFlasher(opts).Flash(ctx, []firmware.Image{patched})
	logReport(report)
	if err != nil {
		return err
	}
	if opts.skipProbe {
		return nil
	}
	return probeConsole(ctx, opts, firmware.FullSerial(code))
}

func runDetect(c *cli.Context) error {
	status, err := (&giga.Locator{}).Detect()
	if err != nil {
		return err
	}
	switch status.State {
	case giga.StateApplication:
		if status.Product != "" {
			fmt.Fprintf(c.App.Writer, "board in application mode on %s (%s)\n", status.Port, status.Product)
		} else {
			fmt.Fprintf(c.App.Writer, "board in application mode on %s\n", status.Port)
		}
	case giga.StateDFU:
		fmt.Fprintf(c.App.Writer, "board in DFU mode, ready to flash (USB serial %s)\n", status.USBSerial)
	default:
		return &giga.DeviceNotFoundError{LastState: giga.StateAbsent}
	}
	return nil
}

func runTargets(c *cli.Context, opts *options) error {
	catalog := firmware.NewCatalog(paths.New(opts.firmwareDir))
	for _, target := range catalog.Targets() {
		images, err := catalog.Images(target)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\n", target)
		for _, spec := range images {
			fmt.Fprintf(c.App.Writer, "  %-32s %-10s 0x%08X%s\n", spec.Name, spec.Role, spec.Address, layoutNote(spec))
		}
	}
	return nil
}

func layoutNote(spec firmware.ImageSpec) string {
	switch {
	case spec.Serial != nil && spec.CRC32Trailer:
		return "  serial field, crc32 trailer"
	case spec.Serial != nil:
		return "  serial field"
	default:
		return ""
	}
}

// probeConsole checks that the freshly flashed firmware answers on its
// command console before the tool reports success.
func probeConsole(ctx context.Context, opts *options, wantSerial string) error {
	status, err := (&giga.Locator{}).AwaitApplication(ctx, opts.timeout)
	if err != nil {
		return fmt.Errorf("waiting for the application to boot: %w", err)
	}
	if err := settle(ctx, giga.BootSettle); err != nil {
		return err
	}
	report, err := giga.Probe(status.Port, wantSerial)
	if err != nil {
		return &probeError{err: err}
	}
	logrus.Infof("board answered: %s (serial number %s)", report.Identity, report.Serial)
	return nil
}

// settle waits out a fixed delay unless the run is cancelled first.
func settle(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func logReport(report flasher.Report) {
	for _, res := range report.Results {
		switch res.Outcome {
		case flasher.OutcomeSucceeded:
			logrus.Infof("%s: written and confirmed", res.Image)
		case flasher.OutcomeFailed:
			logrus.Errorf("%s: %v", res.Image, res.Err)
		default:
			logrus.Warnf("%s: skipped", res.Image)
		}
	}
	if report.Reset {
		logrus.Info("board released from the bootloader")
	}
}

func newClient(opts *options) *dfuutil.Client {
	return dfuutil.NewClient(dfuutil.Config{
		Binary:  opts.dfuUtil,
		Device:  giga.DFUDeviceFilter,
		Timeout: opts.transferTimeout,
	})
}

func newFlasher(opts *options) *flasher.Flasher {
	fl := flasher.New(&giga.Locator{}, newClient(opts))
	fl.LocateTimeout = opts.timeout
	return fl
}

// probeError marks a failure of the post-flash console check, which is a
// device-side outcome rather than an input problem.
type probeError struct {
	err error
}

func (e *probeError) Error() string { return "post-flash check: " + e.err.Error() }

func (e *probeError) Unwrap() error { return e.err }

// exitFor maps the error taxonomy onto the exit codes above.
func exitFor(err error) int {
	var notFound *giga.DeviceNotFoundError
	if errors.As(err, &notFound) {
		return exitDeviceNotFound
	}
	var transfer *dfuutil.TransferError
	var verification *dfuutil.VerificationError
	var probe *probeError
	if errors.As(err, &transfer) || errors.As(err, &verification) || errors.As(err, &probe) {
		return exitTransfer
	}
	return exitBadInput
}
