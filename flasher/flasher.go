// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package flasher drives one board through a whole flashing run, from
// locating the bootloader to the reset into the freshly written
// application. Failures leave the board in the bootloader so a later run
// can pick up where this one stopped.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"

	"github.com/dacqlab/gigaflash/dfuutil"
	"github.com/dacqlab/gigaflash/firmware"
	"github.com/dacqlab/gigaflash/giga"
)

// DefaultRetries is the per-image retry budget for transient transfer
// errors.
const DefaultRetries = 2

// Flasher runs the locate / transfer / verify / reset sequence.
type Flasher struct {
	Locator *giga.Locator
	Client  *dfuutil.Client
	// LocateTimeout bounds each wait for the bootloader, including the
	// re-locations before retries.
	LocateTimeout time.Duration
	// Retries is the per-image retry budget for transient failures.
	Retries int
	// Progress, when set, observes phase changes as the run advances.
	Progress func(p Phase, image string)
}

// New builds a Flasher with the default timing and retry budget.
func New(locator *giga.Locator, client *dfuutil.Client) *Flasher {
	return &Flasher{
		Locator:       locator,
		Client:        client,
		LocateTimeout: giga.DefaultLocateTimeout,
		Retries:       DefaultRetries,
	}
}

// Flash writes the images onto the board in order. The returned report is
// always filled in, even when the error is non-nil. Cancellation is
// honored between images, never mid-transfer.
func (f *Flasher) Flash(ctx context.Context, images []firmware.Image) (Report, error) {
	report := Report{Results: make([]Result, len(images))}
	for i, img := range images {
		report.Results[i] = Result{Image: img.Name, Role: img.Role, Outcome: OutcomeSkipped}
	}
	if len(images) == 0 {
		return report, errors.New("no images to flash")
	}
	defer f.emit(PhaseIdle, "")

	f.emit(PhaseLocating, "")
	session, err := f.Locator.AwaitDFU(ctx, f.LocateTimeout)
	if err != nil {
		return report, fmt.Errorf("locating the board: %w", err)
	}
	logrus.Infof("bootloader up (usb serial %q), flashing %d image(s)", session.Status.USBSerial, len(images))

	// Patched images only exist in memory until here: nothing is staged
	// to disk before the board is known to be present.
	var staging *paths.Path
	defer func() {
		if staging != nil {
			staging.RemoveAll()
		}
	}()

	// Once a transfer starts it runs to completion even if the caller
	// cancels; the boundary checks below are the cancellation points.
	transferCtx := context.WithoutCancel(ctx)

	for i := range images {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		img := images[i]
		file := img.Path
		if file == "" {
			if staging == nil {
				staging, err = paths.MkTempDir("", "gigaflash")
				if err != nil {
					return report, fmt.Errorf("creating the staging directory: %w", err)
				}
			}
			staged := staging.Join(img.Name)
			if err := staged.WriteFile(img.Bytes()); err != nil {
				return report, fmt.Errorf("staging %s: %w", img.Name, err)
			}
			logrus.Debugf("staged %s to %s", img.Name, staged)
			file = staged.String()
		}
		result := &report.Results[i]
		if err := f.flashImage(ctx, transferCtx, img, file, result); err != nil {
			result.Outcome = OutcomeFailed
			result.Err = err
			return report, fmt.Errorf("flashing %s: %w", img.Name, err)
		}
		result.Outcome = OutcomeSucceeded
	}

	f.emit(PhaseResetting, "")
	last := images[len(images)-1]
	if err := f.Client.Leave(transferCtx, last.AltSetting, last.Address); err != nil {
		return report, fmt.Errorf("resetting into the application: %w", err)
	}
	report.Reset = true
	logrus.Infof("all images written, board resetting into application mode")
	return report, nil
}

// flashImage downloads one image, re-locating the board and retrying on
// transient failures.
func (f *Flasher) flashImage(ctx, transferCtx context.Context, img firmware.Image, file string, result *Result) error {
	request := dfuutil.DownloadRequest{Alt: img.AltSetting, Address: img.Address, File: file}
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt
		f.emit(PhaseTransferring, img.Name)
		logrus.Infof("writing %s (%s) to 0x%08X, attempt %d", img.Name, img.Role, img.Address, attempt)
		err := f.Client.Download(transferCtx, request)
		var verificationErr *dfuutil.VerificationError
		if err == nil || errors.As(err, &verificationErr) {
			f.emit(PhaseVerifying, img.Name)
		}
		if err == nil {
			logrus.Infof("%s confirmed", img.Name)
			return nil
		}
		var transferErr *dfuutil.TransferError
		if !errors.As(err, &transferErr) || !transferErr.Transient || attempt > f.Retries {
			return err
		}
		logrus.Warnf("transient failure writing %s: %s", img.Name, err)
		f.emit(PhaseLocating, img.Name)
		if _, err := f.Locator.AwaitDFU(ctx, f.LocateTimeout); err != nil {
			return fmt.Errorf("re-locating the board after a transient failure: %w", err)
		}
	}
}

func (f *Flasher) emit(p Phase, image string) {
	if image != "" {
		logrus.Debugf("phase %s (%s)", p, image)
	} else {
		logrus.Debugf("phase %s", p)
	}
	if f.Progress != nil {
		f.Progress(p, image)
	}
}
