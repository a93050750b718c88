// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package dfuutil drives the dfu-util command-line client for DfuSe
// downloads and uploads. Only the command-line contract is relied on: the
// argument syntax, the exit status and the confirmation lines the tool
// prints. The DFU protocol itself stays inside dfu-util.
package dfuutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBinary is the executable name used when no explicit path is
// configured.
const DefaultBinary = "dfu-util"

// DefaultTimeout bounds one dfu-util invocation. Writing or reading a full
// flash bank over full-speed USB takes well under this.
const DefaultTimeout = 120 * time.Second

// Confirmation lines dfu-util prints when an operation really finished.
// Exit status 0 alone does not count as success.
const (
	downloadConfirmation = "File downloaded successfully"
	uploadConfirmation   = "Upload done"
)

type op int

const (
	opDownload op = iota
	opUpload
	opLeave
)

var ops = map[op]string{
	opDownload: "download",
	opUpload:   "upload",
	opLeave:    "leave",
}

func (o op) String() string {
	return ops[o]
}

// Client invokes dfu-util against one device identity.
type Client struct {
	// Invoker runs the binary. Nil means a fresh ExecInvoker.
	Invoker Invoker
	// Device is the VID:PID filter passed as -d. Empty omits the filter.
	Device string
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Config collects the Client settings the command line exposes.
type Config struct {
	Binary  string
	Device  string
	Timeout time.Duration
}

// NewClient builds a Client that shells out to the configured binary.
func NewClient(cfg Config) *Client {
	return &Client{
		Invoker: &ExecInvoker{Path: cfg.Binary},
		Device:  cfg.Device,
		Timeout: cfg.Timeout,
	}
}

// DownloadRequest describes one DfuSe download (host-to-device write).
type DownloadRequest struct {
	Alt     int
	Address uint32
	File    string
	// Leave appends the :leave modifier so the device manifests and
	// boots the application once the download completes.
	Leave bool
}

func (r DownloadRequest) args(device string) []string {
	suffix := fmt.Sprintf("0x%08X", r.Address)
	if r.Leave {
		suffix += ":leave"
	}
	return withDevice(device, "-a", strconv.Itoa(r.Alt), "-s", suffix, "-D", r.File)
}

// UploadRequest describes one DfuSe upload (device-to-host read) running
// from Address to the end of the region.
type UploadRequest struct {
	Alt     int
	Address uint32
	File    string
}

func (r UploadRequest) args(device string) []string {
	suffix := fmt.Sprintf("0x%08X:", r.Address)
	return withDevice(device, "-a", strconv.Itoa(r.Alt), "-s", suffix, "-U", r.File)
}

func withDevice(device string, args ...string) []string {
	if device == "" {
		return args
	}
	return append([]string{"-d", device}, args...)
}

// Download writes one image file to the device.
func (c *Client) Download(ctx context.Context, req DownloadRequest) error {
	return c.run(ctx, opDownload, req.args(c.Device), downloadConfirmation)
}

// Upload reads the flash region starting at req.Address into req.File.
func (c *Client) Upload(ctx context.Context, req UploadRequest) error {
	return c.run(ctx, opUpload, req.args(c.Device), uploadConfirmation)
}

// Leave jumps the bootloader into the application at addr without writing
// anything: a zero-length download whose :leave modifier triggers the
// DfuSe manifest phase. Success is judged on exit status alone since
// dfu-util prints no download confirmation for an empty file.
func (c *Client) Leave(ctx context.Context, alt int, addr uint32) error {
	empty, err := os.CreateTemp("", "gigaflash-leave-*.bin")
	if err != nil {
		return fmt.Errorf("creating empty leave file: %w", err)
	}
	name := empty.Name()
	empty.Close()
	defer os.Remove(name)
	req := DownloadRequest{Alt: alt, Address: addr, File: name, Leave: true}
	return c.run(ctx, opLeave, req.args(c.Device), "")
}

// run invokes dfu-util once and classifies the result. confirmation is the
// output line that must be present on success; empty skips that check.
func (c *Client) run(ctx context.Context, o op, args []string, confirmation string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	logrus.Debugf("dfu-util %s", strings.Join(args, " "))
	code, output, err := c.invoker().Invoke(ctx, args)
	out := string(output)
	logrus.Debugf("dfu-util %s: exit %d, %d bytes of output", o, code, len(out))
	if ctx.Err() == context.DeadlineExceeded {
		return &TransferError{Op: o.String(), ExitCode: code, Transient: true, Output: out, Err: ctx.Err()}
	}
	if err != nil {
		return &TransferError{Op: o.String(), ExitCode: code, Output: out, Err: err}
	}
	if code != 0 {
		return &TransferError{Op: o.String(), ExitCode: code, Transient: transientOutput(out), Output: out}
	}
	if confirmation != "" && !strings.Contains(out, confirmation) {
		return &VerificationError{Op: o.String(), Missing: confirmation, Output: out}
	}
	return nil
}

func (c *Client) invoker() Invoker {
	if c.Invoker != nil {
		return c.Invoker
	}
	return &ExecInvoker{}
}

// transientMarkers are output fragments that indicate a bus or device
// condition that clears once the device settles and is located again.
var transientMarkers = []string{
	"LIBUSB_ERROR_TIMEOUT",
	"LIBUSB_ERROR_NO_DEVICE",
	"LIBUSB_ERROR_IO",
	"LIBUSB_ERROR_PIPE",
	"unable to read DFU status",
	"error get_status",
	"Lost device after RESET",
	"No DFU capable USB device available",
}

func transientOutput(out string) bool {
	for _, marker := range transientMarkers {
		if strings.Contains(out, marker) {
			return true
		}
	}
	return false
}
