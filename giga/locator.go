// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package giga locates and nudges the GIGA-based instrument on the USB
// bus. The board shows up either as a CDC serial port (application mode)
// or as a DfuSe bootloader device, and is moved from the first to the
// second with a 1200-baud touch.
package giga

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gotmc/libusb"
	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"
)

// State is the locator's view of the board on one poll.
type State int

// Board states.
const (
	StateAbsent State = iota
	StateApplication
	StateDFU
)

var states = map[State]string{
	StateAbsent:      "absent",
	StateApplication: "application",
	StateDFU:         "dfu",
}

func (s State) String() string {
	return states[s]
}

// Status is one locator observation.
type Status struct {
	State State
	// Port is the CDC port path, only set in application mode.
	Port      string
	USBSerial string
	Product   string
}

// Session is the transient handle for one located board over one flashing
// run. It is never persisted.
type Session struct {
	Status Status
}

// Locator finds the board in either of its modes. The zero value polls the
// real host bus; tests replace the function fields.
type Locator struct {
	// ListPorts enumerates serial ports. Nil means the host enumerator.
	ListPorts func() ([]*enumerator.PortDetails, error)
	// FindDFU scans the USB bus for the bootloader. Nil means libusb.
	FindDFU func() (found bool, usbSerial string, err error)
	// Trigger nudges an application-mode port into the bootloader. Nil
	// means the 1200-baud touch.
	Trigger func(port string) error
	// Interval between polls. Zero means PollInterval.
	Interval time.Duration
	// Settle is the wait after firing the trigger. Zero means
	// TriggerSettle.
	Settle time.Duration
}

// Detect polls the bus once.
func (l *Locator) Detect() (Status, error) {
	ports, err := l.listPorts()
	if err != nil {
		return Status{}, fmt.Errorf("enumerating serial ports: %w", err)
	}
	for _, port := range ports {
		if !port.IsUSB || !matchesID(port.VID, VendorArduino) || !matchesID(port.PID, ProductApp) {
			continue
		}
		return Status{
			State:     StateApplication,
			Port:      port.Name,
			USBSerial: port.SerialNumber,
			Product:   port.Product,
		}, nil
	}
	found, usbSerial, err := l.findDFU()
	if err != nil {
		return Status{}, fmt.Errorf("scanning for the bootloader: %w", err)
	}
	if found {
		return Status{State: StateDFU, USBSerial: usbSerial}, nil
	}
	return Status{State: StateAbsent}, nil
}

// AwaitDFU waits until the bootloader is on the bus, firing the trigger
// whenever the board shows up in application mode instead. The board
// dropping off the bus while it changes modes is expected, not an error.
func (l *Locator) AwaitDFU(ctx context.Context, timeout time.Duration) (*Session, error) {
	status, err := l.await(ctx, timeout, StateDFU)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("bootloader on the bus (usb serial %q)", status.USBSerial)
	return &Session{Status: status}, nil
}

// AwaitApplication waits until the board is back in application mode,
// where it lands after a reset out of the bootloader.
func (l *Locator) AwaitApplication(ctx context.Context, timeout time.Duration) (Status, error) {
	return l.await(ctx, timeout, StateApplication)
}

func (l *Locator) await(ctx context.Context, timeout time.Duration, want State) (Status, error) {
	if timeout <= 0 {
		timeout = DefaultLocateTimeout
	}
	deadline := time.Now().Add(timeout)
	last := StateAbsent
	for {
		status, err := l.Detect()
		if err != nil {
			return Status{}, err
		}
		last = status.State
		if status.State == want {
			return status, nil
		}
		wait := l.interval()
		if want == StateDFU && status.State == StateApplication {
			logrus.Infof("board on %s in application mode, triggering the bootloader", status.Port)
			if err := l.trigger(status.Port); err != nil {
				// The port often vanishes mid-open while the board
				// reboots, so a failed touch just means "poll again".
				logrus.Debugf("trigger on %s: %s", status.Port, err)
			}
			wait = l.settle()
		}
		if time.Now().After(deadline) {
			return Status{}, &DeviceNotFoundError{Timeout: timeout, Want: want, LastState: last}
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return Status{}, err
		}
	}
}

func (l *Locator) listPorts() ([]*enumerator.PortDetails, error) {
	if l.ListPorts != nil {
		return l.ListPorts()
	}
	return enumerator.GetDetailedPortsList()
}

func (l *Locator) findDFU() (bool, string, error) {
	if l.FindDFU != nil {
		return l.FindDFU()
	}
	return findDFUDevice()
}

func (l *Locator) trigger(port string) error {
	if l.Trigger != nil {
		return l.Trigger(port)
	}
	return TouchPort(port)
}

func (l *Locator) interval() time.Duration {
	if l.Interval > 0 {
		return l.Interval
	}
	return PollInterval
}

func (l *Locator) settle() time.Duration {
	if l.Settle > 0 {
		return l.Settle
	}
	return TriggerSettle
}

// matchesID compares an enumerator hex ID string against a numeric USB ID.
func matchesID(hex string, want uint16) bool {
	id, err := strconv.ParseUint(hex, 16, 16)
	return err == nil && uint16(id) == want
}

// findDFUDevice walks the USB device list looking for the bootloader
// identity and pulls its serial number descriptor when one is available.
func findDFUDevice() (bool, string, error) {
	ctx, err := libusb.NewContext()
	if err != nil {
		return false, "", fmt.Errorf("creating USB context: %w", err)
	}
	defer ctx.Close()
	usbDevices, err := ctx.GetDeviceList()
	if err != nil {
		return false, "", fmt.Errorf("getting USB device list: %w", err)
	}
	for _, usbDevice := range usbDevices {
		descriptor, err := usbDevice.GetDeviceDescriptor()
		if err != nil {
			continue
		}
		if descriptor.VendorID != VendorArduino || descriptor.ProductID != ProductDFU {
			continue
		}
		usbSerial := ""
		if handle, err := usbDevice.Open(); err == nil {
			usbSerial, _ = handle.GetStringDescriptorASCII(descriptor.SerialNumberIndex)
			handle.Close()
		}
		return true, usbSerial, nil
	}
	return false, "", nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
