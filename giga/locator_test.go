// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package giga

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	c "github.com/smartystreets/goconvey/convey"
	"go.bug.st/serial/enumerator"
)

func appPort(name string) *enumerator.PortDetails {
	return &enumerator.PortDetails{
		Name:         name,
		IsUSB:        true,
		VID:          "2341",
		PID:          "0266",
		SerialNumber: "46002D000851323439383237",
		Product:      "Arduino Giga R1",
	}
}

func noise() []*enumerator.PortDetails {
	return []*enumerator.PortDetails{
		{Name: "/dev/ttyS0", IsUSB: false},
		{Name: "/dev/ttyACM9", IsUSB: true, VID: "2e8a", PID: "000a", Product: "Pico"},
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", Product: "FT232R"},
	}
}

func TestDetect(t *testing.T) {
	c.Convey("Given a bus with unrelated serial ports", t, func() {
		ports := noise()

		c.Convey("When the board's CDC port is present", func() {
			locator := &Locator{
				ListPorts: func() ([]*enumerator.PortDetails, error) {
					return append(ports, appPort("/dev/ttyACM0")), nil
				},
				FindDFU: func() (bool, string, error) {
					t.Fatal("the bootloader scan should not run")
					return false, "", nil
				},
			}
			status, err := locator.Detect()

			c.Convey("Then the board is in application mode", func() {
				c.So(err, c.ShouldBeNil)
				c.So(status.State, c.ShouldEqual, StateApplication)
				c.So(status.Port, c.ShouldEqual, "/dev/ttyACM0")
				c.So(status.Product, c.ShouldEqual, "Arduino Giga R1")
			})
		})

		c.Convey("When only the bootloader answers", func() {
			locator := &Locator{
				ListPorts: func() ([]*enumerator.PortDetails, error) { return ports, nil },
				FindDFU:   func() (bool, string, error) { return true, "375A32773430", nil },
			}
			status, err := locator.Detect()

			c.Convey("Then the board is in dfu mode", func() {
				c.So(err, c.ShouldBeNil)
				c.So(status.State, c.ShouldEqual, StateDFU)
				c.So(status.Port, c.ShouldEqual, "")
				c.So(status.USBSerial, c.ShouldEqual, "375A32773430")
			})
		})

		c.Convey("When nothing matches", func() {
			locator := &Locator{
				ListPorts: func() ([]*enumerator.PortDetails, error) { return ports, nil },
				FindDFU:   func() (bool, string, error) { return false, "", nil },
			}
			status, err := locator.Detect()

			c.Convey("Then the board is absent", func() {
				c.So(err, c.ShouldBeNil)
				c.So(status.State, c.ShouldEqual, StateAbsent)
			})
		})
	})
}

func TestAwaitDFUTriggersTheBootloader(t *testing.T) {
	c.Convey("Given a board that needs the 1200-baud touch", t, func() {
		polls := 0
		triggered := []string{}
		locator := &Locator{
			ListPorts: func() ([]*enumerator.PortDetails, error) {
				polls++
				if polls == 2 {
					return []*enumerator.PortDetails{appPort("/dev/ttyACM0")}, nil
				}
				return nil, nil
			},
			FindDFU: func() (bool, string, error) {
				// Only after the trigger fired does the bootloader appear.
				return len(triggered) > 0 && polls >= 3, "5737333034", nil
			},
			Trigger: func(port string) error {
				triggered = append(triggered, port)
				return nil
			},
			Interval: time.Millisecond,
			Settle:   time.Millisecond,
		}

		c.Convey("When the bootloader is awaited", func() {
			session, err := locator.AwaitDFU(context.Background(), time.Second)

			c.Convey("Then the touch fired once on the CDC port", func() {
				c.So(err, c.ShouldBeNil)
				c.So(triggered, c.ShouldResemble, []string{"/dev/ttyACM0"})
			})
			c.Convey("Then the session holds the bootloader identity", func() {
				c.So(session.Status.State, c.ShouldEqual, StateDFU)
				c.So(session.Status.USBSerial, c.ShouldEqual, "5737333034")
			})
		})
	})
}

func TestAwaitDFUSurvivesTriggerErrors(t *testing.T) {
	polls := 0
	locator := &Locator{
		ListPorts: func() ([]*enumerator.PortDetails, error) {
			polls++
			if polls == 1 {
				return []*enumerator.PortDetails{appPort("/dev/ttyACM0")}, nil
			}
			return nil, nil
		},
		FindDFU: func() (bool, string, error) { return polls >= 2, "", nil },
		Trigger: func(string) error {
			// The board rebooted before the open finished.
			return errors.New("open /dev/ttyACM0: no such file or directory")
		},
		Interval: time.Millisecond,
		Settle:   time.Millisecond,
	}
	session, err := locator.AwaitDFU(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Expected the wait to ride out the trigger error, got %v", err)
	}
	if session.Status.State != StateDFU {
		t.Errorf("Expected dfu mode, got %s", session.Status.State)
	}
}

func TestAwaitDFUTimeout(t *testing.T) {
	testCases := []struct {
		name      string
		lastState State
		expectMsg string
	}{
		{"board absent", StateAbsent, "no board found"},
		{"board stuck in application mode", StateApplication, "stayed in application mode"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			locator := &Locator{
				ListPorts: func() ([]*enumerator.PortDetails, error) {
					if tc.lastState == StateApplication {
						return []*enumerator.PortDetails{appPort("/dev/ttyACM0")}, nil
					}
					return nil, nil
				},
				FindDFU:  func() (bool, string, error) { return false, "", nil },
				Trigger:  func(string) error { return nil },
				Interval: time.Millisecond,
				Settle:   time.Millisecond,
			}
			_, err := locator.AwaitDFU(context.Background(), 20*time.Millisecond)
			var nferr *DeviceNotFoundError
			if !errors.As(err, &nferr) {
				t.Fatalf("Expected a DeviceNotFoundError, got %T: %v", err, err)
			}
			if nferr.LastState != tc.lastState {
				t.Errorf("Expected last state %s, got %s", tc.lastState, nferr.LastState)
			}
			if nferr.Want != StateDFU {
				t.Errorf("Expected the wanted state to be dfu, got %s", nferr.Want)
			}
			if msg := err.Error(); !strings.Contains(msg, tc.expectMsg) {
				t.Errorf("Expected %q in %q", tc.expectMsg, msg)
			}
		})
	}
}

func TestAwaitHonorsCancellation(t *testing.T) {
	locator := &Locator{
		ListPorts: func() ([]*enumerator.PortDetails, error) { return nil, nil },
		FindDFU:   func() (bool, string, error) { return false, "", nil },
		Interval:  time.Minute,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := locator.AwaitDFU(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestAwaitApplication(t *testing.T) {
	polls := 0
	locator := &Locator{
		ListPorts: func() ([]*enumerator.PortDetails, error) {
			polls++
			if polls >= 3 {
				return []*enumerator.PortDetails{appPort("/dev/ttyACM1")}, nil
			}
			return nil, nil
		},
		FindDFU:  func() (bool, string, error) { return polls < 3, "", nil },
		Interval: time.Millisecond,
	}
	status, err := locator.AwaitApplication(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Expected the application port to come back, got %v", err)
	}
	if status.Port != "/dev/ttyACM1" {
		t.Errorf("Expected /dev/ttyACM1, got %q", status.Port)
	}
}

func TestMatchesID(t *testing.T) {
	testCases := []struct {
		hex      string
		want     uint16
		expected bool
	}{
		{"2341", 0x2341, true},
		{"0266", 0x0266, true},
		{"2E8A", 0x2e8a, true},
		{"2e8a", 0x2e8a, true},
		{"0403", 0x2341, false},
		{"", 0x2341, false},
		{"xyz", 0x2341, false},
	}
	for _, tc := range testCases {
		if got := matchesID(tc.hex, tc.want); got != tc.expected {
			t.Errorf("matchesID(%q, %#x): expected %v, got %v", tc.hex, tc.want, tc.expected, got)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateAbsent.String() != "absent" || StateApplication.String() != "application" || StateDFU.String() != "dfu" {
		t.Errorf("Expected absent/application/dfu, got %s/%s/%s", StateAbsent, StateApplication, StateDFU)
	}
}
