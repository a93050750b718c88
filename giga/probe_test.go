// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package giga

import (
	"bytes"
	"strings"
	"testing"

	c "github.com/smartystreets/goconvey/convey"
)

// scriptConsole plays the application firmware's half of the console
// dialogue. A read with nothing pending returns 0 bytes, the way a serial
// port reports its read timeout.
type scriptConsole struct {
	replies map[string]string
	sent    []string
	pending []byte
}

func (s *scriptConsole) Write(p []byte) (int, error) {
	cmd := strings.TrimSuffix(string(p), "\r\n")
	s.sent = append(s.sent, cmd)
	if reply, ok := s.replies[cmd]; ok {
		s.pending = append(s.pending, []byte(reply+"\r\n")...)
	}
	return len(p), nil
}

func (s *scriptConsole) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		return 0, nil
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func TestProbe(t *testing.T) {
	c.Convey("Given a freshly flashed board on its console", t, func() {
		console := &scriptConsole{replies: map[string]string{
			"NOP":           "NOP",
			"*IDN?":         "GIGA DAC/ADC,rev B,fw 2.3",
			"SERIAL_NUMBER": "DA_2025_A1B",
		}}

		c.Convey("When the probe expects the embedded serial", func() {
			report, err := probe(console, "DA_2025_A1B")

			c.Convey("Then the full dialogue runs in order", func() {
				c.So(err, c.ShouldBeNil)
				c.So(console.sent, c.ShouldResemble, []string{"NOP", "*IDN?", "SERIAL_NUMBER"})
			})
			c.Convey("Then the report holds identity and serial", func() {
				c.So(report.Identity, c.ShouldEqual, "GIGA DAC/ADC,rev B,fw 2.3")
				c.So(report.Serial, c.ShouldEqual, "DA_2025_A1B")
			})
		})

		c.Convey("When the board reports a different serial", func() {
			_, err := probe(console, "DA_2025_XXX")

			c.Convey("Then the mismatch is an error", func() {
				c.So(err, c.ShouldNotBeNil)
				c.So(err.Error(), c.ShouldContainSubstring, `want "DA_2025_XXX"`)
			})
		})

		c.Convey("When no serial is expected", func() {
			report, err := probe(console, "")

			c.Convey("Then the reported serial is only collected", func() {
				c.So(err, c.ShouldBeNil)
				c.So(report.Serial, c.ShouldEqual, "DA_2025_A1B")
			})
		})
	})
}

func TestProbeRejectsBadEcho(t *testing.T) {
	console := &scriptConsole{replies: map[string]string{"NOP": "ERR unknown command"}}
	_, err := probe(console, "")
	if err == nil || !strings.Contains(err.Error(), "answered") {
		t.Fatalf("Expected a bad-echo error, got %v", err)
	}
}

func TestProbeTimesOutOnSilence(t *testing.T) {
	console := &scriptConsole{replies: map[string]string{}}
	_, err := probe(console, "")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("Expected a timeout error, got %v", err)
	}
}

func TestReadLine(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{"bare newline terminator", "NOP\n", "NOP", true},
		{"crlf terminator", "NOP\r\n", "NOP", true},
		{"timeout mid-line", "NO", "", false},
		{"empty line", "\n", "", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			console := &scriptConsole{pending: []byte(tc.input)}
			line, err := readLine(console)
			if tc.ok {
				if err != nil {
					t.Fatalf("Expected %q, got error %v", tc.expected, err)
				}
				if line != tc.expected {
					t.Errorf("Expected %q, got %q", tc.expected, line)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected an error, got %q", line)
			}
		})
	}
}

func TestReadLineCapsLength(t *testing.T) {
	console := &scriptConsole{pending: bytes.Repeat([]byte{'x'}, maxConsoleLine+2)}
	_, err := readLine(console)
	if err == nil || !strings.Contains(err.Error(), "exceeds") {
		t.Fatalf("Expected a length error, got %v", err)
	}
}
