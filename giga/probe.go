// Copyright (c) 2025 The gigaflash developers. All rights reserved.
// Project site: https://github.com/dacqlab/gigaflash
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package giga

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Console commands the application firmware answers on its CDC port.
const (
	cmdNOP    = "NOP"
	cmdIdent  = "*IDN?"
	cmdSerial = "SERIAL_NUMBER"
)

// maxConsoleLine caps one console reply.
const maxConsoleLine = 256

// ProbeReport holds what the application console answered.
type ProbeReport struct {
	Identity string
	Serial   string
}

// Probe opens the application console and checks that the firmware is
// alive: NOP must echo back, the identity and serial are collected, and
// when wantSerial is non-empty the reported serial must match it.
func Probe(port string, wantSerial string) (ProbeReport, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: ConsoleBaud})
	if err != nil {
		return ProbeReport{}, fmt.Errorf("opening console %s: %w", port, err)
	}
	defer p.Close()
	if err := p.SetReadTimeout(ProbeReadTimeout); err != nil {
		return ProbeReport{}, fmt.Errorf("setting console read timeout: %w", err)
	}
	// Drop any boot banner still sitting in the buffer.
	if err := p.ResetInputBuffer(); err != nil {
		return ProbeReport{}, fmt.Errorf("flushing console input: %w", err)
	}
	return probe(p, wantSerial)
}

// probe runs the verification sequence over any line-oriented console.
func probe(console io.ReadWriter, wantSerial string) (ProbeReport, error) {
	echo, err := exchange(console, cmdNOP)
	if err != nil {
		return ProbeReport{}, err
	}
	if echo != cmdNOP {
		return ProbeReport{}, fmt.Errorf("console answered %q to %s, want %q", echo, cmdNOP, cmdNOP)
	}
	var report ProbeReport
	if report.Identity, err = exchange(console, cmdIdent); err != nil {
		return report, err
	}
	if report.Serial, err = exchange(console, cmdSerial); err != nil {
		return report, err
	}
	logrus.Debugf("console identity %q, serial %q", report.Identity, report.Serial)
	if wantSerial != "" && report.Serial != wantSerial {
		return report, fmt.Errorf("device reports serial %q, want %q", report.Serial, wantSerial)
	}
	return report, nil
}

func exchange(console io.ReadWriter, cmd string) (string, error) {
	if _, err := console.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("sending %s: %w", cmd, err)
	}
	reply, err := readLine(console)
	if err != nil {
		return "", fmt.Errorf("reading the %s reply: %w", cmd, err)
	}
	return reply, nil
}

// readLine collects bytes up to a newline. A zero-byte read means the port
// hit its read timeout without data.
func readLine(r io.Reader) (string, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", fmt.Errorf("console read timed out (received %q)", string(line))
		}
		if buf[0] == '\n' {
			return strings.TrimRight(string(line), "\r"), nil
		}
		line = append(line, buf[0])
		if len(line) > maxConsoleLine {
			return "", fmt.Errorf("console reply exceeds %d bytes", maxConsoleLine)
		}
	}
}
