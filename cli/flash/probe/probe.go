//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Package probe discovers the baud rate a bootloader is listening on.
//
// Opening a UART at the wrong rate does not fail, it produces framing
// garbage. A no-op command is sent and the reply is classified by the share
// of printable bytes in it.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
)

const (
	// AsciiRatio is the minimum share of printable bytes in an Ascii sample.
	AsciiRatio = 0.70
	// GarbageBytes non-printable bytes are enough to call a sample Garbage.
	GarbageBytes = 4
)

type Verdict int

const (
	VerdictUndecided Verdict = iota
	VerdictAscii
	VerdictGarbage
)

func (v Verdict) String() string {
	switch v {
	case VerdictUndecided:
		return "undecided"
	case VerdictAscii:
		return "ascii"
	case VerdictGarbage:
		return "garbage"
	default:
		return fmt.Sprintf("???(%d)", int(v))
	}
}

func IsPrintable(b byte) bool {
	return (b >= 0x20 && b <= 0x7e) || b == '\r' || b == '\n'
}

// Classify looks at the bytes received so far.
func Classify(b []byte) Verdict {
	if len(b) == 0 {
		return VerdictUndecided
	}
	printable := 0
	for _, c := range b {
		if IsPrintable(c) {
			printable++
		}
	}
	if float64(printable)/float64(len(b)) >= AsciiRatio {
		return VerdictAscii
	}
	if len(b)-printable >= GarbageBytes {
		return VerdictGarbage
	}
	return VerdictUndecided
}

// ProbeResult is one of Ascii, Garbage or Timeout.
type ProbeResult interface {
	isProbeResult()
}

// Ascii means the bootloader answered at BaudRate. The port is left open.
type Ascii struct {
	Bytes    []byte
	BaudRate uint
}

// Garbage means something answered, most likely at a different rate.
type Garbage struct {
	Bytes []byte
}

// Timeout means nothing arrived at all.
type Timeout struct{}

func (Ascii) isProbeResult()   {}
func (Garbage) isProbeResult() {}
func (Timeout) isProbeResult() {}

// Prober sends Ping at a given rate and classifies the reply.
type Prober struct {
	T   common.Transport
	Obs common.Observer
	// Ping is a command the bootloader answers without side effects.
	Ping []byte
	// PortSettle is the delay between closing and reopening the port.
	PortSettle           time.Duration
	InvertedControlLines bool
}

func (p *Prober) Probe(ctx context.Context, baudRate uint, timeout time.Duration) (ProbeResult, error) {
	if err := common.Reopen(ctx, p.T, p.Obs, baudRate, p.PortSettle); err != nil {
		return nil, errors.Trace(err)
	}
	if err := common.SetSignals(p.T, p.Obs, p.InvertedControlLines, true, true); err != nil {
		return nil, errors.Annotatef(err, "failed to set signals")
	}
	if err := p.T.Flush(); err != nil {
		return nil, errors.Trace(err)
	}
	p.Obs.Command(fmt.Sprintf("probe @ %d", baudRate), p.Ping)
	if err := p.T.Write(ctx, p.Ping); err != nil {
		return nil, errors.Annotatef(err, "failed to send probe")
	}
	acc, _, err := common.ReadUntil(ctx, p.T, timeout, func(acc []byte) bool {
		return Classify(acc) != VerdictUndecided
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch {
	case len(acc) == 0:
		return Timeout{}, nil
	case Classify(acc) == VerdictAscii:
		return Ascii{Bytes: acc, BaudRate: baudRate}, nil
	default:
		return Garbage{Bytes: acc}, nil
	}
}
