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
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
)

const ManualResetMessage = "Could not talk to the bootloader. Double-tap the reset button on the board, then continue."

// Detection is the outcome of a successful detection run. The port is left
// open at BaudRate.
type Detection struct {
	BaudRate uint
	Reply    []byte
	Version  string
	Info     string
	// Tried lists the rates probed, in order.
	Tried []uint
	// Manual is set if detection only succeeded after the user reset the board.
	Manual bool
}

// Detector runs the full detection algorithm: primary rate, fallback scan,
// manual reset and the version handshake.
type Detector struct {
	Prober *Prober

	PrimaryBaudRate   uint
	FallbackBaudRates []uint
	ProbeTimeout      time.Duration
	// FallbackProbeTimeout is only long enough to tell Ascii from Garbage.
	FallbackProbeTimeout time.Duration

	// Prompt is asked to get the board into the bootloader by hand when
	// the fallback scan fails. Without it, that failure is final.
	Prompt common.UserPrompt

	// Handshake, if set, fetches version and info strings once a rate is
	// found. Either of them may be empty.
	Handshake func(ctx context.Context) (version, info string, err error)
}

func (d *Detector) Detect(ctx context.Context) (*Detection, error) {
	det := &Detection{}
	start := time.Now()
	d.Prober.Obs.Section("baud rate detection")

	res, err := d.probe(ctx, det, d.PrimaryBaudRate, d.ProbeTimeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch r := res.(type) {
	case Ascii:
		return d.handshake(ctx, det, r)
	case Timeout:
		return nil, common.NewError(common.KindNoResponse, fmt.Sprintf("probe @ %d", d.PrimaryBaudRate), time.Since(start), nil,
			"device is likely not in bootloader mode")
	}

	for _, rate := range d.FallbackBaudRates {
		res, err := d.probe(ctx, det, rate, d.FallbackProbeTimeout)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if r, ok := res.(Ascii); ok {
			return d.handshake(ctx, det, r)
		}
	}

	if d.Prompt == nil {
		return nil, common.NewError(common.KindManualInterventionRequired, fmt.Sprintf("probe @ %v", det.Tried), time.Since(start), nil,
			"no rate produced a readable reply, reset the board into the bootloader by hand")
	}
	// The port stays open while the user is busy with the board.
	ok, err := d.Prompt.Confirm(ctx, ManualResetMessage)
	if err != nil {
		return nil, errors.Annotatef(err, "prompt failed")
	}
	if !ok {
		return nil, common.NewError(common.KindUserCancelled, "", time.Since(start), nil, "manual reset declined")
	}
	det.Manual = true
	retryStart := time.Now()
	res, err = d.probe(ctx, det, d.PrimaryBaudRate, d.ProbeTimeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	op := fmt.Sprintf("probe @ %d", d.PrimaryBaudRate)
	switch r := res.(type) {
	case Ascii:
		return d.handshake(ctx, det, r)
	case Garbage:
		return nil, common.NewError(common.KindWrongBaud, op, time.Since(retryStart), r.Bytes,
			"still no readable reply after manual reset")
	default:
		return nil, common.NewError(common.KindNoResponse, op, time.Since(retryStart), nil,
			"no reply after manual reset")
	}
}

func (d *Detector) probe(ctx context.Context, det *Detection, rate uint, timeout time.Duration) (ProbeResult, error) {
	det.Tried = append(det.Tried, rate)
	res, err := d.Prober.Probe(ctx, rate, timeout)
	if err != nil {
		return nil, errors.Annotatef(err, "probe @ %d", rate)
	}
	switch r := res.(type) {
	case Ascii:
		glog.V(1).Infof("%d: ascii %s", rate, common.LimitStr(r.Bytes, 16))
	case Garbage:
		glog.V(1).Infof("%d: garbage %s", rate, common.LimitStr(r.Bytes, 16))
	case Timeout:
		glog.V(1).Infof("%d: timeout", rate)
	}
	return res, nil
}

func (d *Detector) handshake(ctx context.Context, det *Detection, r Ascii) (*Detection, error) {
	det.BaudRate = r.BaudRate
	det.Reply = r.Bytes
	if d.Handshake == nil {
		return det, nil
	}
	version, info, err := d.Handshake(ctx)
	if err != nil {
		return nil, errors.Annotatef(err, "handshake @ %d", r.BaudRate)
	}
	det.Version, det.Info = version, info
	return det, nil
}
