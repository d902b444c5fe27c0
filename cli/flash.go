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
package main

import (
	"context"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/devutil"
	"github.com/mongoose-os/bootflash/cli/flags"
	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/cli/flash/upload"
	"github.com/mongoose-os/bootflash/cli/ourutil"
	"github.com/mongoose-os/bootflash/common/boardcfg"
	"github.com/mongoose-os/bootflash/common/fwimage"
)

// target is everything a device command needs: the board, its engine and
// the locked port.
type target struct {
	board    boardcfg.Board
	strategy upload.Strategy
	port     *devutil.SerialTransport
}

func newTarget() (*target, error) {
	board, err := boardcfg.Resolve(*flags.FQBN)
	if err != nil {
		return nil, errors.Trace(err)
	}
	pp, err := boardcfg.LoadProfiles(*flags.BoardsConfig)
	if err != nil {
		return nil, errors.Trace(err)
	}
	p, err := pp.Get(board.Family)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var prompt common.UserPrompt = ourutil.NewConsolePrompt()
	if *flags.Yes {
		prompt = common.AutoPrompt(true)
	}
	s, err := upload.ForFamily(board.Family, p, common.GlogObserver{Prefix: board.Family.String()}, prompt)
	if err != nil {
		return nil, errors.Trace(err)
	}
	portName, err := devutil.GetPort()
	if err != nil {
		return nil, errors.Trace(err)
	}
	port := devutil.NewSerialTransport(portName)
	if err := port.Lock(); err != nil {
		return nil, errors.Trace(err)
	}
	glog.V(1).Infof("%s on %s", board, portName)
	return &target{board: board, strategy: s, port: port}, nil
}

func (tg *target) release() {
	if err := tg.port.Release(); err != nil {
		glog.Errorf("%s", err)
	}
}

func flashOptions() (common.FlashOptions, error) {
	offset, err := flags.Offset()
	if err != nil {
		return common.FlashOptions{}, errors.Trace(err)
	}
	return common.FlashOptions{
		Offset:               offset,
		NoReset:              *flags.NoReset,
		InvertedControlLines: *flags.InvertedControlLines,
	}, nil
}

func flash(ctx context.Context) error {
	opts, err := flashOptions()
	if err != nil {
		return errors.Trace(err)
	}
	fw, err := fwimage.Load(*flags.Firmware)
	if err != nil {
		return errors.Annotatef(err, "failed to load %s", *flags.Firmware)
	}
	if fw.HasAddr {
		ourutil.Reportf("Loaded %s, %d bytes @ 0x%x", fw.Name, fw.Len(), fw.Addr)
	} else {
		ourutil.Reportf("Loaded %s, %d bytes", fw.Name, fw.Len())
	}

	tg, err := newTarget()
	if err != nil {
		return errors.Trace(err)
	}
	defer tg.release()

	ourutil.Reportf("Flashing %s via %s", tg.board, tg.port.Name())
	pp := ourutil.NewProgressPrinter()
	out, err := upload.Upload(ctx, tg.strategy, tg.port, fw, pp.Report, tg.board, opts)
	if err != nil {
		return errors.Trace(explain(err))
	}
	for _, w := range out.Warnings {
		ourutil.Warnf("%s", w)
	}
	ourutil.Reportf("Wrote %d bytes (%d chunks) at 0x%x, %d baud, in %s",
		out.BytesWritten, out.NumChunks, out.FlashOffset, out.BaudRate, out.Elapsed.Round(time.Millisecond))
	if out.BootloaderVersion != "" {
		ourutil.Reportf("Bootloader: %s", strings.TrimSpace(out.BootloaderVersion))
	}
	return nil
}

func prepare(ctx context.Context) error {
	tg, err := newTarget()
	if err != nil {
		return errors.Trace(err)
	}
	defer tg.release()
	if err := tg.strategy.Prepare(ctx, tg.port, tg.board); err != nil {
		return errors.Trace(explain(err))
	}
	ourutil.Reportf("%s should now be in bootloader mode", tg.board)
	return nil
}

// explain prints a hint for failures the user can do something about.
func explain(err error) error {
	k, ok := common.KindOf(err)
	if !ok {
		return err
	}
	var hint string
	switch k {
	case common.KindNoResponse, common.KindManualInterventionRequired:
		hint = "double-press the reset button to enter the bootloader and try again"
	case common.KindWrongBaud:
		hint = "the port answers at an unexpected rate, check --fqbn"
	case common.KindSyncFailure:
		hint = "hold BOOT while pressing RESET, or try --inverted-control-lines"
	default:
		return err
	}
	ourutil.Warnf("%s: %s", k, hint)
	return err
}
