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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/mongoose-os/bootflash/cli/devutil"
	"github.com/mongoose-os/bootflash/cli/flags"
	"github.com/mongoose-os/bootflash/cli/flash/upload"
	"github.com/mongoose-os/bootflash/cli/ourutil"
	"github.com/mongoose-os/bootflash/common/boardcfg"
)

func probeBoard(ctx context.Context) error {
	opts, err := flashOptions()
	if err != nil {
		return errors.Trace(err)
	}
	tg, err := newTarget()
	if err != nil {
		return errors.Trace(err)
	}
	defer tg.release()
	det, err := upload.Identify(ctx, tg.strategy, tg.port, tg.board, opts)
	if err != nil {
		return errors.Trace(explain(err))
	}
	ourutil.Reportf("Port:      %s", tg.port.Name())
	ourutil.Reportf("Baud rate: %d", det.BaudRate)
	ourutil.Reportf("Version:   %s", det.Version)
	if det.Info != "" {
		ourutil.Reportf("Info:      %s", det.Info)
	}
	if det.Manual {
		ourutil.Warnf("bootloader was entered manually")
	}
	return nil
}

func ports(ctx context.Context) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, p := range devutil.EnumeratePorts() {
		if p.IsUSB {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.ID, p.Product, p.Serial)
		} else {
			fmt.Fprintf(w, "%s\t\t\t\n", p.Name)
		}
	}
	w.Flush()
	if !*flags.USB {
		return nil
	}
	pp, err := boardcfg.LoadProfiles(*flags.BoardsConfig)
	if err != nil {
		return errors.Trace(err)
	}
	devs, err := devutil.FindBootloaderDevices(pp)
	if err != nil {
		return errors.Trace(err)
	}
	if len(devs) == 0 {
		ourutil.Reportf("No USB devices in bootloader mode")
		return nil
	}
	for _, d := range devs {
		color.New(color.FgGreen).Printf("%s\n", d)
	}
	return nil
}

func boards(ctx context.Context) error {
	pp, err := boardcfg.LoadProfiles(*flags.BoardsConfig)
	if err != nil {
		return errors.Trace(err)
	}
	out := make(map[string]*boardcfg.Profile)
	for _, f := range boardcfg.Families() {
		if p, ok := pp[f]; ok {
			out[f.String()] = p
		}
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return errors.Trace(err)
	}
	os.Stdout.Write(data)
	return nil
}
