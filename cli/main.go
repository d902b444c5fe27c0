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

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/bootflash/cli/flags"
	"github.com/mongoose-os/bootflash/common/pflagenv"
	"github.com/mongoose-os/bootflash/version"
)

const (
	envPrefix = "BOOTFLASH_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var (
	// put all commands here
	commands = []command{
		{"flash", flash, `Flash firmware to the board`, []string{"fqbn", "firmware"}, []string{"port", "offset", "boards-config", "inverted-control-lines", "no-reset", "yes", "timeout"}},
		{"prepare", prepare, `Put the board into bootloader mode`, []string{"fqbn"}, []string{"port", "boards-config"}},
		{"probe", probeBoard, `Find the bootloader and print its baud rate and version`, []string{"fqbn"}, []string{"port", "boards-config", "inverted-control-lines", "no-reset", "yes", "timeout"}},
		{"ports", ports, `List serial ports`, []string{}, []string{"usb", "boards-config"}},
		{"boards", boards, `Print supported board families and their profiles`, []string{}, []string{"boards-config"}},
	}
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

func run() error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			// check required flags
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), *flags.Timeout)
			defer cancel()
			// run the handler
			if err := c.handler(ctx); err != nil {
				return errors.Trace(err)
			}
			return nil
		}
	}
	// not found
	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	if _, err := pflagenv.Parse(envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if *flags.Verbose {
		flag.Set("v", "1")
		flag.Set("logtostderr", "true")
	}

	if *helpFull {
		setFlagsHidden(false)
		usage()
		return
	} else if *versionFlag {
		fmt.Printf(
			"%s\nVersion: %s\nBuild ID: %s\n",
			"Serial bootloader flashing tool", version.Version, version.BuildId,
		)
		return
	}

	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
