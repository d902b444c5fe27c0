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
	goflag "flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/bootflash/common/multierror"
	"github.com/mongoose-os/bootflash/version"
)

// glog registers these on the standard flag set.
var hiddenFlags = []string{
	"alsologtostderr",
	"log_backtrace_at",
	"log_dir",
	"logbufsecs",
	"logtostderr",
	"stderrthreshold",
	"v",
	"vmodule",
}

func initFlags() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	setFlagsHidden(true)
	flag.Usage = usage
}

func setFlagsHidden(hidden bool) {
	for _, name := range hiddenFlags {
		if f := flag.Lookup(name); f != nil {
			f.Hidden = hidden
		}
	}
}

// checkFlags reports every missing flag at once. A flag counts as given if
// it was set on the command line or from the environment, or has a default.
func checkFlags(names []string) error {
	var errs error
	for _, name := range names {
		f := flag.Lookup(name)
		switch {
		case f == nil:
			errs = multierror.Append(errs, errors.Errorf("--%s is required", name))
		case !f.Changed && f.Value.String() == "":
			errs = multierror.Append(errs, errors.Errorf("--%s is required\t\t%s", name, f.Usage))
		}
	}
	return errors.Trace(errs)
}

func printFlag(w io.Writer, name string, required bool) {
	f := flag.Lookup(name)
	if f == nil {
		return
	}
	arg := ""
	if t := f.Value.Type(); t != "bool" {
		arg = "<" + t + ">"
	}
	if required {
		fmt.Fprintf(w, "  --%s %s\t%s (required)\n", name, arg, f.Usage)
	} else {
		fmt.Fprintf(w, "  --%s %s\t%s, default %q\n", name, arg, f.Usage, f.DefValue)
	}
}

func commandUsage(w io.Writer, c command) {
	fmt.Fprintf(w, "%s\n\nUsage:\n  %s %s", c.short, os.Args[0], c.name)
	for _, name := range c.required {
		fmt.Fprintf(w, " --%s ...", name)
	}
	fmt.Fprintf(w, " [flags]\n\nFlags:\n")
	for _, name := range c.required {
		printFlag(w, name, true)
	}
	for _, name := range c.optional {
		printFlag(w, name, false)
	}
}

func usage() {
	w := tabwriter.NewWriter(os.Stderr, 0, 0, 1, ' ', 0)
	defer w.Flush()

	if flag.NArg() == 2 && flag.Arg(0) == "help" {
		for _, c := range commands {
			if c.name == flag.Arg(1) {
				commandUsage(w, c)
				return
			}
		}
	}

	color.New(color.FgGreen).Fprintf(w, "Serial bootloader flashing tool %s.\n", version.Version)
	fmt.Fprintf(w, "\nUsage:\n  %s <command> [flags]\n  %s help <command>\n", os.Args[0], os.Args[0])
	fmt.Fprintf(w, "\nCommands:\n")
	for _, c := range commands {
		var req []string
		for _, name := range c.required {
			req = append(req, "--"+name)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", c.name, strings.Join(req, " "), c.short)
	}

	fmt.Fprintf(w, "\nGlobal Flags:\n")
	if *helpFull {
		w.Flush()
		fmt.Fprint(os.Stderr, flag.CommandLine.FlagUsages())
		return
	}
	for _, name := range []string{"port", "timeout", "verbose", "helpfull"} {
		printFlag(w, name, false)
	}
}
