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
package flags

import (
	"strconv"
	"time"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

var (
	Port = flag.String("port", "auto", "Serial port where the device is connected. "+
		"If set to 'auto', ports on the system will be enumerated and the first USB one will be used.")
	FQBN         = flag.String("fqbn", "", "Fully qualified board name, e.g. arduino:renesas_uno:unor4wifi")
	Firmware     = flag.String("firmware", "", "Firmware file to flash, .bin or .hex")
	offset       = flag.String("offset", "", "Flash offset to write the firmware at. Overrides the address from a .hex file and the board default")
	BoardsConfig = flag.String("boards-config", "", "YAML file with board profile overrides")
	USB          = flag.Bool("usb", false, "Also list USB devices that are in bootloader mode")
	Timeout      = flag.Duration("timeout", 5*time.Minute, "Maximum time for the whole operation")
	Yes          = flag.Bool("yes", false, "Answer yes to all prompts, e.g. the manual bootloader reset prompt")
	Verbose      = flag.Bool("verbose", false, "Verbose output")

	InvertedControlLines = flag.Bool("inverted-control-lines", false, "DTR and RTS control lines use inverted polarity")
	NoReset              = flag.Bool("no-reset", false, "Leave the board in the bootloader after flashing")
)

// Offset returns the value of --offset, or nil if it was not given.
func Offset() (*uint32, error) {
	if *offset == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(*offset, 0, 32)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid --offset")
	}
	res := uint32(v)
	return &res, nil
}
