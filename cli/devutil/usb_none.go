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
// +build no_libudev

package devutil

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/common/boardcfg"
)

type BootloaderDevice struct {
	Family boardcfg.BoardFamily
	ID     common.USBID
	Serial string
	Bus    int
	Addr   int
}

func (d BootloaderDevice) String() string {
	return fmt.Sprintf("%s %s", d.Family, d.ID)
}

func FindBootloaderDevices(pp boardcfg.Profiles) ([]BootloaderDevice, error) {
	return nil, errors.NotSupportedf("USB enumeration (built with no_libudev)")
}
