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
// +build !no_libudev

package devutil

import (
	"fmt"
	"sort"

	"github.com/golang/glog"
	"github.com/google/gousb"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/common/boardcfg"
)

// BootloaderDevice is a USB device that is currently running a bootloader.
type BootloaderDevice struct {
	Family boardcfg.BoardFamily
	ID     common.USBID
	Serial string
	Bus    int
	Addr   int
}

func (d BootloaderDevice) String() string {
	s := fmt.Sprintf("%s %s bus %d addr %d", d.Family, d.ID, d.Bus, d.Addr)
	if d.Serial != "" {
		s += " sn " + d.Serial
	}
	return s
}

// FindBootloaderDevices lists USB devices whose VID:PID is a bootloader ID of
// one of the profiles.
func FindBootloaderDevices(pp boardcfg.Profiles) ([]BootloaderDevice, error) {
	uctx := gousb.NewContext()
	defer uctx.Close()
	match := func(dd *gousb.DeviceDesc) (boardcfg.BoardFamily, bool) {
		for _, f := range boardcfg.Families() {
			p := pp[f]
			if p != nil && p.IsBootloaderPID(uint16(dd.Vendor), uint16(dd.Product)) {
				return f, true
			}
		}
		return 0, false
	}
	devs, err := uctx.OpenDevices(func(dd *gousb.DeviceDesc) bool {
		_, ok := match(dd)
		glog.V(1).Infof("Dev %+v match %t", dd, ok)
		return ok
	})
	// OpenDevices may fail overall but still return results. Only fail if no devices were returned.
	if err != nil && len(devs) == 0 {
		return nil, errors.Annotatef(err, "failed to enumerate USB devices")
	}
	var res []BootloaderDevice
	for _, dev := range devs {
		f, _ := match(dev.Desc)
		sn, _ := dev.SerialNumber()
		res = append(res, BootloaderDevice{
			Family: f,
			ID:     common.USBID{VID: uint16(dev.Desc.Vendor), PID: uint16(dev.Desc.Product)},
			Serial: sn,
			Bus:    dev.Desc.Bus,
			Addr:   dev.Desc.Address,
		})
		dev.Close()
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Bus != res[j].Bus {
			return res[i].Bus < res[j].Bus
		}
		return res[i].Addr < res[j].Addr
	})
	return res, nil
}
