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
package devutil

import (
	"sort"
	"strconv"

	"github.com/albenik/go-serial/v2/enumerator"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flags"
	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/cli/ourutil"
)

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name    string
	IsUSB   bool
	ID      common.USBID
	Serial  string
	Product string
}

var defaultPort string

// GetPort returns the port given with --port, or picks one if it is "auto".
func GetPort() (string, error) {
	if *flags.Port != "auto" {
		return *flags.Port, nil
	}
	if defaultPort == "" {
		defaultPort = getDefaultPort()
		if defaultPort == "" {
			return "", errors.Errorf("--port not specified and none were found")
		}
		ourutil.Reportf("Using port %s", defaultPort)
	}
	return defaultPort, nil
}

// getDefaultPort prefers USB ports, they are what boards show up as.
func getDefaultPort() string {
	ports := EnumeratePorts()
	for _, p := range ports {
		if p.IsUSB {
			return p.Name
		}
	}
	if len(ports) > 0 {
		return ports[0].Name
	}
	return ""
}

// EnumeratePorts lists serial ports with USB details where the OS provides
// them. If detailed enumeration fails, a plain list of device names is used.
func EnumeratePorts() []PortInfo {
	var res []PortInfo
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		glog.Errorf("failed to enumerate ports: %s", err)
		for _, name := range enumerateSerialPorts() {
			res = append(res, PortInfo{Name: name})
		}
		return res
	}
	for _, p := range ports {
		pi := PortInfo{Name: p.Name, IsUSB: p.IsUSB, Serial: p.SerialNumber, Product: p.Product}
		if p.IsUSB {
			id, err := parseUSBID(p.VID, p.PID)
			if err != nil {
				glog.V(1).Infof("%s: %s", p.Name, err)
			}
			pi.ID = id
		}
		res = append(res, pi)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// LookupUSBID returns the VID:PID of the USB device behind a port.
func LookupUSBID(name string) (common.USBID, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return common.USBID{}, errors.Annotatef(err, "failed to enumerate ports")
	}
	for _, p := range ports {
		if p.Name != name {
			continue
		}
		if !p.IsUSB {
			return common.USBID{}, errors.Errorf("%s is not a USB port", name)
		}
		return parseUSBID(p.VID, p.PID)
	}
	return common.USBID{}, errors.Errorf("%s not found", name)
}

func parseUSBID(vid, pid string) (common.USBID, error) {
	v, err := strconv.ParseUint(vid, 16, 16)
	if err != nil {
		return common.USBID{}, errors.Annotatef(err, "invalid VID %q", vid)
	}
	p, err := strconv.ParseUint(pid, 16, 16)
	if err != nil {
		return common.USBID{}, errors.Annotatef(err, "invalid PID %q", pid)
	}
	return common.USBID{VID: uint16(v), PID: uint16(p)}, nil
}
