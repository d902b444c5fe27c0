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
// Package esp flashes ESP8266 and ESP32 chips through the ROM serial loader.
package esp

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/common/boardcfg"
)

type ChipType int

const (
	ChipESP8266 ChipType = iota
	ChipESP32
)

const (
	flashSectorSize   = 0x1000
	espImageMagicByte = 0xe9
)

func (ct ChipType) String() string {
	switch ct {
	case ChipESP8266:
		return "ESP8266"
	case ChipESP32:
		return "ESP32"
	default:
		return fmt.Sprintf("???(%d)", ct)
	}
}

func ChipForFamily(f boardcfg.BoardFamily) (ChipType, error) {
	switch f {
	case boardcfg.FamilyESP8266:
		return ChipESP8266, nil
	case boardcfg.FamilyESP32:
		return ChipESP32, nil
	default:
		return 0, errors.Errorf("%s is not an ESP board family", f)
	}
}

// bootloaderAddr is where the second stage bootloader image lives.
func (ct ChipType) bootloaderAddr() uint32 {
	if ct == ChipESP32 {
		return 0x1000
	}
	return 0
}

func sanityCheckImage(ct ChipType, addr uint32, data []byte) error {
	if addr%flashSectorSize != 0 {
		return errors.Errorf("image starting address (0x%x) is not on flash sector boundary (sector size %d)",
			addr, flashSectorSize)
	}
	if addr == ct.bootloaderAddr() && len(data) > 0 && data[0] != espImageMagicByte {
		return errors.Errorf("invalid magic byte in the boot loader image: 0x%02x", data[0])
	}
	return nil
}
