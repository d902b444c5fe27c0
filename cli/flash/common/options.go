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
package common

import (
	"time"
)

// FlashOptions are per-upload knobs supplied by the caller.
type FlashOptions struct {
	// Offset overrides the flash offset taken from the image or the board profile.
	Offset *uint32
	// NoReset leaves the board in the bootloader after writing.
	NoReset bool
	// InvertedControlLines flips every DTR/RTS level.
	InvertedControlLines bool
}

// FlashOutcome describes a completed upload.
type FlashOutcome struct {
	Family            string
	BaudRate          uint
	BootloaderVersion string
	DeviceInfo        string
	ImageSize         int
	BytesWritten      int
	NumChunks         int
	FlashOffset       uint32
	Elapsed           time.Duration
	// Warnings are non-fatal problems, e.g. the board did not answer a ping after writing.
	Warnings []string
}

func (o *FlashOutcome) Warn(obs Observer, msg string) {
	obs.Warning(msg)
	o.Warnings = append(o.Warnings, msg)
}
