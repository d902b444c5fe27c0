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
package boardcfg

import (
	"encoding/hex"
	"io/ioutil"
	"regexp"
	"time"

	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"
	yaml "gopkg.in/yaml.v2"
)

// Profile holds per-family protocol tuning. Most delays here were measured on
// real boards rather than taken from documentation, so all of them can be
// overridden from a profile file.
type Profile struct {
	// Write granularity of the bootloader, bytes. Firmware is padded to it.
	ChunkSize int `yaml:"chunk_size"`

	// Baud rate detection.
	PrimaryBaudRate      uint          `yaml:"primary_baud_rate"`
	FallbackBaudRates    []uint        `yaml:"fallback_baud_rates,flow"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`
	FallbackProbeTimeout time.Duration `yaml:"fallback_probe_timeout"`
	VersionTimeout       time.Duration `yaml:"version_timeout"`
	// Pause after closing the port before it is reopened.
	PortSettle time.Duration `yaml:"port_settle"`

	// Bootloader entry (1200-baud touch).
	VendorID       uint16        `yaml:"vendor_id"`
	BootloaderPIDs []uint16      `yaml:"bootloader_pids,flow"`
	TouchBaudRate  uint          `yaml:"touch_baud_rate"`
	TouchSettle    time.Duration `yaml:"touch_settle"`

	// Acknowledgements and settle times.
	AckTimeout      time.Duration `yaml:"ack_timeout"`
	EraseTimeout    time.Duration `yaml:"erase_timeout"`
	CommitTimeout   time.Duration `yaml:"commit_timeout"`
	InterChunkDelay time.Duration `yaml:"inter_chunk_delay"`
	FinalChunkDelay time.Duration `yaml:"final_chunk_delay"`
	CommitSettle    time.Duration `yaml:"commit_settle"`

	// Addressing. FlashBase is added by the bootloader itself and is only
	// used for logging physical addresses.
	FlashBase    uint32 `yaml:"flash_base"`
	FlashOffset  uint32 `yaml:"flash_offset"`
	BufferOffset uint32 `yaml:"buffer_offset"`
	BufferSize   uint32 `yaml:"buffer_size"`

	VerifyCRC            bool    `yaml:"verify_crc"`
	MinBootloaderVersion string  `yaml:"min_bootloader_version,omitempty"`
	Applet               *Applet `yaml:"applet,omitempty"`

	// ESP ROM loader.
	SyncAttempts      int           `yaml:"sync_attempts,omitempty"`
	ResetHold         time.Duration `yaml:"reset_hold,omitempty"`
	BootHold          time.Duration `yaml:"boot_hold,omitempty"`
	EraseTimeoutPerMB time.Duration `yaml:"erase_timeout_per_mb,omitempty"`
	FlashBeginSettle  time.Duration `yaml:"flash_begin_settle,omitempty"`
	StatusLen         int           `yaml:"status_len,omitempty"`
	SPIAttach         bool          `yaml:"spi_attach,omitempty"`
}

// Applet is a helper blob that some bootloaders need in their staging buffer,
// together with register writes, before they accept erase and write commands.
type Applet struct {
	// Offset within the staging buffer.
	Offset uint32 `yaml:"offset"`
	// Code is hex-encoded.
	Code      string     `yaml:"code"`
	Registers []RegWrite `yaml:"registers"`
}

type RegWrite struct {
	Addr  uint32 `yaml:"addr"`
	Value uint32 `yaml:"value"`
}

func (a *Applet) CodeBytes() ([]byte, error) {
	b, err := hex.DecodeString(a.Code)
	if err != nil {
		return nil, errors.Annotatef(err, "invalid applet code")
	}
	return b, nil
}

type Profiles map[BoardFamily]*Profile

var (
	bossaBase = Profile{
		ChunkSize:            4096,
		PrimaryBaudRate:      921600,
		FallbackBaudRates:    []uint{230400, 115200, 57600, 19200, 9600},
		ProbeTimeout:         1500 * time.Millisecond,
		FallbackProbeTimeout: 300 * time.Millisecond,
		VersionTimeout:       1000 * time.Millisecond,
		PortSettle:           100 * time.Millisecond,
		VendorID:             0x2341,
		TouchBaudRate:        1200,
		TouchSettle:          500 * time.Millisecond,
		AckTimeout:           1 * time.Second,
		EraseTimeout:         30 * time.Second,
		CommitTimeout:        5 * time.Second,
		InterChunkDelay:      250 * time.Millisecond,
		FinalChunkDelay:      1000 * time.Millisecond,
		CommitSettle:         10 * time.Second,
		BufferOffset:         0,
		BufferSize:           8192,
	}

	espBase = Profile{
		ChunkSize:         0x400,
		PrimaryBaudRate:   115200,
		ProbeTimeout:      100 * time.Millisecond,
		PortSettle:        100 * time.Millisecond,
		AckTimeout:        3 * time.Second,
		EraseTimeout:      3 * time.Second,
		EraseTimeoutPerMB: 30 * time.Second,
		FlashBeginSettle:  100 * time.Millisecond,
		SyncAttempts:      7,
		ResetHold:         100 * time.Millisecond,
		BootHold:          50 * time.Millisecond,
	}

	regexpVersionNumber = regexp.MustCompile(`\d+(\.\d+)+`)
)

// Defaults returns a fresh copy of the compiled-in profiles.
func Defaults() Profiles {
	samd := bossaBase.Clone()
	samd.FlashBase = 0x2000
	samd.BootloaderPIDs = []uint16{0x004d, 0x004e, 0x004f, 0x0050, 0x0053, 0x0054, 0x0057}

	minima := bossaBase.Clone()
	minima.FlashBase = 0x4000
	minima.BootloaderPIDs = []uint16{0x0369}
	minima.MinBootloaderVersion = "2.0"

	wifi := minima.Clone()
	wifi.BootloaderPIDs = []uint16{0x006d}
	wifi.Applet = &Applet{
		Offset: 0x1000,
		// Entry stub for the flash sequencer: mov r0, #0; bx lr.
		Code: "4ff000007047",
		Registers: []RegWrite{
			{Addr: 0x20007f00, Value: 0x00001000},
			{Addr: 0x20007f04, Value: 0x00000001},
		},
	}

	esp8266 := espBase.Clone()
	esp8266.StatusLen = 2

	esp32 := espBase.Clone()
	esp32.StatusLen = 4
	esp32.SPIAttach = true
	esp32.FlashOffset = 0x10000

	return Profiles{
		FamilySAMD:          samd,
		FamilyRenesasMinima: minima,
		FamilyRenesasWiFi:   wifi,
		FamilyESP8266:       esp8266,
		FamilyESP32:         esp32,
	}
}

func (p Profile) Clone() *Profile {
	c := p
	c.FallbackBaudRates = append([]uint(nil), p.FallbackBaudRates...)
	c.BootloaderPIDs = append([]uint16(nil), p.BootloaderPIDs...)
	if p.Applet != nil {
		a := *p.Applet
		a.Registers = append([]RegWrite(nil), p.Applet.Registers...)
		c.Applet = &a
	}
	return &c
}

// Get returns a copy of the family's profile.
func (pp Profiles) Get(f BoardFamily) (*Profile, error) {
	p, ok := pp[f]
	if !ok {
		return nil, errors.Errorf("no profile for board family %s", f)
	}
	return p.Clone(), nil
}

// LoadProfiles returns the default profiles with overrides from the YAML file
// at path applied. The file maps family names to partial profiles:
//
//	renesas_uno_wifi:
//	  inter_chunk_delay: 100ms
//	  commit_settle: 5s
func LoadProfiles(path string) (Profiles, error) {
	pp := Defaults()
	if path == "" {
		return pp, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read board profiles")
	}
	if err := pp.Apply(data); err != nil {
		return nil, errors.Annotatef(err, "%s", path)
	}
	return pp, nil
}

// Apply merges YAML overrides into pp. Fields not mentioned keep their values.
func (pp Profiles) Apply(data []byte) error {
	var overrides map[string]interface{}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return errors.Annotatef(err, "invalid profile file")
	}
	for name, ov := range overrides {
		fam, err := ParseFamily(name)
		if err != nil {
			return errors.Trace(err)
		}
		ovData, err := yaml.Marshal(ov)
		if err != nil {
			return errors.Trace(err)
		}
		p := pp[fam].Clone()
		if err := yaml.UnmarshalStrict(ovData, p); err != nil {
			return errors.Annotatef(err, "%s", name)
		}
		if err := p.Validate(fam); err != nil {
			return errors.Annotatef(err, "%s", name)
		}
		pp[fam] = p
	}
	return nil
}

func (p *Profile) Validate(f BoardFamily) error {
	if p.ChunkSize <= 0 {
		return errors.Errorf("chunk_size must be positive, got %d", p.ChunkSize)
	}
	if p.PrimaryBaudRate == 0 {
		return errors.Errorf("primary_baud_rate is not set")
	}
	if f.Protocol() != ProtocolBOSSA {
		return nil
	}
	if p.BufferSize > 0 && p.BufferOffset+uint32(p.ChunkSize) > p.BufferSize {
		return errors.Errorf("chunk of %d @ 0x%x does not fit in the %d byte staging buffer",
			p.ChunkSize, p.BufferOffset, p.BufferSize)
	}
	if p.Applet != nil {
		code, err := p.Applet.CodeBytes()
		if err != nil {
			return errors.Trace(err)
		}
		aBegin, aEnd := p.Applet.Offset, p.Applet.Offset+uint32(len(code))
		cBegin, cEnd := p.BufferOffset, p.BufferOffset+uint32(p.ChunkSize)
		if aBegin < cEnd && cBegin < aEnd {
			return errors.Errorf("applet (0x%x-0x%x) overlaps the chunk staging area (0x%x-0x%x)",
				aBegin, aEnd, cBegin, cEnd)
		}
		if p.BufferSize > 0 && aEnd > p.BufferSize {
			return errors.Errorf("applet does not fit in the staging buffer")
		}
	}
	return nil
}

// IsBootloaderPID tells whether a device with this USB ID is already running
// the bootloader.
func (p *Profile) IsBootloaderPID(vid, pid uint16) bool {
	if p.VendorID != 0 && vid != p.VendorID {
		return false
	}
	for _, bp := range p.BootloaderPIDs {
		if bp == pid {
			return true
		}
	}
	return false
}

// CheckBootloaderVersion returns a warning if the version reported by the
// bootloader is older than MinBootloaderVersion. Version strings without a
// recognizable number are not judged.
func (p *Profile) CheckBootloaderVersion(versionStr string) string {
	if p.MinBootloaderVersion == "" {
		return ""
	}
	v := regexpVersionNumber.FindString(versionStr)
	if v == "" {
		return ""
	}
	if goversion.Compare(goversion.Normalize(v), goversion.Normalize(p.MinBootloaderVersion), "<") {
		return "bootloader version " + v + " is older than " + p.MinBootloaderVersion + ", consider updating it"
	}
	return ""
}
