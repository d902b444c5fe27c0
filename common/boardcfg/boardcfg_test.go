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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolve(t *testing.T) {
	for i, c := range []struct {
		fqbn   string
		family BoardFamily
		fail   bool
	}{
		{fqbn: "arduino:renesas_uno:minima", family: FamilyRenesasMinima},
		{fqbn: "arduino:renesas_uno:unor4wifi", family: FamilyRenesasWiFi},
		{fqbn: "arduino:samd:mkrwifi1010", family: FamilySAMD},
		{fqbn: "adafruit:samd:adafruit_feather_m0", family: FamilySAMD},
		{fqbn: "esp32:esp32:esp32:UploadSpeed=921600", family: FamilyESP32},
		{fqbn: "esp8266:esp8266:nodemcuv2", family: FamilyESP8266},
		{fqbn: "arduino:avr:uno", fail: true},
		{fqbn: "arduino:samd", fail: true},
		{fqbn: "arduino::uno", fail: true},
	} {
		b, err := Resolve(c.fqbn)
		if c.fail {
			if err == nil {
				t.Errorf("%d: %s: expected failure, got %s", i, c.fqbn, b)
			}
			continue
		}
		if err != nil {
			t.Errorf("%d: %s: %s", i, c.fqbn, err)
			continue
		}
		if b.Family != c.family {
			t.Errorf("%d: %s: got %s, want %s", i, c.fqbn, b.Family, c.family)
		}
	}
}

func TestParseFQBNOptions(t *testing.T) {
	f, err := ParseFQBN("esp32:esp32:esp32:UploadSpeed=921600,FlashMode=dio")
	if err != nil {
		t.Fatal(err)
	}
	if f.Options["UploadSpeed"] != "921600" || f.Options["FlashMode"] != "dio" {
		t.Errorf("got options %v", f.Options)
	}
	if got, want := f.String(), "esp32:esp32:esp32:FlashMode=dio,UploadSpeed=921600"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}
	if _, err := ParseFQBN("a:b:c:novalue"); err == nil {
		t.Errorf("expected an error for an option without value")
	}
}

func TestFamilyProtocol(t *testing.T) {
	for _, f := range Families() {
		if f.Protocol() == ProtocolNone {
			t.Errorf("%s has no protocol", f)
		}
		pf, err := ParseFamily(f.String())
		if err != nil || pf != f {
			t.Errorf("ParseFamily(%q) = %s, %v", f.String(), pf, err)
		}
	}
	if FamilyRenesasWiFi.Protocol() != ProtocolBOSSA || FamilyESP32.Protocol() != ProtocolESPTool {
		t.Errorf("wrong protocol mapping")
	}
}

func TestDefaultsValid(t *testing.T) {
	for f, p := range Defaults() {
		if err := p.Validate(f); err != nil {
			t.Errorf("%s: %s", f, err)
		}
	}
}

func TestDefaultsAreCopies(t *testing.T) {
	d1 := Defaults()
	d1[FamilySAMD].FallbackBaudRates[0] = 1
	d1[FamilyRenesasWiFi].Applet.Registers[0].Value = 42
	d2 := Defaults()
	if d2[FamilySAMD].FallbackBaudRates[0] == 1 || d2[FamilyRenesasWiFi].Applet.Registers[0].Value == 42 {
		t.Errorf("defaults share state between calls")
	}
	p, _ := d2.Get(FamilyRenesasWiFi)
	p.BootloaderPIDs[0] = 0
	if d2[FamilyRenesasWiFi].BootloaderPIDs[0] == 0 {
		t.Errorf("Get does not return a copy")
	}
}

func TestApply(t *testing.T) {
	pp := Defaults()
	err := pp.Apply([]byte(`
renesas_uno_wifi:
  inter_chunk_delay: 100ms
  commit_settle: 2s
  fallback_baud_rates: [115200]
esp32:
  flash_offset: 0x1000
`))
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	w := pp[FamilyRenesasWiFi]
	if w.InterChunkDelay != 100*time.Millisecond || w.CommitSettle != 2*time.Second {
		t.Errorf("durations not applied: %v %v", w.InterChunkDelay, w.CommitSettle)
	}
	if len(w.FallbackBaudRates) != 1 || w.FallbackBaudRates[0] != 115200 {
		t.Errorf("got fallback rates %v", w.FallbackBaudRates)
	}
	if w.ChunkSize != 4096 || w.Applet == nil {
		t.Errorf("unrelated fields were reset: %+v", w)
	}
	if pp[FamilyESP32].FlashOffset != 0x1000 {
		t.Errorf("got esp32 offset 0x%x", pp[FamilyESP32].FlashOffset)
	}

	for i, bad := range []string{
		"avr:\n  chunk_size: 128\n",
		"samd:\n  chunk_sise: 128\n",
		"samd:\n  chunk_size: 16384\n",
		"renesas_uno_wifi:\n  applet:\n    offset: 0\n    code: \"00\"\n",
	} {
		if err := Defaults().Apply([]byte(bad)); err == nil {
			t.Errorf("%d: expected an error for %q", i, bad)
		}
	}
}

func TestLoadProfiles(t *testing.T) {
	dir, err := ioutil.TempDir("", "boardcfg")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	fname := filepath.Join(dir, "boards.yaml")
	ioutil.WriteFile(fname, []byte("samd:\n  chunk_size: 2048\n"), 0644)

	pp, err := LoadProfiles(fname)
	if err != nil {
		t.Fatal(err)
	}
	if pp[FamilySAMD].ChunkSize != 2048 {
		t.Errorf("got chunk size %d", pp[FamilySAMD].ChunkSize)
	}
	if _, err := LoadProfiles(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Errorf("expected an error for a missing file")
	}
	if pp, err := LoadProfiles(""); err != nil || pp[FamilySAMD].ChunkSize != 4096 {
		t.Errorf("empty path must yield defaults")
	}
}

func TestIsBootloaderPID(t *testing.T) {
	p := Defaults()[FamilyRenesasMinima]
	if !p.IsBootloaderPID(0x2341, 0x0369) {
		t.Errorf("0x0369 must be a bootloader PID")
	}
	if p.IsBootloaderPID(0x2341, 0x0069) {
		t.Errorf("0x0069 is the application PID")
	}
	if p.IsBootloaderPID(0x1234, 0x0369) {
		t.Errorf("vendor must match")
	}
}

func TestCheckBootloaderVersion(t *testing.T) {
	p := &Profile{MinBootloaderVersion: "2.0"}
	for i, c := range []struct {
		v    string
		warn bool
	}{
		{"Arduino Bootloader (SAM-BA extended) 2.0 [Arduino:IKXYZ]", false},
		{"Arduino Bootloader (SAM-BA extended) 1.9.1", true},
		{"v2.1.3", false},
		{"no version here", false},
		{"", false},
	} {
		if got := p.CheckBootloaderVersion(c.v) != ""; got != c.warn {
			t.Errorf("%d: %q: got warning %t, want %t", i, c.v, got, c.warn)
		}
	}
	if (&Profile{}).CheckBootloaderVersion("0.1") != "" {
		t.Errorf("no minimum version must never warn")
	}
}
