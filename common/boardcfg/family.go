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
	"fmt"
	"sort"
	"strings"

	"github.com/juju/errors"
)

type BoardFamily int

const (
	FamilyUnknown BoardFamily = iota
	FamilySAMD
	FamilyRenesasMinima
	FamilyRenesasWiFi
	FamilyESP8266
	FamilyESP32
)

// Protocol is the bootloader protocol spoken by a family.
type Protocol int

const (
	ProtocolNone Protocol = iota
	ProtocolBOSSA
	ProtocolESPTool
)

var familyNames = map[BoardFamily]string{
	FamilySAMD:          "samd",
	FamilyRenesasMinima: "renesas_uno_minima",
	FamilyRenesasWiFi:   "renesas_uno_wifi",
	FamilyESP8266:       "esp8266",
	FamilyESP32:         "esp32",
}

func (f BoardFamily) String() string {
	if n, ok := familyNames[f]; ok {
		return n
	}
	return fmt.Sprintf("???(%d)", int(f))
}

func (f BoardFamily) Protocol() Protocol {
	switch f {
	case FamilySAMD, FamilyRenesasMinima, FamilyRenesasWiFi:
		return ProtocolBOSSA
	case FamilyESP8266, FamilyESP32:
		return ProtocolESPTool
	default:
		return ProtocolNone
	}
}

func (p Protocol) String() string {
	switch p {
	case ProtocolBOSSA:
		return "bossa"
	case ProtocolESPTool:
		return "esptool"
	default:
		return "none"
	}
}

// ParseFamily maps a family name, as used in profile files, to a BoardFamily.
func ParseFamily(name string) (BoardFamily, error) {
	for f, n := range familyNames {
		if n == name {
			return f, nil
		}
	}
	return FamilyUnknown, errors.Errorf("unknown board family %q", name)
}

// Families returns all known families, sorted.
func Families() []BoardFamily {
	var res []BoardFamily
	for f := range familyNames {
		res = append(res, f)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })
	return res
}

// FQBN is a Fully Qualified Board Name: vendor:arch:board[:opt=val,...].
type FQBN struct {
	Vendor  string
	Arch    string
	Board   string
	Options map[string]string
}

func ParseFQBN(s string) (*FQBN, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 4)
	if len(parts) < 3 {
		return nil, errors.Errorf("invalid FQBN %q, must be vendor:arch:board", s)
	}
	for _, p := range parts[:3] {
		if p == "" {
			return nil, errors.Errorf("invalid FQBN %q, empty component", s)
		}
	}
	f := &FQBN{Vendor: parts[0], Arch: parts[1], Board: parts[2]}
	if len(parts) == 4 && parts[3] != "" {
		f.Options = make(map[string]string)
		for _, kv := range strings.Split(parts[3], ",") {
			kvs := strings.SplitN(kv, "=", 2)
			if len(kvs) != 2 || kvs[0] == "" {
				return nil, errors.Errorf("invalid FQBN option %q in %q", kv, s)
			}
			f.Options[kvs[0]] = kvs[1]
		}
	}
	return f, nil
}

func (f *FQBN) String() string {
	s := fmt.Sprintf("%s:%s:%s", f.Vendor, f.Arch, f.Board)
	if len(f.Options) > 0 {
		var keys []string
		for k := range f.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var opts []string
		for _, k := range keys {
			opts = append(opts, k+"="+f.Options[k])
		}
		s += ":" + strings.Join(opts, ",")
	}
	return s
}

// Board is the resolved identity of the board being flashed.
type Board struct {
	FQBN   *FQBN
	Family BoardFamily
}

func (b Board) String() string {
	if b.FQBN == nil {
		return b.Family.String()
	}
	return fmt.Sprintf("%s (%s)", b.FQBN, b.Family)
}

var (
	familyByArch = map[string]BoardFamily{
		"samd":        FamilySAMD,
		"renesas_uno": FamilyRenesasMinima,
		"esp8266":     FamilyESP8266,
		"esp32":       FamilyESP32,
	}
	familyByBoard = map[string]BoardFamily{
		"renesas_uno:unor4wifi": FamilyRenesasWiFi,
	}
)

// Resolve parses the FQBN and determines the board family. This is the only
// place where board names are looked at; everything downstream uses Family.
func Resolve(fqbn string) (Board, error) {
	f, err := ParseFQBN(fqbn)
	if err != nil {
		return Board{}, errors.Trace(err)
	}
	if fam, ok := familyByBoard[f.Arch+":"+f.Board]; ok {
		return Board{FQBN: f, Family: fam}, nil
	}
	if fam, ok := familyByArch[f.Arch]; ok {
		return Board{FQBN: f, Family: fam}, nil
	}
	return Board{FQBN: f}, errors.Errorf("%s: unsupported architecture %q", fqbn, f.Arch)
}
