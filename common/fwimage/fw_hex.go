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
package fwimage

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"

	"github.com/juju/errors"
)

const (
	// MaxHexSpan limits the flattened size of a HEX file, so that a stray
	// record at a far address does not produce a gigabyte of padding.
	MaxHexSpan = 16 * 1024 * 1024
)

type hexSegment struct {
	addr uint32
	data []byte
}

// ParseHex parses Intel HEX data and flattens all data records into one
// image starting at the lowest address, with gaps filled with FillByte.
func ParseHex(hexData []byte) (*Image, error) {
	segs, start, err := parseHexSegments(hexData)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if len(segs) == 0 {
		return nil, errors.Errorf("no data records")
	}
	// hi can be 1<<32 for data ending at the top of the address space.
	lo, hi := uint64(segs[0].addr), uint64(segs[0].addr)
	for _, s := range segs {
		if uint64(s.addr) < lo {
			lo = uint64(s.addr)
		}
		if end := uint64(s.addr) + uint64(len(s.data)); end > hi {
			hi = end
		}
	}
	if hi-lo > MaxHexSpan {
		return nil, errors.Errorf("data spans 0x%x-0x%x, more than %d bytes", lo, hi, MaxHexSpan)
	}
	data := make([]byte, hi-lo)
	for i := range data {
		data[i] = FillByte
	}
	for _, s := range segs {
		copy(data[uint64(s.addr)-lo:], s.data)
	}
	return &Image{Addr: uint32(lo), HasAddr: true, Entry: start, data: data}, nil
}

func parseHexSegments(hexData []byte) ([]*hexSegment, uint32, error) {
	var segs []*hexSegment
	var start uint32
	eof := false
	scanner := bufio.NewScanner(bytes.NewBuffer(hexData))
	lineNo := 0
	var cur *hexSegment
	var curBase uint32
	for scanner.Scan() {
		lineNo++
		l := bytes.TrimSpace(scanner.Bytes())
		if len(l) == 0 {
			continue
		}
		if l[0] != ':' {
			return nil, 0, errors.Errorf("line %d: invalid start of the line", lineNo)
		}
		if len(l) < 11 || len(l)%2 != 1 {
			return nil, 0, errors.Errorf("line %d: too short (%d)", lineNo, len(l))
		}
		ld := make([]byte, (len(l)-1)/2)
		if _, err := hex.Decode(ld, l[1:]); err != nil {
			return nil, 0, errors.Errorf("line %d: error decoding record body", lineNo)
		}
		recLen := int(ld[0])
		if len(ld) != 4+recLen+1 {
			return nil, 0, errors.Errorf("line %d: invalid length %d", lineNo, len(ld))
		}
		cs := uint8(0)
		for _, b := range ld[:len(ld)-1] {
			cs += b
		}
		cs = (cs ^ 0xff) + 1
		if checksum := ld[len(ld)-1]; cs != checksum {
			return nil, 0, errors.Errorf("line %d: invalid checksum (want %02x, got %02x)", lineNo, checksum, cs)
		}
		recOffset := binary.BigEndian.Uint16(ld[1:3])
		recType := ld[3]
		body := ld[4 : 4+recLen]
		switch recType {
		case 0:
			addr := curBase + uint32(recOffset)
			if cur == nil || addr != cur.addr+uint32(len(cur.data)) {
				cur = &hexSegment{addr: addr}
				segs = append(segs, cur)
			}
			cur.data = append(cur.data, body...)
			if uint64(cur.addr)+uint64(len(cur.data)) > 1<<32 {
				return nil, 0, errors.Errorf("line %d: data at 0x%x runs past the end of the address space", lineNo, addr)
			}
		case 1:
			eof = true
		case 2:
			if recLen != 2 {
				return nil, 0, errors.Errorf("line %d: invalid extended segment address", lineNo)
			}
			curBase = uint32(binary.BigEndian.Uint16(body)) << 4
		case 3:
			if recLen != 4 {
				return nil, 0, errors.Errorf("line %d: invalid start segment address", lineNo)
			}
			start = uint32(binary.BigEndian.Uint16(body[0:2]))<<4 | uint32(binary.BigEndian.Uint16(body[2:4]))
		case 4:
			if recLen != 2 {
				return nil, 0, errors.Errorf("line %d: invalid extended linear address", lineNo)
			}
			curBase = uint32(binary.BigEndian.Uint16(body)) << 16
		case 5:
			if recLen != 4 {
				return nil, 0, errors.Errorf("line %d: invalid start linear address", lineNo)
			}
			start = binary.BigEndian.Uint32(body)
		default:
			return nil, 0, errors.Errorf("line %d: unsupported record type (%d)", lineNo, recType)
		}
		if eof {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, errors.Annotatef(err, "line %d", lineNo)
	}
	if !eof {
		return nil, 0, errors.Errorf("unexpected end of data")
	}
	return segs, start, nil
}
