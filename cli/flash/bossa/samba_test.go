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
package bossa

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/cli/flash/common/fakeport"
)

// samba simulates the bootloader side of the protocol on a fake port.
type samba struct {
	mu sync.Mutex

	baudRate    uint
	version     string
	info        string
	eraseDelay  time.Duration
	commitDelay time.Duration
	// Stop answering N# once something has been committed.
	silentAfterWrite bool
	// Corrupt every committed page.
	badFlash bool

	rx         []byte
	pending    int
	stageAddr  uint32
	stage      []byte
	copySource uint32
	flash      []byte
	regs       map[uint32]uint32
	commands   []string
	commits    int
}

func newSamba(baudRate uint) *samba {
	return &samba{
		baudRate: baudRate,
		version:  "Arduino Bootloader (SAM-BA extended) 2.0 [Arduino:IKXYZ]",
		info:     "nRF52840-QIAA",
		stage:    make([]byte, 8192),
		flash:    make([]byte, 256*1024),
		regs:     make(map[uint32]uint32),
	}
}

func (sb *samba) attach(p *fakeport.Port) *fakeport.Port {
	p.OnWrite = sb.onWrite
	return p
}

func (sb *samba) onWrite(p *fakeport.Port, data []byte) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if p.BaudRate() != sb.baudRate {
		p.Reply([]byte{0xf8, 0x00, 0x80, 0xfe, 0x86, 0x00})
		return
	}
	sb.rx = append(sb.rx, data...)
	for len(sb.rx) > 0 {
		if sb.pending > 0 {
			n := sb.pending
			if n > len(sb.rx) {
				n = len(sb.rx)
			}
			copy(sb.stage[sb.stageAddr:], sb.rx[:n])
			sb.stageAddr += uint32(n)
			sb.pending -= n
			sb.rx = sb.rx[n:]
			continue
		}
		i := strings.IndexByte(string(sb.rx), '#')
		if i < 0 {
			return
		}
		cmd := string(sb.rx[:i+1])
		sb.rx = sb.rx[i+1:]
		sb.handle(p, cmd)
	}
}

func (sb *samba) handle(p *fakeport.Port, cmd string) {
	sb.commands = append(sb.commands, cmd)
	var args []uint32
	if len(cmd) > 2 {
		for _, a := range strings.Split(cmd[1:len(cmd)-1], ",") {
			v, err := strconv.ParseUint(a, 16, 32)
			if err != nil {
				panic(fmt.Sprintf("bad command %q", cmd))
			}
			args = append(args, uint32(v))
		}
	}
	switch cmd[0] {
	case 'N':
		if sb.silentAfterWrite && sb.commits > 0 {
			return
		}
		p.Reply([]byte("\n\r"))
	case 'V':
		p.Reply([]byte(sb.version + "\n\r"))
	case 'I':
		p.Reply([]byte(sb.info + "\n\r"))
	case 'X':
		for i := args[0]; i < uint32(len(sb.flash)); i++ {
			sb.flash[i] = 0xff
		}
		p.ReplyAfter(sb.eraseDelay, []byte("X\n\r"))
	case 'S':
		sb.stageAddr, sb.pending = args[0], int(args[1])
	case 'Y':
		if args[1] == 0 {
			sb.copySource = args[0]
			p.Reply([]byte("Y\n\r"))
			return
		}
		copy(sb.flash[args[0]:args[0]+args[1]], sb.stage[sb.copySource:])
		if sb.badFlash {
			sb.flash[args[0]] ^= 0x55
		}
		sb.commits++
		p.ReplyAfter(sb.commitDelay, []byte("Y\n\r"))
	case 'Z':
		crc := crc16(sb.flash[args[0] : args[0]+args[1]])
		p.Reply([]byte(fmt.Sprintf("Z%08X#\n\r", crc)))
	case 'W':
		sb.regs[args[0]] = args[1]
	case 'K':
		p.Reply([]byte("K\n\r"))
	}
}

func (sb *samba) log() []string {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return append([]string(nil), sb.commands...)
}

func newPort(pid uint16) *fakeport.Port {
	return fakeport.New(common.USBID{VID: 0x2341, PID: pid})
}
