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
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
)

var (
	ackPing  = []byte("\n\r")
	ackErase = []byte("X\n\r")
	ackCopy  = []byte("Y\n\r")
	ackReset = []byte("K\n\r")
	lineEnd  = []byte("\n\r")
)

// Codec speaks the SAM-BA command set as extended by the Arduino BOSSA
// bootloaders. Addresses are sent as 8 upper case hex digits.
type Codec struct {
	t   common.Transport
	obs common.Observer
}

func NewCodec(t common.Transport, obs common.Observer) *Codec {
	return &Codec{t: t, obs: obs}
}

func command(letter byte, args ...uint32) string {
	var b bytes.Buffer
	b.WriteByte(letter)
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%08X", a)
	}
	b.WriteByte('#')
	return b.String()
}

func (c *Codec) send(ctx context.Context, cmd string) error {
	if err := c.t.Flush(); err != nil {
		return errors.Trace(err)
	}
	c.obs.Command(cmd, []byte(cmd))
	if err := c.t.Write(ctx, []byte(cmd)); err != nil {
		return errors.Annotatef(err, "%s", cmd)
	}
	return nil
}

// exchange sends cmd and waits for a reply containing ack.
func (c *Codec) exchange(ctx context.Context, cmd string, ack []byte, timeout time.Duration) ([]byte, error) {
	start := time.Now()
	if err := c.send(ctx, cmd); err != nil {
		return nil, errors.Trace(err)
	}
	resp, ok, err := common.ReadUntil(ctx, c.t, timeout, func(acc []byte) bool {
		return bytes.Contains(acc, ack)
	})
	if err != nil {
		return resp, errors.Annotatef(err, "%s", cmd)
	}
	glog.V(4).Infof("<= %s", common.LimitStr(resp, 32))
	if !ok {
		return resp, common.NewError(common.KindAckTimeout, cmd, time.Since(start), resp, "expected %q", ack)
	}
	return resp, nil
}

// readLine sends cmd and returns the text it answers with, or "" if nothing
// arrives within timeout.
func (c *Codec) readLine(ctx context.Context, cmd string, timeout time.Duration) (string, error) {
	resp, err := c.exchange(ctx, cmd, lineEnd, timeout)
	if err != nil {
		if common.IsKind(err, common.KindAckTimeout) {
			return string(bytes.TrimSpace(resp)), nil
		}
		return "", errors.Trace(err)
	}
	return string(bytes.TrimSpace(resp)), nil
}

func (c *Codec) Ping(ctx context.Context, timeout time.Duration) error {
	_, err := c.exchange(ctx, command('N'), ackPing, timeout)
	return errors.Trace(err)
}

func (c *Codec) Version(ctx context.Context, timeout time.Duration) (string, error) {
	return c.readLine(ctx, command('V'), timeout)
}

func (c *Codec) Info(ctx context.Context, timeout time.Duration) (string, error) {
	return c.readLine(ctx, command('I'), timeout)
}

// Erase erases flash from addr to the end. addr is relative to the
// application base the bootloader adds on its own. The reply only comes
// when the erase is complete.
func (c *Codec) Erase(ctx context.Context, addr uint32, timeout time.Duration) error {
	c.obs.MemOp("erase", addr, 0)
	_, err := c.exchange(ctx, command('X', addr), ackErase, timeout)
	return errors.Trace(err)
}

// WriteBuffer stores data in the staging buffer at addr. There is no reply.
func (c *Codec) WriteBuffer(ctx context.Context, addr uint32, data []byte) error {
	c.obs.MemOp("stage", addr, len(data))
	cmd := command('S', addr, uint32(len(data)))
	if err := c.send(ctx, cmd); err != nil {
		return errors.Trace(err)
	}
	glog.V(4).Infof("=> (%d) %s", len(data), common.LimitStr(data, 32))
	return errors.Annotatef(c.t.Write(ctx, data), "%s payload", cmd)
}

// SetCopySource points the next commit at addr in the staging buffer.
func (c *Codec) SetCopySource(ctx context.Context, addr uint32, timeout time.Duration) error {
	_, err := c.exchange(ctx, command('Y', addr, 0), ackCopy, timeout)
	return errors.Trace(err)
}

// CommitToFlash copies size bytes from the copy source to flash at addr.
// The acknowledgement is only sent once the flash write has completed.
func (c *Codec) CommitToFlash(ctx context.Context, addr uint32, size int, timeout time.Duration) error {
	c.obs.MemOp("commit", addr, size)
	_, err := c.exchange(ctx, command('Y', addr, uint32(size)), ackCopy, timeout)
	return errors.Trace(err)
}

// CRC returns the CRC16 of size bytes of flash at addr.
func (c *Codec) CRC(ctx context.Context, addr uint32, size int, timeout time.Duration) (uint16, error) {
	cmd := command('Z', addr, uint32(size))
	resp, err := c.exchange(ctx, cmd, []byte("#\n\r"), timeout)
	if err != nil {
		return 0, errors.Trace(err)
	}
	i := bytes.IndexByte(resp, 'Z')
	j := bytes.IndexByte(resp, '#')
	if i < 0 || j < i {
		return 0, common.NewError(common.KindProtocol, cmd, 0, resp, "malformed CRC reply")
	}
	v, err := strconv.ParseUint(string(resp[i+1:j]), 16, 32)
	if err != nil || v > 0xffff {
		return 0, common.NewError(common.KindProtocol, cmd, 0, resp, "malformed CRC reply")
	}
	return uint16(v), nil
}

// WriteWord writes a 32-bit value to a bootloader register. There is no reply.
func (c *Codec) WriteWord(ctx context.Context, addr, value uint32) error {
	c.obs.MemOp("poke", addr, 4)
	return errors.Trace(c.send(ctx, command('W', addr, value)))
}

// Reset asks the bootloader to reset the MCU, which boots the application
// after the bootloader has validated it.
func (c *Codec) Reset(ctx context.Context, timeout time.Duration) error {
	_, err := c.exchange(ctx, command('K'), ackReset, timeout)
	return errors.Trace(err)
}

// Jump transfers control to addr without a reset. There is no reply.
func (c *Codec) Jump(ctx context.Context, addr uint32) error {
	return errors.Trace(c.send(ctx, command('G', addr)))
}
