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
package esp

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
)

const (
	cmdFlashBegin = 0x02
	cmdFlashData  = 0x03
	cmdFlashEnd   = 0x04
	cmdSync       = 0x08
	cmdSPIAttach  = 0x0d

	dirRequest  = 0x00
	dirResponse = 0x01

	checksumSeed = 0xef
)

func cmdName(cmd byte) string {
	switch cmd {
	case cmdFlashBegin:
		return "FLASH_BEGIN"
	case cmdFlashData:
		return "FLASH_DATA"
	case cmdFlashEnd:
		return "FLASH_END"
	case cmdSync:
		return "SYNC"
	case cmdSPIAttach:
		return "SPI_ATTACH"
	default:
		return fmt.Sprintf("0x%02x", cmd)
	}
}

type response struct {
	Cmd    byte
	Value  uint32
	Data   []byte
	Status []byte
}

// ROM talks to the loader in the chip's mask ROM.
type ROM struct {
	sc  *common.SLIPConn
	obs common.Observer
	// Number of status bytes at the end of each response.
	statusLen int
}

func NewROM(t common.Transport, obs common.Observer, statusLen int) *ROM {
	if statusLen < 2 {
		statusLen = 2
	}
	return &ROM{sc: common.NewSLIPConn(t), obs: obs, statusLen: statusLen}
}

func checksum(data []byte) uint32 {
	cs := byte(checksumSeed)
	for _, b := range data {
		cs ^= b
	}
	return uint32(cs)
}

func encodeRequest(cmd byte, data []byte, cs uint32) []byte {
	pkt := make([]byte, 8+len(data))
	pkt[0] = dirRequest
	pkt[1] = cmd
	binary.LittleEndian.PutUint16(pkt[2:4], uint16(len(data)))
	binary.LittleEndian.PutUint32(pkt[4:8], cs)
	copy(pkt[8:], data)
	return pkt
}

func decodeResponse(frame []byte, statusLen int) (*response, error) {
	if len(frame) < 8 {
		return nil, errors.Errorf("response too short (%d)", len(frame))
	}
	if frame[0] != dirResponse {
		return nil, errors.Errorf("invalid direction byte: 0x%02x", frame[0])
	}
	size := int(binary.LittleEndian.Uint16(frame[2:4]))
	if size > len(frame)-8 {
		return nil, errors.Errorf("data size mismatch: %d > %d", size, len(frame)-8)
	}
	r := &response{
		Cmd:   frame[1],
		Value: binary.LittleEndian.Uint32(frame[4:8]),
		Data:  frame[8 : 8+size],
	}
	if size < statusLen {
		return nil, errors.Errorf("response has no status (%d < %d)", size, statusLen)
	}
	r.Data, r.Status = r.Data[:size-statusLen], r.Data[size-statusLen:]
	return r, nil
}

// command sends a request and waits for the response to it. Responses to
// other commands are skipped.
func (rom *ROM) command(ctx context.Context, cmd byte, data []byte, cs uint32, timeout time.Duration) (*response, error) {
	op := cmdName(cmd)
	start := time.Now()
	req := encodeRequest(cmd, data, cs)
	rom.obs.Command(op, req)
	if err := rom.sc.WriteFrame(ctx, req); err != nil {
		return nil, errors.Annotatef(err, "%s", op)
	}
	deadline := start.Add(timeout)
	for {
		frame, ok, err := rom.sc.ReadFrame(ctx, time.Until(deadline))
		if err != nil {
			return nil, errors.Annotatef(err, "%s", op)
		}
		if !ok {
			return nil, common.NewError(common.KindAckTimeout, op, time.Since(start), nil, "no response")
		}
		r, err := decodeResponse(frame, rom.statusLen)
		if err != nil {
			glog.V(2).Infof("%s: skipping bad frame: %s", op, err)
			continue
		}
		if r.Cmd != cmd {
			glog.V(2).Infof("%s: skipping response to %s", op, cmdName(r.Cmd))
			continue
		}
		if r.Status[0] != 0 {
			return nil, common.NewError(common.KindProtocol, op, time.Since(start), frame,
				"failed, status 0x%02x, error 0x%02x (%s)", r.Status[0], r.Status[1], errorMessage(r.Status[1]))
		}
		return r, nil
	}
}

func errorMessage(code byte) string {
	switch code {
	case 0x05:
		return "invalid message"
	case 0x06:
		return "failed to act"
	case 0x07:
		return "invalid CRC"
	case 0x08:
		return "flash write error"
	case 0x09:
		return "flash read error"
	case 0x0a:
		return "flash read length error"
	default:
		return "unknown error"
	}
}

func syncData() []byte {
	data := []byte{0x07, 0x07, 0x12, 0x20}
	for i := 0; i < 32; i++ {
		data = append(data, 0x55)
	}
	return data
}

// Sync makes the loader lock onto the baud rate. It answers one SYNC with
// several responses; the extra ones are drained.
func (rom *ROM) Sync(ctx context.Context, attempts int, timeout time.Duration) error {
	rom.obs.Section("sync")
	start := time.Now()
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := rom.sc.Reset(); err != nil {
			return errors.Trace(err)
		}
		_, err := rom.command(ctx, cmdSync, syncData(), 0, timeout)
		if err == nil {
			for {
				_, ok, err := rom.sc.ReadFrame(ctx, timeout)
				if err != nil {
					return errors.Trace(err)
				}
				if !ok {
					break
				}
			}
			glog.V(1).Infof("synced after %d attempt(s)", i+1)
			return nil
		}
		if _, isFE := common.KindOf(err); !isFE {
			return errors.Trace(err)
		}
		lastErr = err
	}
	return common.NewError(common.KindSyncFailure, "SYNC", time.Since(start), nil,
		"no reply from the ROM loader after %d attempts (%s)", attempts, lastErr)
}

// SPIAttach connects the SPI flash to the loader, needed on ESP32 before
// any flash command.
func (rom *ROM) SPIAttach(ctx context.Context, timeout time.Duration) error {
	_, err := rom.command(ctx, cmdSPIAttach, make([]byte, 8), 0, timeout)
	return errors.Trace(err)
}

// FlashBegin erases eraseSize bytes at offset and prepares for numBlocks
// writes of blockSize. It returns when the erase is done.
func (rom *ROM) FlashBegin(ctx context.Context, eraseSize, numBlocks, blockSize, offset uint32, timeout time.Duration) error {
	rom.obs.MemOp("erase", offset, int(eraseSize))
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], eraseSize)
	binary.LittleEndian.PutUint32(data[4:8], numBlocks)
	binary.LittleEndian.PutUint32(data[8:12], blockSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	_, err := rom.command(ctx, cmdFlashBegin, data, 0, timeout)
	return errors.Trace(err)
}

// FlashData writes block number seq. Blocks must come in order.
func (rom *ROM) FlashData(ctx context.Context, seq uint32, block []byte, timeout time.Duration) error {
	data := make([]byte, 16+len(block))
	binary.LittleEndian.PutUint32(data[0:4], uint32(len(block)))
	binary.LittleEndian.PutUint32(data[4:8], seq)
	copy(data[16:], block)
	_, err := rom.command(ctx, cmdFlashData, data, checksum(block), timeout)
	return errors.Trace(err)
}

// FlashEnd leaves flash mode. With reboot the loader runs the application.
func (rom *ROM) FlashEnd(ctx context.Context, reboot bool, timeout time.Duration) error {
	data := make([]byte, 4)
	if !reboot {
		binary.LittleEndian.PutUint32(data, 1)
	}
	_, err := rom.command(ctx, cmdFlashEnd, data, 0, timeout)
	return errors.Trace(err)
}
