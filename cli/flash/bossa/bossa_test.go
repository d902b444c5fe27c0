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
	"strings"
	"testing"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/cli/flash/common/fakeport"
	"github.com/mongoose-os/bootflash/common/boardcfg"
	"github.com/mongoose-os/bootflash/common/fwimage"
)

func testProfile(t *testing.T, f boardcfg.BoardFamily) *boardcfg.Profile {
	p, err := boardcfg.Defaults().Get(f)
	if err != nil {
		t.Fatal(err)
	}
	p.ProbeTimeout = 200 * time.Millisecond
	p.FallbackProbeTimeout = 50 * time.Millisecond
	p.VersionTimeout = 200 * time.Millisecond
	p.PortSettle = 0
	p.TouchSettle = time.Millisecond
	p.AckTimeout = 200 * time.Millisecond
	p.EraseTimeout = time.Second
	p.CommitTimeout = time.Second
	p.InterChunkDelay = 0
	p.FinalChunkDelay = 0
	p.CommitSettle = 0
	return p
}

func testBoard(t *testing.T, fqbn string) boardcfg.Board {
	b, err := boardcfg.Resolve(fqbn)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func testImage(size int) *fwimage.Image {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return fwimage.FromBytes("sketch.bin", data)
}

func diffLog(t *testing.T, got, want []string) {
	g, w := strings.Join(got, "\n"), strings.Join(want, "\n")
	if g != w {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(w, g, false)
		t.Errorf("wire log mismatch:\n%s", dmp.DiffPrettyText(diffs))
	}
}

func count(cmds []string, prefix string) int {
	n := 0
	for _, c := range cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func TestCommand(t *testing.T) {
	for _, c := range []struct {
		got, want string
	}{
		{command('N'), "N#"},
		{command('X', 0x4000), "X00004000#"},
		{command('Y', 0xabc, 0), "Y00000ABC,00000000#"},
		{command('S', 0, 4096), "S00000000,00001000#"},
		{command('G', 0x4000), "G00004000#"},
	} {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestCRC16(t *testing.T) {
	if got := crc16([]byte("123456789")); got != 0x31c3 {
		t.Errorf("got 0x%04x, want 0x31c3", got)
	}
}

func TestFlashMinima(t *testing.T) {
	sb := newSamba(921600)
	sb.eraseDelay = 20 * time.Millisecond
	sb.commitDelay = 5 * time.Millisecond
	p := sb.attach(newPort(0x0069))
	s, err := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	fw := testImage(3*4096 + 100)
	var progress []int
	out, err := s.Flash(context.Background(), p, fw, func(pct int, msg string) {
		progress = append(progress, pct)
	}, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{})
	if err != nil {
		t.Fatalf("flash failed: %s", err)
	}

	want := []string{"N#", "V#", "I#", "X00000000#"}
	for i := 0; i < 4; i++ {
		want = append(want,
			"S00000000,00001000#",
			"Y00000000,00000000#",
			command('Y', uint32(i*4096), 4096))
	}
	want = append(want, "N#", "K#")
	cmds := sb.log()
	diffLog(t, cmds, want)
	if count(cmds, "X") != 1 || count(cmds, "S") != 4 || count(cmds, "Y") != 8 || count(cmds, "K") != 1 {
		t.Errorf("unexpected command counts: %v", cmds)
	}

	padded := fwimage.Pad(fw.Data(), 4096)
	if !bytes.Equal(sb.flash[:len(padded)], padded) {
		t.Errorf("flash contents differ from the image")
	}
	if out.BaudRate != 921600 || out.NumChunks != 4 || out.BytesWritten != 4*4096 || out.ImageSize != fw.Len() {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.BootloaderVersion != sb.version || out.DeviceInfo != sb.info {
		t.Errorf("got version %q info %q", out.BootloaderVersion, out.DeviceInfo)
	}
	if len(out.Warnings) != 0 {
		t.Errorf("unexpected warnings %v", out.Warnings)
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards: %v", progress)
			break
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress did not reach 100: %v", progress)
	}
	if p.IsOpen() {
		t.Errorf("port left open")
	}
}

func TestFlashHexOffset(t *testing.T) {
	sb := newSamba(921600)
	p := sb.attach(newPort(0x0069))
	s, err := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	fw := testImage(100)
	fw.Addr, fw.HasAddr = 0x6000, true
	out, err := s.Flash(context.Background(), p, fw, nil, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{NoReset: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.FlashOffset != 0x2000 {
		t.Errorf("got offset 0x%x, want 0x2000", out.FlashOffset)
	}
	want := []string{"N#", "V#", "I#", "X00002000#", "S00000000,00001000#", "Y00000000,00000000#", "Y00002000,00001000#", "N#"}
	diffLog(t, sb.log(), want)
}

func TestFlashWiFiApplet(t *testing.T) {
	sb := newSamba(921600)
	p := sb.attach(newPort(0x1002))
	prof := testProfile(t, boardcfg.FamilyRenesasWiFi)
	s, err := New(boardcfg.FamilyRenesasWiFi, prof, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Flash(context.Background(), p, testImage(10), nil, testBoard(t, "arduino:renesas_uno:unor4wifi"), common.FlashOptions{}); err != nil {
		t.Fatal(err)
	}
	cmds := sb.log()
	want := []string{"N#", "V#", "I#", "S00001000,00000006#", "W20007F00,00001000#", "W20007F04,00000001#", "N#", "X00000000#"}
	diffLog(t, cmds[:len(want)], want)
	code, _ := prof.Applet.CodeBytes()
	if !bytes.Equal(sb.stage[0x1000:0x1000+len(code)], code) {
		t.Errorf("applet not staged")
	}
	if sb.regs[0x20007f04] != 1 {
		t.Errorf("register not set: %v", sb.regs)
	}
}

func TestFlashFallbackRate(t *testing.T) {
	sb := newSamba(115200)
	p := sb.attach(newPort(0x0069))
	s, _ := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	out, err := s.Flash(context.Background(), p, testImage(10), nil, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.BaudRate != 115200 {
		t.Errorf("got %d, want 115200", out.BaudRate)
	}
	var rates []uint
	for _, e := range p.Events() {
		if e.Kind == fakeport.EventOpen {
			rates = append(rates, e.BaudRate)
		}
	}
	want := []uint{921600, 230400, 115200}
	if len(rates) != len(want) || rates[0] != want[0] || rates[1] != want[1] || rates[2] != want[2] {
		t.Errorf("got rates %v, want %v", rates, want)
	}
}

func TestFlashNoResponse(t *testing.T) {
	p := newPort(0x0069)
	s, _ := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	_, err := s.Flash(context.Background(), p, testImage(10), nil, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{})
	if !common.IsKind(err, common.KindNoResponse) {
		t.Fatalf("got %v, want no response", err)
	}
	if n := p.Count(fakeport.EventOpen); n != 1 {
		t.Errorf("got %d opens, want 1", n)
	}
	if p.IsOpen() {
		t.Errorf("port left open")
	}
}

func TestFlashUserCancelled(t *testing.T) {
	sb := newSamba(1)
	p := sb.attach(newPort(0x0069))
	s, _ := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, common.AutoPrompt(false))
	_, err := s.Flash(context.Background(), p, testImage(10), nil, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{})
	if !common.IsKind(err, common.KindUserCancelled) {
		t.Fatalf("got %v, want user cancelled", err)
	}
	if count(sb.log(), "X") != 0 {
		t.Errorf("erased after cancellation")
	}
}

func TestFlashCommitTimeout(t *testing.T) {
	sb := newSamba(921600)
	sb.commitDelay = time.Hour
	p := sb.attach(newPort(0x0069))
	prof := testProfile(t, boardcfg.FamilyRenesasMinima)
	prof.CommitTimeout = 50 * time.Millisecond
	s, _ := New(boardcfg.FamilyRenesasMinima, prof, nil, nil)
	_, err := s.Flash(context.Background(), p, testImage(3*4096), nil, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{})
	if !common.IsKind(err, common.KindAckTimeout) {
		t.Fatalf("got %v, want ack timeout", err)
	}
	if n := count(sb.log(), "S"); n != 1 {
		t.Errorf("kept writing after a missing commit ack: %d chunks staged", n)
	}
}

func TestFlashUnresponsiveAfterWrite(t *testing.T) {
	sb := newSamba(921600)
	sb.silentAfterWrite = true
	p := sb.attach(newPort(0x0069))
	s, _ := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	out, err := s.Flash(context.Background(), p, testImage(10), nil, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "unresponsive") {
		t.Errorf("got warnings %v", out.Warnings)
	}
	if count(sb.log(), "K") != 1 {
		t.Errorf("reset was not attempted")
	}
}

func TestFlashVerifyCRC(t *testing.T) {
	for _, bad := range []bool{false, true} {
		sb := newSamba(921600)
		sb.badFlash = bad
		p := sb.attach(newPort(0x0069))
		prof := testProfile(t, boardcfg.FamilySAMD)
		prof.VerifyCRC = true
		s, _ := New(boardcfg.FamilySAMD, prof, nil, nil)
		_, err := s.Flash(context.Background(), p, testImage(5000), nil, testBoard(t, "arduino:samd:mkr1000"), common.FlashOptions{})
		if bad != (err != nil) {
			t.Errorf("bad=%t: got %v", bad, err)
		}
		if bad && !strings.Contains(err.Error(), "CRC mismatch") {
			t.Errorf("got %v", err)
		}
		if !bad && count(sb.log(), "Z") != 2 {
			t.Errorf("got %v", sb.log())
		}
	}
}

func TestFlashOldBootloaderWarns(t *testing.T) {
	sb := newSamba(921600)
	sb.version = "Arduino Bootloader (SAM-BA extended) 1.6 [Arduino:IKXYZ]"
	p := sb.attach(newPort(0x0069))
	s, _ := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	out, err := s.Flash(context.Background(), p, testImage(10), nil, testBoard(t, "arduino:renesas_uno:minima"), common.FlashOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Warnings) != 1 || !strings.Contains(out.Warnings[0], "1.6") {
		t.Errorf("got warnings %v", out.Warnings)
	}
}

func TestPrepareSkipsBootloader(t *testing.T) {
	p := newPort(0x0369)
	s, _ := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	if err := s.Prepare(context.Background(), p, testBoard(t, "arduino:renesas_uno:minima")); err != nil {
		t.Fatal(err)
	}
	if ev := p.Events(); len(ev) != 0 {
		t.Errorf("port touched: %v", ev)
	}
}

func TestPrepareTouch(t *testing.T) {
	p := newPort(0x0069)
	s, _ := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	if err := s.Prepare(context.Background(), p, testBoard(t, "arduino:renesas_uno:minima")); err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"open 1200",
		"signals dtr=true rts=true",
		"close",
		"open 1200",
		"signals dtr=false rts=true",
		"close",
	}, "\n")
	if got := p.Log(); got != want {
		dmp := diffmatchpatch.New()
		t.Errorf("touch sequence mismatch:\n%s", dmp.DiffPrettyText(dmp.DiffMain(want, got, false)))
	}
}

func TestNewRejectsESP(t *testing.T) {
	prof := testProfile(t, boardcfg.FamilyRenesasMinima)
	if _, err := New(boardcfg.FamilyESP32, prof, nil, nil); err == nil {
		t.Errorf("BOSSA strategy accepted an ESP32 board")
	}
}

func TestIdentify(t *testing.T) {
	sb := newSamba(921600)
	p := sb.attach(newPort(0x0369))
	s, err := New(boardcfg.FamilyRenesasMinima, testProfile(t, boardcfg.FamilyRenesasMinima), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	det, err := s.Identify(context.Background(), p, common.FlashOptions{})
	if err != nil {
		t.Fatalf("identify failed: %s", err)
	}
	if det.BaudRate != 921600 || det.Version != sb.version || det.Info != sb.info {
		t.Errorf("unexpected detection %+v", det)
	}
	diffLog(t, sb.log(), []string{"N#", "V#", "I#"})
	if p.IsOpen() {
		t.Errorf("port left open")
	}
}

func TestJump(t *testing.T) {
	p := newPort(0x0369)
	if err := p.Open(context.Background(), 921600); err != nil {
		t.Fatal(err)
	}
	c := NewCodec(p, common.NopObserver{})
	if err := c.Jump(context.Background(), 0x4000); err != nil {
		t.Fatalf("jump failed: %s", err)
	}
	ev := p.Events()
	if last := ev[len(ev)-1]; last.Kind != fakeport.EventWrite || string(last.Data) != "G00004000#" {
		t.Errorf("got %s, want write of G00004000#", last)
	}
}
