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
// Package bossa flashes boards running the SAM-BA based Arduino BOSSA
// bootloader: SAMD21/51 and the Renesas RA4M1 UNO R4 boards.
//
// The bootloader has an SRAM staging buffer and a flash area starting at a
// base it adds to every flash address on its own. Each chunk is staged at
// the same buffer offset and then copied to flash:
//
//	S<buf>,<size>#  <payload>
//	Y<buf>,0#        -> Y\n\r
//	Y<off>,<size>#   -> Y\n\r, once the page write is done
package bossa

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/cli/flash/probe"
	"github.com/mongoose-os/bootflash/common/boardcfg"
	"github.com/mongoose-os/bootflash/common/fwimage"
)

type Strategy struct {
	family boardcfg.BoardFamily
	p      *boardcfg.Profile
	obs    common.Observer
	prompt common.UserPrompt
}

func New(f boardcfg.BoardFamily, p *boardcfg.Profile, obs common.Observer, prompt common.UserPrompt) (*Strategy, error) {
	if f.Protocol() != boardcfg.ProtocolBOSSA {
		return nil, errors.Errorf("%s boards do not use the BOSSA bootloader", f)
	}
	if err := p.Validate(f); err != nil {
		return nil, errors.Annotatef(err, "invalid %s profile", f)
	}
	if obs == nil {
		obs = common.NopObserver{}
	}
	return &Strategy{family: f, p: p, obs: obs, prompt: prompt}, nil
}

// session is the state of one upload. Steps take it by value and return the
// updated copy.
type session struct {
	baudRate     uint
	version      string
	info         string
	chunkSize    int
	flashOffset  uint32
	bufferOffset uint32
	chunks       []fwimage.Chunk
	// Number of chunks committed so far.
	committed  int
	appletDone bool
	// Set if the bootloader was only found after a manual reset.
	manual bool
}

func (s *Strategy) newSession(fw *fwimage.Image, opts common.FlashOptions) (session, error) {
	sess := session{
		chunkSize:    s.p.ChunkSize,
		flashOffset:  s.p.FlashOffset,
		bufferOffset: s.p.BufferOffset,
	}
	switch {
	case opts.Offset != nil:
		sess.flashOffset = *opts.Offset
	case fw.HasAddr:
		if fw.Addr < s.p.FlashBase {
			return sess, errors.Errorf("image address 0x%x is below the application base 0x%x", fw.Addr, s.p.FlashBase)
		}
		sess.flashOffset = fw.Addr - s.p.FlashBase
	}
	if fw.Len() == 0 {
		return sess, errors.Errorf("firmware image is empty")
	}
	sess.chunks = fw.Pad(sess.chunkSize).Chunks(sess.chunkSize)
	return sess, nil
}

func (s *Strategy) Flash(ctx context.Context, t common.Transport, fw *fwimage.Image, onProgress common.ProgressFunc, board boardcfg.Board, opts common.FlashOptions) (*common.FlashOutcome, error) {
	start := time.Now()
	defer func() {
		if err := t.Close(); err != nil {
			glog.Errorf("failed to close port: %s", err)
		}
	}()
	prog := common.NewProgress(onProgress)
	out := &common.FlashOutcome{Family: s.family.String(), ImageSize: fw.Len()}

	sess, err := s.newSession(fw, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	out.NumChunks = len(sess.chunks)
	out.FlashOffset = sess.flashOffset
	codec := NewCodec(t, s.obs)

	prog.Reportf(0, "Looking for the bootloader")
	if sess, err = s.detect(ctx, t, codec, sess, opts); err != nil {
		return nil, errors.Trace(err)
	}
	out.BaudRate, out.BootloaderVersion, out.DeviceInfo = sess.baudRate, sess.version, sess.info
	if w := s.p.CheckBootloaderVersion(sess.version); w != "" {
		out.Warn(s.obs, w)
	}
	prog.Reportf(10, "Bootloader found at %d", sess.baudRate)

	// Writing must not be abandoned halfway, the board could be left with
	// partially written pages.
	wctx := context.WithoutCancel(ctx)

	if s.p.Applet != nil {
		prog.Reportf(12, "Loading flash applet")
		if sess, err = s.applyApplet(wctx, codec, sess); err != nil {
			return nil, errors.Trace(err)
		}
	}

	prog.Reportf(15, "Erasing")
	if sess, err = s.erase(wctx, codec, sess); err != nil {
		return nil, errors.Trace(err)
	}

	for i := range sess.chunks {
		prog.Reportf(common.Span(20, 90, i, len(sess.chunks)), "Writing chunk %d/%d", i+1, len(sess.chunks))
		if sess, err = s.writeChunk(wctx, codec, sess, i); err != nil {
			return nil, errors.Annotatef(err, "chunk %d/%d", i+1, len(sess.chunks))
		}
		out.BytesWritten += len(sess.chunks[i].Data)
	}

	prog.Reportf(90, "Waiting for flash to settle")
	s.obs.Wait("commit settle", s.p.CommitSettle)
	if err := common.Sleep(wctx, s.p.CommitSettle); err != nil {
		return nil, errors.Trace(err)
	}

	if s.p.VerifyCRC {
		prog.Reportf(93, "Verifying")
		if err := s.verify(wctx, codec, sess); err != nil {
			return nil, errors.Trace(err)
		}
	}

	prog.Reportf(96, "Checking the board")
	responsive := true
	if err := codec.Ping(wctx, s.p.AckTimeout); err != nil {
		if !common.IsKind(err, common.KindAckTimeout) {
			return nil, errors.Trace(err)
		}
		responsive = false
		fe := common.NewError(common.KindPostWriteUnresponsive, "N#", s.p.AckTimeout, nil, "firmware may already be running")
		out.Warn(s.obs, fe.Error())
	}

	if !opts.NoReset {
		prog.Reportf(98, "Resetting")
		if err := codec.Reset(wctx, s.p.AckTimeout); err != nil {
			if !common.IsKind(err, common.KindAckTimeout) {
				return nil, errors.Trace(err)
			}
			if responsive {
				out.Warn(s.obs, fmt.Sprintf("no reset acknowledgement: %s", err))
			}
		}
	}

	out.Elapsed = time.Since(start)
	prog.Reportf(100, "Done")
	return out, nil
}

func (s *Strategy) detect(ctx context.Context, t common.Transport, codec *Codec, sess session, opts common.FlashOptions) (session, error) {
	d := &probe.Detector{
		Prober: &probe.Prober{
			T:                    t,
			Obs:                  s.obs,
			Ping:                 []byte(command('N')),
			PortSettle:           s.p.PortSettle,
			InvertedControlLines: opts.InvertedControlLines,
		},
		PrimaryBaudRate:      s.p.PrimaryBaudRate,
		FallbackBaudRates:    s.p.FallbackBaudRates,
		ProbeTimeout:         s.p.ProbeTimeout,
		FallbackProbeTimeout: s.p.FallbackProbeTimeout,
		Prompt:               s.prompt,
		Handshake: func(ctx context.Context) (string, string, error) {
			s.obs.Section("handshake")
			version, err := codec.Version(ctx, s.p.VersionTimeout)
			if err != nil {
				return "", "", errors.Trace(err)
			}
			info, err := codec.Info(ctx, s.p.VersionTimeout)
			if err != nil {
				return "", "", errors.Trace(err)
			}
			return version, info, nil
		},
	}
	det, err := d.Detect(ctx)
	if err != nil {
		return sess, errors.Trace(err)
	}
	glog.V(1).Infof("bootloader @ %d: %q %q", det.BaudRate, det.Version, det.Info)
	sess.baudRate, sess.version, sess.info = det.BaudRate, det.Version, det.Info
	sess.manual = det.Manual
	return sess, nil
}

func (s *Strategy) applyApplet(ctx context.Context, codec *Codec, sess session) (session, error) {
	s.obs.Section("flash applet")
	code, err := s.p.Applet.CodeBytes()
	if err != nil {
		return sess, errors.Trace(err)
	}
	if err := codec.WriteBuffer(ctx, s.p.Applet.Offset, code); err != nil {
		return sess, errors.Annotatef(err, "failed to load applet")
	}
	for _, rw := range s.p.Applet.Registers {
		if err := codec.WriteWord(ctx, rw.Addr, rw.Value); err != nil {
			return sess, errors.Annotatef(err, "failed to set register 0x%08x", rw.Addr)
		}
	}
	// The bootloader answers the ping only once it has processed the above.
	if err := codec.Ping(ctx, s.p.AckTimeout); err != nil {
		return sess, errors.Annotatef(err, "no reply after loading applet")
	}
	sess.appletDone = true
	return sess, nil
}

func (s *Strategy) erase(ctx context.Context, codec *Codec, sess session) (session, error) {
	s.obs.Section("erase")
	if s.p.Applet != nil && !sess.appletDone {
		return sess, errors.Errorf("%s bootloader needs the flash applet before erase", s.family)
	}
	glog.V(1).Infof("erasing from 0x%x (physical 0x%x)", sess.flashOffset, s.p.FlashBase+sess.flashOffset)
	if err := codec.Erase(ctx, sess.flashOffset, s.p.EraseTimeout); err != nil {
		return sess, errors.Annotatef(err, "erase failed")
	}
	return sess, nil
}

func (s *Strategy) writeChunk(ctx context.Context, codec *Codec, sess session, i int) (session, error) {
	if i != sess.committed {
		return sess, errors.Errorf("chunk %d written out of order, %d committed", i, sess.committed)
	}
	ch := sess.chunks[i]
	addr := sess.flashOffset + ch.Offset
	s.obs.Chunk(i, len(sess.chunks), addr, len(ch.Data))
	if err := codec.WriteBuffer(ctx, sess.bufferOffset, ch.Data); err != nil {
		return sess, errors.Trace(err)
	}
	if err := codec.SetCopySource(ctx, sess.bufferOffset, s.p.AckTimeout); err != nil {
		return sess, errors.Trace(err)
	}
	if err := codec.CommitToFlash(ctx, addr, len(ch.Data), s.p.CommitTimeout); err != nil {
		return sess, errors.Trace(err)
	}
	sess.committed++
	delay, reason := s.p.InterChunkDelay, "inter-chunk"
	if sess.committed == len(sess.chunks) {
		delay, reason = s.p.FinalChunkDelay, "final chunk"
	}
	s.obs.Wait(reason, delay)
	return sess, errors.Trace(common.Sleep(ctx, delay))
}

func (s *Strategy) verify(ctx context.Context, codec *Codec, sess session) error {
	s.obs.Section("verify")
	for _, ch := range sess.chunks {
		addr := sess.flashOffset + ch.Offset
		got, err := codec.CRC(ctx, addr, len(ch.Data), s.p.CommitTimeout)
		if err != nil {
			return errors.Annotatef(err, "CRC of %d @ 0x%x", len(ch.Data), addr)
		}
		if want := crc16(ch.Data); got != want {
			return common.NewError(common.KindProtocol, command('Z', addr, uint32(len(ch.Data))), 0, nil,
				"CRC mismatch: got 0x%04x, want 0x%04x", got, want)
		}
	}
	return nil
}

// Identify finds the bootloader and reads its version and device info
// without writing anything. The board must already be in the bootloader.
func (s *Strategy) Identify(ctx context.Context, t common.Transport, opts common.FlashOptions) (*probe.Detection, error) {
	defer func() {
		if err := t.Close(); err != nil {
			glog.Errorf("failed to close port: %s", err)
		}
	}()
	sess, err := s.detect(ctx, t, NewCodec(t, s.obs), session{}, opts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &probe.Detection{BaudRate: sess.baudRate, Version: sess.version, Info: sess.info, Manual: sess.manual}, nil
}
