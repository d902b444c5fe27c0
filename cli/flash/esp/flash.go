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
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/cli/flash/probe"
	"github.com/mongoose-os/bootflash/common/boardcfg"
	"github.com/mongoose-os/bootflash/common/fwimage"
)

type Strategy struct {
	ct     ChipType
	family boardcfg.BoardFamily
	p      *boardcfg.Profile
	obs    common.Observer
}

func New(f boardcfg.BoardFamily, p *boardcfg.Profile, obs common.Observer) (*Strategy, error) {
	ct, err := ChipForFamily(f)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := p.Validate(f); err != nil {
		return nil, errors.Annotatef(err, "invalid %s profile", f)
	}
	if obs == nil {
		obs = common.NopObserver{}
	}
	return &Strategy{ct: ct, family: f, p: p, obs: obs}, nil
}

// Prepare does nothing: the ROM loader is entered with DTR and RTS on the
// port Flash opens.
func (s *Strategy) Prepare(ctx context.Context, t common.Transport, board boardcfg.Board) error {
	glog.V(1).Infof("%s: bootloader is entered when flashing", board)
	return nil
}

// session is the state of one upload. Steps take it by value and return the
// updated copy.
type session struct {
	offset    uint32
	blockSize int
	blocks    []fwimage.Chunk
	eraseSize uint32
	inverted  bool
	synced    bool
	written   int
}

func (s *Strategy) newSession(fw *fwimage.Image, opts common.FlashOptions) (session, error) {
	sess := session{
		offset:    s.p.FlashOffset,
		blockSize: s.p.ChunkSize,
		inverted:  opts.InvertedControlLines,
	}
	switch {
	case opts.Offset != nil:
		sess.offset = *opts.Offset
	case fw.HasAddr:
		sess.offset = fw.Addr
	}
	if fw.Len() == 0 {
		return sess, errors.Errorf("firmware image is empty")
	}
	if err := sanityCheckImage(s.ct, sess.offset, fw.Data()); err != nil {
		return sess, errors.Trace(err)
	}
	sess.blocks = fw.Pad(sess.blockSize).Chunks(sess.blockSize)
	sess.eraseSize = uint32(fwimage.PaddedLength(fw.Len(), sess.blockSize))
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
	out.NumChunks = len(sess.blocks)
	out.FlashOffset = sess.offset
	rom := NewROM(t, s.obs, s.p.StatusLen)

	prog.Reportf(0, "Connecting to %s ROM", s.ct)
	if err := common.Reopen(ctx, t, s.obs, s.p.PrimaryBaudRate, s.p.PortSettle); err != nil {
		return nil, errors.Trace(err)
	}
	out.BaudRate = s.p.PrimaryBaudRate
	if sess, err = s.enterBootloader(ctx, t, sess); err != nil {
		return nil, errors.Trace(err)
	}
	if sess, err = s.sync(ctx, rom, sess); err != nil {
		return nil, errors.Trace(err)
	}
	prog.Reportf(10, "Connected")

	// Writing must not be abandoned halfway.
	wctx := context.WithoutCancel(ctx)

	if s.p.SPIAttach {
		if err := rom.SPIAttach(wctx, s.p.AckTimeout); err != nil {
			return nil, errors.Annotatef(err, "failed to attach SPI flash")
		}
	}

	prog.Reportf(15, "Erasing %d @ 0x%x", sess.eraseSize, sess.offset)
	if sess, err = s.begin(wctx, rom, sess); err != nil {
		return nil, errors.Trace(err)
	}

	for i := range sess.blocks {
		prog.Reportf(common.Span(20, 95, i, len(sess.blocks)), "Writing block %d/%d", i+1, len(sess.blocks))
		if sess, err = s.writeBlock(wctx, rom, sess, i); err != nil {
			return nil, errors.Annotatef(err, "block %d/%d", i+1, len(sess.blocks))
		}
	}
	out.BytesWritten = sess.written

	prog.Reportf(96, "Finishing")
	reboot := !opts.NoReset
	if err := rom.FlashEnd(wctx, reboot, s.p.AckTimeout); err != nil {
		// The loader may jump to the application before answering.
		if !reboot || !common.IsKind(err, common.KindAckTimeout) {
			return nil, errors.Annotatef(err, "failed to finish flashing")
		}
		out.Warn(s.obs, "no reply to FLASH_END")
	}
	if reboot {
		prog.Reportf(98, "Resetting")
		if err := s.resetToRun(wctx, t, sess); err != nil {
			return nil, errors.Trace(err)
		}
	}

	out.Elapsed = time.Since(start)
	prog.Reportf(100, "Done")
	return out, nil
}

// enterBootloader pulls GPIO0 low across a reset. DTR drives GPIO0 and RTS
// drives EN through the usual pair of transistors, so asserting a line pulls
// the pin low.
func (s *Strategy) enterBootloader(ctx context.Context, t common.Transport, sess session) (session, error) {
	s.obs.Section("bootloader entry")
	steps := []struct {
		dtr, rts bool
		hold     time.Duration
		reason   string
	}{
		{false, true, s.p.ResetHold, "reset"},
		{true, false, s.p.BootHold, "ROM start"},
		{false, false, 0, ""},
	}
	for _, st := range steps {
		if err := common.SetSignals(t, s.obs, sess.inverted, st.dtr, st.rts); err != nil {
			return sess, errors.Annotatef(err, "failed to set control lines")
		}
		s.obs.Wait(st.reason, st.hold)
		if err := common.Sleep(ctx, st.hold); err != nil {
			return sess, errors.Trace(err)
		}
	}
	return sess, nil
}

func (s *Strategy) sync(ctx context.Context, rom *ROM, sess session) (session, error) {
	if err := rom.Sync(ctx, s.p.SyncAttempts, s.p.ProbeTimeout); err != nil {
		return sess, errors.Trace(err)
	}
	sess.synced = true
	return sess, nil
}

func (s *Strategy) eraseTimeout(size uint32) time.Duration {
	perMB := time.Duration(int64(s.p.EraseTimeoutPerMB) * int64(size) / (1 << 20))
	if perMB > s.p.EraseTimeout {
		return perMB
	}
	return s.p.EraseTimeout
}

func (s *Strategy) begin(ctx context.Context, rom *ROM, sess session) (session, error) {
	if !sess.synced {
		return sess, errors.Errorf("not synced")
	}
	s.obs.Section("erase")
	err := rom.FlashBegin(ctx, sess.eraseSize, uint32(len(sess.blocks)), uint32(sess.blockSize), sess.offset,
		s.eraseTimeout(sess.eraseSize))
	if err != nil {
		return sess, errors.Annotatef(err, "failed to start flashing")
	}
	s.obs.Wait("erase settle", s.p.FlashBeginSettle)
	return sess, errors.Trace(common.Sleep(ctx, s.p.FlashBeginSettle))
}

func (s *Strategy) writeBlock(ctx context.Context, rom *ROM, sess session, i int) (session, error) {
	b := sess.blocks[i]
	s.obs.Chunk(i, len(sess.blocks), sess.offset+b.Offset, len(b.Data))
	if err := rom.FlashData(ctx, uint32(b.Index), b.Data, s.p.AckTimeout); err != nil {
		return sess, errors.Trace(err)
	}
	sess.written += len(b.Data)
	return sess, nil
}

// resetToRun pulses EN with GPIO0 released so the chip boots from flash.
func (s *Strategy) resetToRun(ctx context.Context, t common.Transport, sess session) error {
	s.obs.Section("reset")
	if err := common.SetSignals(t, s.obs, sess.inverted, false, true); err != nil {
		return errors.Annotatef(err, "failed to reset")
	}
	s.obs.Wait("reset", s.p.ResetHold)
	if err := common.Sleep(ctx, s.p.ResetHold); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(common.SetSignals(t, s.obs, sess.inverted, false, false), "failed to reset")
}

// Identify enters the ROM loader and syncs with it, then resets the chip
// back into the application unless opts.NoReset is set.
func (s *Strategy) Identify(ctx context.Context, t common.Transport, opts common.FlashOptions) (*probe.Detection, error) {
	defer func() {
		if err := t.Close(); err != nil {
			glog.Errorf("failed to close port: %s", err)
		}
	}()
	sess := session{inverted: opts.InvertedControlLines}
	if err := common.Reopen(ctx, t, s.obs, s.p.PrimaryBaudRate, s.p.PortSettle); err != nil {
		return nil, errors.Trace(err)
	}
	sess, err := s.enterBootloader(ctx, t, sess)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if sess, err = s.sync(ctx, NewROM(t, s.obs, s.p.StatusLen), sess); err != nil {
		return nil, errors.Trace(err)
	}
	if !opts.NoReset {
		if err := s.resetToRun(ctx, t, sess); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return &probe.Detection{BaudRate: s.p.PrimaryBaudRate, Version: s.ct.String() + " ROM"}, nil
}
