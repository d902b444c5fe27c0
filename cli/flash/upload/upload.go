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
// Package upload selects the flashing engine for a board family.
package upload

import (
	"context"

	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/bossa"
	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/cli/flash/esp"
	"github.com/mongoose-os/bootflash/cli/flash/probe"
	"github.com/mongoose-os/bootflash/common/boardcfg"
	"github.com/mongoose-os/bootflash/common/fwimage"
)

// Strategy is the two phase contract every engine implements. Prepare gets
// the board into its bootloader, Flash writes the image. Both leave the
// transport closed.
type Strategy interface {
	Prepare(ctx context.Context, t common.Transport, board boardcfg.Board) error
	Flash(ctx context.Context, t common.Transport, fw *fwimage.Image, onProgress common.ProgressFunc, board boardcfg.Board, opts common.FlashOptions) (*common.FlashOutcome, error)
}

// Identifier is implemented by engines that can talk to the bootloader
// without flashing.
type Identifier interface {
	Identify(ctx context.Context, t common.Transport, opts common.FlashOptions) (*probe.Detection, error)
}

// ForFamily returns the engine for the family, configured with p.
func ForFamily(f boardcfg.BoardFamily, p *boardcfg.Profile, obs common.Observer, prompt common.UserPrompt) (Strategy, error) {
	if p == nil {
		return nil, errors.Errorf("no profile for %s", f)
	}
	switch f.Protocol() {
	case boardcfg.ProtocolBOSSA:
		s, err := bossa.New(f, p, obs, prompt)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return s, nil
	case boardcfg.ProtocolESPTool:
		s, err := esp.New(f, p, obs)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return s, nil
	default:
		return nil, errors.Errorf("unsupported board family %s", f)
	}
}

// Upload runs both phases.
func Upload(ctx context.Context, s Strategy, t common.Transport, fw *fwimage.Image, onProgress common.ProgressFunc, board boardcfg.Board, opts common.FlashOptions) (*common.FlashOutcome, error) {
	if err := s.Prepare(ctx, t, board); err != nil {
		return nil, errors.Annotatef(err, "failed to enter bootloader")
	}
	out, err := s.Flash(ctx, t, fw, onProgress, board, opts)
	return out, errors.Trace(err)
}

// Identify runs Prepare and then only the detection part of flashing.
func Identify(ctx context.Context, s Strategy, t common.Transport, board boardcfg.Board, opts common.FlashOptions) (*probe.Detection, error) {
	id, ok := s.(Identifier)
	if !ok {
		return nil, errors.NotSupportedf("probing %s", board)
	}
	if err := s.Prepare(ctx, t, board); err != nil {
		return nil, errors.Annotatef(err, "failed to enter bootloader")
	}
	det, err := id.Identify(ctx, t, opts)
	return det, errors.Trace(err)
}
