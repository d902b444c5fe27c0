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
	"context"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/common/boardcfg"
)

// Prepare puts the board into the bootloader with the 1200 baud touch.
// Boards that already enumerate with a bootloader PID are left alone.
func (s *Strategy) Prepare(ctx context.Context, t common.Transport, board boardcfg.Board) error {
	s.obs.Section("bootloader entry")
	id, err := t.DeviceID()
	switch {
	case err != nil:
		glog.V(1).Infof("USB ID is not known (%s), doing the touch anyway", err)
	case s.p.IsBootloaderPID(id.VID, id.PID):
		glog.V(1).Infof("%s is already in bootloader mode", id)
		return nil
	default:
		glog.V(1).Infof("%s: %s is running the application", board, id)
	}
	defer t.Close()
	return errors.Trace(s.touch(ctx, t))
}

func (s *Strategy) touch(ctx context.Context, t common.Transport) error {
	if err := common.Reopen(ctx, t, s.obs, s.p.TouchBaudRate, s.p.PortSettle); err != nil {
		return errors.Trace(err)
	}
	if err := common.SetSignals(t, s.obs, false, true, true); err != nil {
		return errors.Trace(err)
	}
	// Reopening makes the host send SET_LINE_CODING once more.
	if err := common.Reopen(ctx, t, s.obs, s.p.TouchBaudRate, s.p.PortSettle); err != nil {
		return errors.Trace(err)
	}
	// Dropping DTR at 1200 baud is what arms the bootloader watchdog.
	if err := common.SetSignals(t, s.obs, false, false, true); err != nil {
		return errors.Trace(err)
	}
	if err := t.Close(); err != nil {
		return errors.Annotatef(err, "failed to close port")
	}
	s.obs.Wait("bootloader start", s.p.TouchSettle)
	return errors.Trace(common.Sleep(ctx, s.p.TouchSettle))
}
