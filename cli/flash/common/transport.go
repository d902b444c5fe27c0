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
package common

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/juju/errors"
)

// USBID identifies the USB device behind a serial port.
type USBID struct {
	VID uint16
	PID uint16
}

func (id USBID) String() string {
	return fmt.Sprintf("%04x:%04x", id.VID, id.PID)
}

// Transport is a serial port that can be reopened at different rates.
// It is owned by one flashing operation at a time.
type Transport interface {
	// Open opens the port at the given baud rate. Opening a port that is
	// already open is an error: callers must Close first.
	Open(ctx context.Context, baudRate uint) error
	// Close releases pending reads and closes the port. Closing a closed
	// port is a no-op.
	Close() error
	IsOpen() bool
	SetSignals(dtr, rts bool) error
	DeviceID() (USBID, error)
	// Read blocks until some bytes arrive, ctx is done or the stream ends,
	// in which case io.EOF is returned.
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	// Flush discards received bytes that were not read yet.
	Flush() error
}

// ReadResult is the outcome of a read raced against a timer: either Data or TimedOut.
type ReadResult interface {
	isReadResult()
}

type Data struct {
	Bytes []byte
	// Done is set when the stream has ended.
	Done bool
}

type TimedOut struct{}

func (Data) isReadResult()     {}
func (TimedOut) isReadResult() {}

// ReadWithTimeout waits at most d for the next bytes. Cancellation of ctx
// itself is reported as an error, not as TimedOut.
func ReadWithTimeout(ctx context.Context, t Transport, d time.Duration) (ReadResult, error) {
	if d <= 0 {
		return TimedOut{}, nil
	}
	rctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	b, err := t.Read(rctx)
	switch {
	case err == nil:
		return Data{Bytes: b}, nil
	case errors.Cause(err) == io.EOF:
		return Data{Bytes: b, Done: true}, nil
	case ctx.Err() != nil:
		return nil, errors.Trace(ctx.Err())
	case rctx.Err() == context.DeadlineExceeded:
		return TimedOut{}, nil
	default:
		return nil, errors.Trace(err)
	}
}

// ReadUntil accumulates bytes until done(acc) returns true or d elapses.
// ok reports whether done was satisfied.
func ReadUntil(ctx context.Context, t Transport, d time.Duration, done func(acc []byte) bool) (acc []byte, ok bool, err error) {
	deadline := time.Now().Add(d)
	for {
		res, err := ReadWithTimeout(ctx, t, time.Until(deadline))
		if err != nil {
			return acc, false, errors.Trace(err)
		}
		switch r := res.(type) {
		case TimedOut:
			return acc, false, nil
		case Data:
			acc = append(acc, r.Bytes...)
			if done(acc) {
				return acc, true, nil
			}
			if r.Done {
				return acc, false, nil
			}
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Reopen closes t, waits for the OS to let go of the device and opens it
// again at baudRate.
func Reopen(ctx context.Context, t Transport, obs Observer, baudRate uint, settle time.Duration) error {
	if t.IsOpen() {
		if err := t.Close(); err != nil {
			return errors.Annotatef(err, "failed to close port")
		}
		obs.Wait("port settle", settle)
		if err := Sleep(ctx, settle); err != nil {
			return errors.Trace(err)
		}
	}
	if err := t.Open(ctx, baudRate); err != nil {
		return errors.Annotatef(err, "failed to open port at %d", baudRate)
	}
	return nil
}

// SetSignals drives DTR and RTS to the given logical levels, flipping both
// when the board's control lines are inverted.
func SetSignals(t Transport, obs Observer, inverted, dtr, rts bool) error {
	if inverted {
		dtr, rts = !dtr, !rts
	}
	obs.Signals(dtr, rts)
	return errors.Trace(t.SetSignals(dtr, rts))
}
