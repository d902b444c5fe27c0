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
package devutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flock "github.com/theckman/go-flock"

	"github.com/mongoose-os/bootflash/cli/flash/common"
	"github.com/mongoose-os/bootflash/common/multierror"
)

const (
	// Reads return a pseudo-EOF after this much silence, which is how often
	// the reader checks whether the port is being closed.
	interCharacterTimeout = 100 * time.Millisecond
	readBufSize           = 4096
)

var lockNameRE = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SerialTransport is a common.Transport backed by an OS serial port.
type SerialTransport struct {
	name string
	lock *flock.Flock

	mu   sync.Mutex
	conn serial.Serial
	rx   chan []byte
	// Closed by Close to stop the reader goroutine.
	stop chan struct{}
	// Closed by the reader goroutine when it exits, readErr is set then.
	done    chan struct{}
	readErr error
}

func NewSerialTransport(name string) *SerialTransport {
	lockName := fmt.Sprintf("bootflash-%s.lock", lockNameRE.ReplaceAllString(name, "_"))
	return &SerialTransport{
		name: name,
		lock: flock.NewFlock(filepath.Join(os.TempDir(), lockName)),
	}
}

func (st *SerialTransport) Name() string {
	return st.name
}

// Lock takes the per-port lock file so that no other instance of the tool
// uses the port until Release.
func (st *SerialTransport) Lock() error {
	ok, err := st.lock.TryLock()
	if err != nil {
		return errors.Annotatef(err, "failed to lock %s", st.name)
	}
	if !ok {
		return errors.Errorf("%s is in use by another bootflash process (lock file %s)", st.name, st.lock.Path())
	}
	glog.V(1).Infof("locked %s", st.lock.Path())
	return nil
}

// Release closes the port and drops the lock.
func (st *SerialTransport) Release() error {
	var errs error
	errs = multierror.Append(errs, st.Close())
	errs = multierror.Append(errs, st.lock.Unlock())
	return errors.Trace(multierror.ErrorOrNil(errs))
}

func (st *SerialTransport) Open(ctx context.Context, baudRate uint) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.conn != nil {
		return errors.Errorf("%s is already open", st.name)
	}
	glog.V(1).Infof("opening %s @ %d", st.name, baudRate)
	conn, err := serial.Open(serial.OpenOptions{
		PortName:              st.name,
		BaudRate:              baudRate,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		InterCharacterTimeout: uint(interCharacterTimeout / time.Millisecond),
		MinimumReadSize:       0,
	})
	if err != nil {
		return errors.Annotatef(err, "failed to open %s", st.name)
	}
	st.conn = conn
	st.rx = make(chan []byte, 16)
	st.stop = make(chan struct{})
	st.done = make(chan struct{})
	st.readErr = nil
	go st.reader(conn, st.rx, st.stop, st.done)
	return nil
}

func (st *SerialTransport) reader(conn serial.Serial, rx chan<- []byte, stop, done chan struct{}) {
	defer close(done)
	buf := make([]byte, readBufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			select {
			case rx <- append([]byte(nil), buf[:n]...):
			case <-stop:
				return
			}
		}
		select {
		case <-stop:
			return
		default:
		}
		if err != nil && errors.Cause(err) != io.EOF {
			st.mu.Lock()
			st.readErr = err
			st.mu.Unlock()
			return
		}
	}
}

// Close stops the reader and closes the port. It waits for the pending read
// to return so that the port can be reopened right away.
func (st *SerialTransport) Close() error {
	st.mu.Lock()
	conn, stop, done := st.conn, st.stop, st.done
	st.conn = nil
	st.mu.Unlock()
	if conn == nil {
		return nil
	}
	close(stop)
	<-done
	glog.V(1).Infof("closing %s", st.name)
	return errors.Annotatef(conn.Close(), "failed to close %s", st.name)
}

func (st *SerialTransport) IsOpen() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn != nil
}

func (st *SerialTransport) SetSignals(dtr, rts bool) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.conn == nil {
		return errors.Errorf("%s is not open", st.name)
	}
	st.conn.SetDTR(dtr)
	st.conn.SetRTS(rts)
	return nil
}

func (st *SerialTransport) DeviceID() (common.USBID, error) {
	return LookupUSBID(st.name)
}

func (st *SerialTransport) Read(ctx context.Context) ([]byte, error) {
	st.mu.Lock()
	rx, done := st.rx, st.done
	open := st.conn != nil
	st.mu.Unlock()
	if !open {
		return nil, errors.Errorf("%s is not open", st.name)
	}
	return st.receive(ctx, rx, done)
}

func (st *SerialTransport) receive(ctx context.Context, rx <-chan []byte, done <-chan struct{}) ([]byte, error) {
	select {
	case b := <-rx:
		glog.V(4).Infof("<= (%d) %s", len(b), common.LimitStr(b, 32))
		return b, nil
	case <-done:
		// Data read before the error is still delivered.
		select {
		case b := <-rx:
			glog.V(4).Infof("<= (%d) %s", len(b), common.LimitStr(b, 32))
			return b, nil
		default:
		}
		st.mu.Lock()
		err := st.readErr
		st.mu.Unlock()
		if err == nil {
			return nil, errors.Errorf("%s was closed", st.name)
		}
		glog.V(1).Infof("%s: read error: %s", st.name, err)
		return nil, io.EOF
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	}
}

func (st *SerialTransport) Write(ctx context.Context, data []byte) error {
	st.mu.Lock()
	conn := st.conn
	st.mu.Unlock()
	if conn == nil {
		return errors.Errorf("%s is not open", st.name)
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	glog.V(4).Infof("=> (%d) %s", len(data), common.LimitStr(data, 32))
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return errors.Annotatef(err, "failed to write to %s", st.name)
		}
		data = data[n:]
	}
	return nil
}

func (st *SerialTransport) Flush() error {
	st.mu.Lock()
	conn, rx := st.conn, st.rx
	st.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.Flush()
	for {
		select {
		case <-rx:
		default:
			return nil
		}
	}
}

var _ common.Transport = (*SerialTransport)(nil)
