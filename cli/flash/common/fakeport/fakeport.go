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
// Package fakeport provides a scripted in-memory serial port for tests.
package fakeport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/mongoose-os/bootflash/cli/flash/common"
)

type EventKind int

const (
	EventOpen EventKind = iota
	EventClose
	EventSignals
	EventWrite
)

type Event struct {
	Kind     EventKind
	BaudRate uint
	DTR      bool
	RTS      bool
	Data     []byte
}

func (e Event) String() string {
	switch e.Kind {
	case EventOpen:
		return fmt.Sprintf("open %d", e.BaudRate)
	case EventClose:
		return "close"
	case EventSignals:
		return fmt.Sprintf("signals dtr=%t rts=%t", e.DTR, e.RTS)
	case EventWrite:
		return fmt.Sprintf("write %q", e.Data)
	}
	return fmt.Sprintf("???(%d)", int(e.Kind))
}

// Port implements common.Transport. Replies sent while the port is closed are
// lost, and opening the port discards anything left unread.
type Port struct {
	ID    common.USBID
	IDErr error

	// OnOpen, if set, is called after the port has been opened.
	OnOpen func(p *Port, baudRate uint)
	// OnWrite, if set, is called with every write while the port is open.
	OnWrite func(p *Port, data []byte)

	mu       sync.Mutex
	open     bool
	baudRate uint
	rx       []byte
	notify   chan struct{}
	events   []Event
	timers   []*time.Timer
}

func New(id common.USBID) *Port {
	return &Port{ID: id, notify: make(chan struct{})}
}

func (p *Port) Open(ctx context.Context, baudRate uint) error {
	p.mu.Lock()
	if p.open {
		p.mu.Unlock()
		return errors.Errorf("port is already open")
	}
	p.open = true
	p.baudRate = baudRate
	p.rx = nil
	p.events = append(p.events, Event{Kind: EventOpen, BaudRate: baudRate})
	cb := p.OnOpen
	p.mu.Unlock()
	if cb != nil {
		cb(p, baudRate)
	}
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	p.rx = nil
	for _, t := range p.timers {
		t.Stop()
	}
	p.timers = nil
	p.events = append(p.events, Event{Kind: EventClose})
	p.wakeLocked()
	return nil
}

func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Port) BaudRate() uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baudRate
}

func (p *Port) SetSignals(dtr, rts bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return errors.Errorf("port is not open")
	}
	p.events = append(p.events, Event{Kind: EventSignals, DTR: dtr, RTS: rts})
	return nil
}

func (p *Port) DeviceID() (common.USBID, error) {
	return p.ID, p.IDErr
}

func (p *Port) Read(ctx context.Context) ([]byte, error) {
	for {
		p.mu.Lock()
		if !p.open {
			p.mu.Unlock()
			return nil, errors.Errorf("port is not open")
		}
		if len(p.rx) > 0 {
			b := p.rx
			p.rx = nil
			p.mu.Unlock()
			return b, nil
		}
		ch := p.notify
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, errors.Trace(ctx.Err())
		}
	}
}

func (p *Port) Write(ctx context.Context, data []byte) error {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return errors.Errorf("port is not open")
	}
	d := append([]byte(nil), data...)
	p.events = append(p.events, Event{Kind: EventWrite, Data: d})
	cb := p.OnWrite
	p.mu.Unlock()
	if cb != nil {
		cb(p, d)
	}
	return nil
}

func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rx = nil
	return nil
}

// Reply makes data available for reading.
func (p *Port) Reply(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return
	}
	p.rx = append(p.rx, data...)
	p.wakeLocked()
}

// ReplyAfter delivers data after d, unless the port is closed in the meantime.
func (p *Port) ReplyAfter(d time.Duration, data []byte) {
	if d <= 0 {
		p.Reply(data)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timers = append(p.timers, time.AfterFunc(d, func() { p.Reply(data) }))
}

func (p *Port) wakeLocked() {
	close(p.notify)
	p.notify = make(chan struct{})
}

func (p *Port) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Log renders events one per line, for comparing against expectations.
func (p *Port) Log() string {
	var lines []string
	for _, e := range p.Events() {
		lines = append(lines, e.String())
	}
	return strings.Join(lines, "\n")
}

// Count returns the number of events of the given kind.
func (p *Port) Count(kind EventKind) int {
	n := 0
	for _, e := range p.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

var _ common.Transport = (*Port)(nil)
