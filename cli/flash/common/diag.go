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
	"time"

	"github.com/golang/glog"
)

// Observer receives diagnostic events from the flashing engines. It is
// purely observational: engines never look at what it does.
type Observer interface {
	Section(name string)
	Command(op string, wire []byte)
	Signals(dtr, rts bool)
	MemOp(op string, addr uint32, size int)
	Chunk(index, total int, offset uint32, size int)
	Wait(reason string, d time.Duration)
	Warning(msg string)
}

// GlogObserver logs diagnostic events.
type GlogObserver struct {
	Prefix string
}

func (o GlogObserver) Section(name string) {
	glog.V(1).Infof("%s== %s", o.Prefix, name)
}

func (o GlogObserver) Command(op string, wire []byte) {
	glog.V(2).Infof("%s=> %s", o.Prefix, op)
	glog.V(4).Infof("%s=> (%d) %s", o.Prefix, len(wire), LimitStr(wire, 32))
}

func (o GlogObserver) Signals(dtr, rts bool) {
	glog.V(2).Infof("%sDTR=%t RTS=%t", o.Prefix, dtr, rts)
}

func (o GlogObserver) MemOp(op string, addr uint32, size int) {
	glog.V(2).Infof("%s%s %d @ 0x%08x", o.Prefix, op, size, addr)
}

func (o GlogObserver) Chunk(index, total int, offset uint32, size int) {
	glog.V(2).Infof("%schunk %d/%d: %d @ 0x%x", o.Prefix, index+1, total, size, offset)
}

func (o GlogObserver) Wait(reason string, d time.Duration) {
	if d > 0 {
		glog.V(3).Infof("%swait %s: %s", o.Prefix, d, reason)
	}
}

func (o GlogObserver) Warning(msg string) {
	glog.Warningf("%s%s", o.Prefix, msg)
}

type NopObserver struct{}

func (NopObserver) Section(string) {}
func (NopObserver) Command(string, []byte) {}
func (NopObserver) Signals(bool, bool) {}
func (NopObserver) MemOp(string, uint32, int) {}
func (NopObserver) Chunk(int, int, uint32, int) {}
func (NopObserver) Wait(string, time.Duration) {}
func (NopObserver) Warning(string) {}

// UserPrompt asks the person at the board to do something and confirm.
type UserPrompt interface {
	Confirm(ctx context.Context, message string) (bool, error)
}

// AutoPrompt answers every question with its own value.
type AutoPrompt bool

func (a AutoPrompt) Confirm(ctx context.Context, message string) (bool, error) {
	glog.Infof("%s -> %t", message, bool(a))
	return bool(a), nil
}

// ProgressFunc receives completion percentage (0-100) and a short status.
type ProgressFunc func(percent int, message string)

// Progress wraps a ProgressFunc so that reported values never go down and
// stay within 0-100. A nil function is allowed.
type Progress struct {
	fn   ProgressFunc
	last int
}

func NewProgress(fn ProgressFunc) *Progress {
	return &Progress{fn: fn}
}

func (p *Progress) Reportf(percent int, format string, args ...interface{}) {
	if percent > 100 {
		percent = 100
	}
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	if p.fn != nil {
		p.fn(percent, fmt.Sprintf(format, args...))
	}
}

// Span maps step i of n onto the [from, to] percentage range.
func Span(from, to, i, n int) int {
	if n <= 0 {
		return to
	}
	return from + (to-from)*i/n
}
