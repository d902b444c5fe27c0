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
package common_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mongoose-os/bootflash/cli/flash/common"
)

func TestSLIPEncode(t *testing.T) {
	for i, c := range []struct {
		in, out []byte
	}{
		{[]byte{}, []byte{0xc0, 0xc0}},
		{[]byte{1, 2}, []byte{0xc0, 1, 2, 0xc0}},
		{[]byte{0xc0, 0xdb, 3}, []byte{0xc0, 0xdb, 0xdc, 0xdb, 0xdd, 3, 0xc0}},
	} {
		if got := common.SLIPEncode(c.in); !bytes.Equal(got, c.out) {
			t.Errorf("%d: got % x, want % x", i, got, c.out)
		}
	}
}

func TestSLIPDecode(t *testing.T) {
	for i, c := range []struct {
		in    []byte
		frame []byte
		rest  []byte
		found bool
		err   bool
	}{
		{in: []byte("boot noise"), found: false},
		{in: []byte{'x', 0xc0, 1, 2}, rest: []byte{0xc0, 1, 2}},
		{in: []byte{'x', 0xc0, 1, 0xdb, 0xdc, 0xc0, 7}, frame: []byte{1, 0xc0}, rest: []byte{7}, found: true},
		{in: []byte{0xc0, 0xc0, 5, 0xc0}, frame: []byte{5}, rest: []byte{}, found: true},
		{in: []byte{0xc0, 0xdb, 0x01, 0xc0}, rest: []byte{0xc0}, err: true},
		{in: []byte{0x12, 0xc0, 0x33, 0xdb, 0x00, 0x44, 0xc0, 0x99}, rest: []byte{0xc0, 0x99}, err: true},
	} {
		frame, rest, found, err := common.SLIPDecode(c.in)
		if (err != nil) != c.err {
			t.Errorf("%d: unexpected error %v", i, err)
			continue
		}
		if c.err {
			if found || frame != nil || !bytes.Equal(rest, c.rest) {
				t.Errorf("%d: got %x %x %t, want rest %x", i, frame, rest, found, c.rest)
			}
			continue
		}
		if found != c.found || !bytes.Equal(frame, c.frame) || !bytes.Equal(rest, c.rest) {
			t.Errorf("%d: got %x %x %t, want %x %x %t", i, frame, rest, found, c.frame, c.rest, c.found)
		}
	}
}

func TestSLIPConnRoundTrip(t *testing.T) {
	p := openPort(t)
	sc := common.NewSLIPConn(p)
	payload := []byte{0x01, 0x08, 0xc0, 0xdb}
	if err := sc.WriteFrame(context.Background(), payload); err != nil {
		t.Fatal(err)
	}
	ev := p.Events()
	wire := ev[len(ev)-1].Data
	// Deliver the frame in two pieces, preceded by ROM boot chatter.
	p.Reply(append([]byte("ets Jun  8 2016\r\n"), wire[:3]...))
	p.ReplyAfter(10*time.Millisecond, wire[3:])
	frame, ok, err := sc.ReadFrame(context.Background(), time.Second)
	if err != nil || !ok {
		t.Fatalf("got ok=%t err=%v", ok, err)
	}
	if !bytes.Equal(frame, payload) {
		t.Errorf("got % x, want % x", frame, payload)
	}
	if _, ok, err := sc.ReadFrame(context.Background(), 20*time.Millisecond); ok || err != nil {
		t.Errorf("got ok=%t err=%v, want a timeout", ok, err)
	}
}

func TestSLIPConnSkipsBadEscape(t *testing.T) {
	p := openPort(t)
	sc := common.NewSLIPConn(p)
	payload := []byte{0x01, 0x08, 0x04, 0x00}
	noise := []byte{0x12, 0xc0, 0x33, 0xdb, 0x00, 0x44}
	// The noise frame ends where the real one starts.
	p.Reply(append(noise, common.SLIPEncode(payload)...))
	frame, ok, err := sc.ReadFrame(context.Background(), time.Second)
	if err != nil || !ok {
		t.Fatalf("got ok=%t err=%v", ok, err)
	}
	if !bytes.Equal(frame, payload) {
		t.Errorf("got % x, want % x", frame, payload)
	}
}
