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
	"bytes"
	"context"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

const (
	// https://tools.ietf.org/html/rfc1055
	slipFrameDelimiter       = 0xC0
	slipEscape               = 0xDB
	slipEscapeFrameDelimiter = 0xDC
	slipEscapeEscape         = 0xDD
)

// SLIPEncode wraps data in a SLIP frame.
func SLIPEncode(data []byte) []byte {
	frame := []byte{slipFrameDelimiter}
	for _, b := range data {
		switch b {
		case slipFrameDelimiter:
			frame = append(frame, slipEscape, slipEscapeFrameDelimiter)
		case slipEscape:
			frame = append(frame, slipEscape, slipEscapeEscape)
		default:
			frame = append(frame, b)
		}
	}
	return append(frame, slipFrameDelimiter)
}

// SLIPDecode extracts the first complete frame from buf and returns it along
// with the unconsumed remainder. Bytes before the first delimiter are dropped.
// found is false if buf does not contain a complete frame yet. A frame that
// cannot be unescaped is consumed and reported as an error.
func SLIPDecode(buf []byte) (frame, rest []byte, found bool, err error) {
	for {
		start := bytes.IndexByte(buf, slipFrameDelimiter)
		if start < 0 {
			return nil, nil, false, nil
		}
		end := bytes.IndexByte(buf[start+1:], slipFrameDelimiter)
		if end < 0 {
			return nil, buf[start:], false, nil
		}
		end += start + 1
		if end == start+1 {
			// Back to back delimiters, the second one starts the frame.
			buf = buf[end:]
			continue
		}
		frame, err = slipUnescape(buf[start+1 : end])
		if err != nil {
			// The closing delimiter may open the next frame.
			return nil, buf[end:], false, err
		}
		return frame, buf[end+1:], true, nil
	}
}

func slipUnescape(data []byte) ([]byte, error) {
	res := make([]byte, 0, len(data))
	esc := false
	for _, b := range data {
		if !esc {
			if b == slipEscape {
				esc = true
			} else {
				res = append(res, b)
			}
			continue
		}
		switch b {
		case slipEscapeFrameDelimiter:
			res = append(res, slipFrameDelimiter)
		case slipEscapeEscape:
			res = append(res, slipEscape)
		default:
			return nil, errors.Errorf("invalid SLIP escape sequence: 0x%02x", b)
		}
		esc = false
	}
	if esc {
		return nil, errors.Errorf("truncated SLIP escape sequence")
	}
	return res, nil
}

// SLIPConn exchanges SLIP frames over a Transport.
type SLIPConn struct {
	t   Transport
	buf []byte
}

func NewSLIPConn(t Transport) *SLIPConn {
	return &SLIPConn{t: t}
}

func (sc *SLIPConn) WriteFrame(ctx context.Context, data []byte) error {
	glog.V(4).Infof("=> (%d) %s", len(data), LimitStr(data, 32))
	return errors.Trace(sc.t.Write(ctx, SLIPEncode(data)))
}

// ReadFrame waits at most timeout for the next complete frame. Frames that
// cannot be decoded, e.g. line noise at the wrong rate, are skipped.
// ok is false if the timeout expired first.
func (sc *SLIPConn) ReadFrame(ctx context.Context, timeout time.Duration) (frame []byte, ok bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		frame, rest, found, err := SLIPDecode(sc.buf)
		sc.buf = rest
		if err != nil {
			glog.V(2).Infof("skipping undecodable frame: %s", err)
			continue
		}
		if found {
			glog.V(4).Infof("<= (%d) %s", len(frame), LimitStr(frame, 32))
			return frame, true, nil
		}
		res, err := ReadWithTimeout(ctx, sc.t, time.Until(deadline))
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		switch r := res.(type) {
		case TimedOut:
			return nil, false, nil
		case Data:
			sc.buf = append(sc.buf, r.Bytes...)
			if r.Done {
				for {
					frame, rest, found, err := SLIPDecode(sc.buf)
					sc.buf = rest
					if found {
						return frame, true, nil
					}
					if err == nil {
						return nil, false, errors.Trace(io.EOF)
					}
				}
			}
		}
	}
}

// Reset drops any partially received frame along with unread input.
func (sc *SLIPConn) Reset() error {
	sc.buf = nil
	return errors.Trace(sc.t.Flush())
}
