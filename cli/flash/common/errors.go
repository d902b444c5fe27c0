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
	"fmt"
	"time"

	"github.com/juju/errors"
)

// Kind classifies flashing failures.
type Kind int

const (
	KindProtocol Kind = iota
	// Silence at the primary rate: the board is not in bootloader mode.
	KindNoResponse
	// Non-ASCII reply at every rate tried.
	KindWrongBaud
	// ESP ROM never acknowledged SYNC.
	KindSyncFailure
	// All automated detection failed, the user has to reset the board.
	KindManualInterventionRequired
	KindUserCancelled
	// An acknowledgement did not arrive in time.
	KindAckTimeout
	// The board did not answer after writing.
	KindPostWriteUnresponsive
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "protocol error"
	case KindNoResponse:
		return "no response"
	case KindWrongBaud:
		return "wrong baud rate"
	case KindSyncFailure:
		return "sync failure"
	case KindManualInterventionRequired:
		return "manual intervention required"
	case KindUserCancelled:
		return "cancelled by user"
	case KindAckTimeout:
		return "acknowledgement timeout"
	case KindPostWriteUnresponsive:
		return "unresponsive after write"
	default:
		return fmt.Sprintf("???(%d)", int(k))
	}
}

// FlashError carries the context of a failed exchange with the bootloader.
type FlashError struct {
	Kind Kind
	// Op is the last command sent.
	Op       string
	Elapsed  time.Duration
	Received []byte
	Msg      string
}

func (e *FlashError) Error() string {
	s := e.Kind.String()
	if e.Msg != "" {
		s = fmt.Sprintf("%s: %s", s, e.Msg)
	}
	if e.Op != "" {
		s = fmt.Sprintf("%s (after %s, %s", s, e.Op, e.Elapsed.Round(time.Millisecond))
		if len(e.Received) > 0 {
			s = fmt.Sprintf("%s, got %s", s, LimitStr(e.Received, 32))
		}
		s += ")"
	}
	return s
}

func NewError(kind Kind, op string, elapsed time.Duration, received []byte, format string, args ...interface{}) *FlashError {
	return &FlashError{
		Kind:     kind,
		Op:       op,
		Elapsed:  elapsed,
		Received: received,
		Msg:      fmt.Sprintf(format, args...),
	}
}

// KindOf digs the FlashError out of a traced or annotated error.
func KindOf(err error) (Kind, bool) {
	if fe, ok := errors.Cause(err).(*FlashError); ok {
		return fe.Kind, true
	}
	return KindProtocol, false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// LimitStr renders at most n bytes of b for logs and error messages.
func LimitStr(b []byte, n int) string {
	if len(b) <= n {
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%q...", b[:n])
}
