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
package multierror

import (
	"bytes"
	"fmt"
)

// Error bundles multiple errors and makes them obey the error interface.
type Error struct {
	errs []error
}

func (e *Error) Error() string {
	buf := bytes.NewBuffer(nil)

	fmt.Fprintf(buf, "%d error(s) occurred:", len(e.errs))
	for _, err := range e.errs {
		fmt.Fprintf(buf, "\n%s", err)
	}
	return buf.String()
}

// Append adds errs to err. Nil errors in errs are skipped, and if nothing
// non-nil remains, err is returned unchanged (possibly nil). err can be nil,
// a *Error or any other error.
func Append(err error, errs ...error) error {
	var nn []error
	for _, e := range errs {
		if e != nil {
			nn = append(nn, e)
		}
	}
	if len(nn) == 0 {
		return err
	}
	if err == nil {
		return &Error{nn}
	}
	switch err := err.(type) {
	case *Error:
		err.errs = append(err.errs, nn...)
		return err
	default:
		return &Error{append([]error{err}, nn...)}
	}
}

// ErrorOrNil collapses a single bundled error to itself.
func ErrorOrNil(err error) error {
	if me, ok := err.(*Error); ok && len(me.errs) == 1 {
		return me.errs[0]
	}
	return err
}
