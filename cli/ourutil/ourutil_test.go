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
package ourutil

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestConsolePrompt(t *testing.T) {
	for _, c := range []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"\n", false},
		{"n\n", false},
		{"", false},
	} {
		var out bytes.Buffer
		cp := &ConsolePrompt{In: strings.NewReader(c.in), Out: &out}
		got, err := cp.Confirm(context.Background(), "Press reset twice")
		if err != nil {
			t.Errorf("%q: unexpected error: %s", c.in, err)
		}
		if got != c.want {
			t.Errorf("%q: got %t, want %t", c.in, got, c.want)
		}
		if !strings.Contains(out.String(), "Press reset twice") {
			t.Errorf("%q: message not shown: %q", c.in, out.String())
		}
	}
}

type blockingReader struct{ ch chan struct{} }

func (br blockingReader) Read(p []byte) (int, error) {
	<-br.ch
	return 0, nil
}

func TestConsolePromptCancelled(t *testing.T) {
	br := blockingReader{ch: make(chan struct{})}
	defer close(br.ch)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	cp := &ConsolePrompt{In: br, Out: &out}
	if _, err := cp.Confirm(ctx, "?"); err != context.DeadlineExceeded {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestConsolePromptSharesInput(t *testing.T) {
	var out bytes.Buffer
	cp := &ConsolePrompt{In: strings.NewReader("n\ny\n"), Out: &out}
	for i, want := range []bool{false, true, false} {
		got, err := cp.Confirm(context.Background(), "Reset the board")
		if err != nil {
			t.Fatalf("%d: unexpected error: %s", i, err)
		}
		if got != want {
			t.Errorf("%d: got %t, want %t", i, got, want)
		}
	}
}

func TestConsolePromptAnswerAfterCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var out bytes.Buffer
	cp := &ConsolePrompt{In: pr, Out: &out}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := cp.Confirm(ctx, "first"); err != context.Canceled {
		t.Fatalf("got %v, want canceled", err)
	}
	go pw.Write([]byte("yes\n"))
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	got, err := cp.Confirm(ctx2, "second")
	if err != nil || !got {
		t.Errorf("got %t %v, want true", got, err)
	}
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	pp := &ProgressPrinter{Out: &out, last: -1}
	pp.Report(0, "Erasing")
	pp.Report(0, "Erasing")
	pp.Report(50, "Writing chunk 2/4")
	pp.Report(100, "Done")
	pp.Report(100, "Done")
	s := out.String()
	if n := strings.Count(s, "\r"); n != 3 {
		t.Errorf("got %d updates, want 3: %q", n, s)
	}
	if !strings.Contains(s, "[ 50%] Writing chunk 2/4") {
		t.Errorf("unexpected output %q", s)
	}
	if !strings.HasSuffix(s, "\n") {
		t.Errorf("no final newline: %q", s)
	}
}
