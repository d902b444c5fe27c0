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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/golang/glog"
)

func Reportf(f string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	glog.Infof(f, args...)
}

func Warnf(f string, args ...interface{}) {
	color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: "+f+"\n", args...)
	glog.Warningf(f, args...)
}

// ConsolePrompt asks yes/no questions on the terminal. All prompts share one
// goroutine reading lines from In, so an answer typed after a cancelled
// prompt goes to the next one.
type ConsolePrompt struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan string
}

func NewConsolePrompt() *ConsolePrompt {
	return &ConsolePrompt{In: os.Stdin, Out: os.Stderr}
}

func (cp *ConsolePrompt) readLines() {
	defer close(cp.lines)
	br := bufio.NewReader(cp.In)
	for {
		line, err := br.ReadString('\n')
		if err == nil || line != "" {
			cp.lines <- strings.TrimSpace(line)
		}
		if err != nil {
			return
		}
	}
}

func (cp *ConsolePrompt) Confirm(ctx context.Context, message string) (bool, error) {
	cp.once.Do(func() {
		cp.lines = make(chan string)
		go cp.readLines()
	})
	color.New(color.FgYellow).Fprintf(cp.Out, "%s\n", message)
	fmt.Fprintf(cp.Out, "Continue? [y/N] ")
	select {
	case ans, ok := <-cp.lines:
		if !ok {
			fmt.Fprintln(cp.Out)
			return false, nil
		}
		glog.V(1).Infof("prompt answer: %q", ans)
		switch strings.ToLower(ans) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	case <-ctx.Done():
		fmt.Fprintln(cp.Out)
		return false, ctx.Err()
	}
}

// ProgressPrinter renders upload progress as a single updating line.
type ProgressPrinter struct {
	Out  io.Writer
	last int
	done bool
}

func NewProgressPrinter() *ProgressPrinter {
	return &ProgressPrinter{Out: os.Stderr, last: -1}
}

func (pp *ProgressPrinter) Report(percent int, message string) {
	glog.V(1).Infof("progress %d%% %s", percent, message)
	if pp.done || percent == pp.last {
		return
	}
	pp.last = percent
	c := color.New(color.FgCyan)
	if percent >= 100 {
		c = color.New(color.FgGreen)
		pp.done = true
	}
	c.Fprintf(pp.Out, "\r[%3d%%]", percent)
	fmt.Fprintf(pp.Out, " %-50s", FirstN(message, 50))
	if pp.done {
		fmt.Fprintln(pp.Out)
	}
}

func FirstN(s string, n int) string {
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}
