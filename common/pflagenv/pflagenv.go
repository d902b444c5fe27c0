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
package pflagenv

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
)

// ParseFlagSet fills every flag of fs that was not given on the command line
// from the environment variable named envPrefix + upper-cased flag name, with
// dashes turned into underscores (--boards-config -> BOOTFLASH_BOARDS_CONFIG).
//
// It should be called after Parse is called for the given FlagSet. The names
// of the flags that were taken from the environment are returned.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) ([]string, error) {
	var fromEnv []string
	var firstErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		v, ok := os.LookupEnv(EnvName(f.Name, envPrefix))
		if !ok || v == "" {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %s", EnvName(f.Name, envPrefix), err)
			}
			return
		}
		fromEnv = append(fromEnv, f.Name)
	})
	return fromEnv, firstErr
}

// Parse is ParseFlagSet for pflag.CommandLine.
func Parse(envPrefix string) ([]string, error) {
	return ParseFlagSet(pflag.CommandLine, envPrefix)
}

// EnvName returns the environment variable consulted for flagName.
func EnvName(flagName, envPrefix string) string {
	return envPrefix + strings.Replace(strings.ToUpper(flagName), "-", "_", -1)
}
