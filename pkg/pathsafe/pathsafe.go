/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package pathsafe validates guest-supplied mount paths before they're
// resolved against the volume table.
package pathsafe

import (
	"fmt"
	"regexp"
	"strings"
)

var driveLetter = regexp.MustCompile(`^[A-Za-z]:`)

// Validate rejects paths that could escape the volume they're mounted
// under. A leading "/" is always allowed, since mount points are declared
// as absolute guest paths (the documented rust-wasi-tutorial scenario
// mounts /input and /output); a path without one is not rejected either.
func Validate(p string) error {
	if driveLetter.MatchString(p) {
		return fmt.Errorf("pathsafe: %q: drive-letter prefixed paths are not allowed", p)
	}

	rest := strings.TrimPrefix(p, "/")
	for _, seg := range strings.Split(rest, "/") {
		switch seg {
		case "..":
			return fmt.Errorf("pathsafe: %q: parent-directory segments are not allowed", p)
		case ".":
			return fmt.Errorf("pathsafe: %q: current-directory segments are not allowed", p)
		}
	}
	return nil
}
