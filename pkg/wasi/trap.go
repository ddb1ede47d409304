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

package wasi

import (
	"errors"
	"runtime"

	"github.com/tetratelabs/wazero/sys"
)

// exitCodeFromTrap translates whatever the guest module did into a process
// exit code, the way the original runtime's wasmtime trap handling did:
// a typed proc_exit becomes that status (clamped to 1 on Windows above 2, to
// match that platform's narrower status range); anything else (an untyped
// trap — divide by zero, unreachable, out-of-bounds memory access, ...)
// becomes the conventional "killed by SIGABRT" status on POSIX, or 3 on
// Windows.
func exitCodeFromTrap(runErr error) int {
	if runErr == nil {
		return 0
	}

	var exitErr *sys.ExitError
	if errors.As(runErr, &exitErr) {
		status := int(exitErr.ExitCode())
		if runtime.GOOS == "windows" && status >= 3 {
			return 1
		}
		return status
	}

	if runtime.GOOS == "windows" {
		return 3
	}
	return 128 + abortSignal
}
