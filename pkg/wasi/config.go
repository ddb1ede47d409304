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
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
)

const (
	envInitMem = "YA_RUNTIME_WASI_INIT_MEM"
	envOpt     = "YA_RUNTIME_WASI_OPT"
	envSGX     = "YA_RUNTIME_WASI_SGX"

	wasmPageSize = 65536
)

// Config carries the env-var driven executor settings. A malformed value for
// a variable that is set is a fatal configuration error; an unset variable
// is never defaulted silently beyond the zero value documented here.
type Config struct {
	// MemoryLimitPages is the WASM linear memory ceiling, in 64KiB pages.
	// Zero means no limit is applied.
	MemoryLimitPages uint32
	// Optimize enables ahead-of-time compilation caching when true.
	Optimize bool
	// SGX, when true, switches the executor to wazero's interpreter engine
	// instead of the compiler, since an SGX enclave generally cannot run
	// JIT-compiled code.
	SGX bool
}

// ConfigFromEnv reads Config from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config

	if v, ok := os.LookupEnv(envInitMem); ok {
		size, err := datasize.ParseString(v)
		if err != nil {
			return Config{}, fmt.Errorf("wasi: %s=%q: %w", envInitMem, v, err)
		}
		pages := size.Bytes() / wasmPageSize
		if size.Bytes()%wasmPageSize != 0 {
			pages++
		}
		cfg.MemoryLimitPages = uint32(pages)
	}

	if v, ok := os.LookupEnv(envOpt); ok {
		b, err := parseBool(envOpt, v)
		if err != nil {
			return Config{}, err
		}
		cfg.Optimize = b
	}

	if v, ok := os.LookupEnv(envSGX); ok {
		b, err := parseBool(envSGX, v)
		if err != nil {
			return Config{}, err
		}
		cfg.SGX = b
	}

	return cfg, nil
}

func parseBool(name, v string) (bool, error) {
	switch v {
	case "1", "true", "TRUE", "yes":
		return true, nil
	case "0", "false", "FALSE", "no", "":
		return false, nil
	default:
		return false, fmt.Errorf("wasi: %s=%q: not a boolean", name, v)
	}
}
