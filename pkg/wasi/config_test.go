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

import "testing"

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if cfg.MemoryLimitPages != 0 || cfg.Optimize || cfg.SGX {
		t.Fatalf("ConfigFromEnv() = %+v, want zero value", cfg)
	}
}

func TestConfigFromEnvMemory(t *testing.T) {
	t.Setenv(envInitMem, "128kb")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if cfg.MemoryLimitPages != 2 {
		t.Fatalf("MemoryLimitPages = %d, want 2", cfg.MemoryLimitPages)
	}
}

func TestConfigFromEnvMemoryRoundsUp(t *testing.T) {
	t.Setenv(envInitMem, "70000b")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() error = %v", err)
	}
	if cfg.MemoryLimitPages != 2 {
		t.Fatalf("MemoryLimitPages = %d, want 2 (rounded up)", cfg.MemoryLimitPages)
	}
}

func TestConfigFromEnvInvalidMemoryIsFatal(t *testing.T) {
	t.Setenv(envInitMem, "not-a-size")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("ConfigFromEnv() error = nil, want error for malformed memory size")
	}
}

func TestConfigFromEnvInvalidBoolIsFatal(t *testing.T) {
	t.Setenv(envOpt, "maybe")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("ConfigFromEnv() error = nil, want error for malformed bool")
	}
}
