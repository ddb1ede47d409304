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

// Package log provides a thin, context-carrying wrapper around logrus for
// the rest of the runtime.
package log

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

// L is the package default logger, configured the way the CLI configures it.
var L = logrus.NewEntry(logrus.StandardLogger())

func init() {
	L.Logger.SetFormatter(&logrus.TextFormatter{
		PadLevelText: true,
	})
}

// WithLogger returns a new context with the given logger attached.
func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// G returns the logger attached to ctx, or the package default.
func G(ctx context.Context) *logrus.Entry {
	if logger, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return logger
	}
	return L
}

// SetLevel raises or lowers the default logger's level.
func SetLevel(level logrus.Level) {
	L.Logger.SetLevel(level)
}

// SetLevelFromString parses name as a logrus level (e.g. "debug", "warn")
// and applies it, returning an error if name isn't a recognised level.
func SetLevelFromString(name string) error {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	SetLevel(level)
	return nil
}

// ShortenPath strips workDir from p for logging, falling back to the base
// name when p isn't inside workDir. Mirrors the original runtime's habit of
// never leaking the full host filesystem layout into diagnostics.
func ShortenPath(workDir, p string) string {
	if rel, err := filepath.Rel(workDir, p); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return filepath.Base(p)
}
