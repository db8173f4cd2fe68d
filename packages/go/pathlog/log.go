// Copyright 2025 Specter Ops, Inc.
//
// Licensed under the Apache License, Version 2.0
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
// SPDX-License-Identifier: Apache-2.0

// Package pathlog configures the process-wide structured logger every
// pipeline stage logs through, so no component builds its own handler.
package pathlog

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a level name (debug, info, warn/warning, error; case is
// ignored) to a slog.Level. An unrecognized name is treated as an error rather than
// silently falling back, so a typo'd flag value doesn't silently run at the
// wrong verbosity.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unrecognized log level %q", name)
	}
}

// LevelFromVerbosity derives a level from the CLI's two boolean verbosity
// flags: verbose selects debug, quiet selects warn, and the default is info.
func LevelFromVerbosity(verbose, quiet bool) slog.Level {
	switch {
	case verbose:
		return slog.LevelDebug
	case quiet:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// ConfigureText installs a text-handler logger writing to w at the given
// level as the process-wide default logger.
func ConfigureText(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// ConfigureJSON installs a JSON-handler logger writing to w at the given
// level as the process-wide default logger.
func ConfigureJSON(w io.Writer, level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}
