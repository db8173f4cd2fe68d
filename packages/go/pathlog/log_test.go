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

package pathlog_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/specterops/attackpath/packages/go/pathlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  slog.Level
	}{
		{"debug", "debug", slog.LevelDebug},
		{"info", "info", slog.LevelInfo},
		{"warn", "warn", slog.LevelWarn},
		{"warning alias", "warning", slog.LevelWarn},
		{"error", "error", slog.LevelError},
		{"mixed case", "DEBUG", slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pathlog.ParseLevel(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unrecognized level errors", func(t *testing.T) {
		_, err := pathlog.ParseLevel("verbose")
		assert.Error(t, err)
	})
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, pathlog.LevelFromVerbosity(true, false))
	assert.Equal(t, slog.LevelWarn, pathlog.LevelFromVerbosity(false, true))
	assert.Equal(t, slog.LevelInfo, pathlog.LevelFromVerbosity(false, false))
	assert.Equal(t, slog.LevelDebug, pathlog.LevelFromVerbosity(true, true), "verbose takes precedence over quiet")
}

func TestConfigureJSON_WritesStructuredOutput(t *testing.T) {
	var buf bytes.Buffer
	pathlog.ConfigureJSON(&buf, slog.LevelInfo)

	slog.Info("hello", "key", "value")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"key":"value"`)
}
