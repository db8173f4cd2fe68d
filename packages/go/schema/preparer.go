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

package schema

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/specterops/attackpath/packages/go/graphclient"
)

// ErrSchemaFile reports that the custom schema file could not be read, or
// that one of its statements failed (§7 SchemaFileError).
var ErrSchemaFile = errors.New("schema file error")

// ApplyCustomSchema reads path as whitespace-delimited Cypher statements, one
// per line, blank lines ignored, and executes each in order. A syntax error
// in any statement aborts the whole operation.
func ApplyCustomSchema(ctx context.Context, client graphclient.Client, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrSchemaFile, path, err)
	}
	defer file.Close()

	slog.Info("applying custom schema", "path", path)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if _, err := client.Run(ctx, line, nil); err != nil {
			return fmt.Errorf("%w: statement %q: %w", ErrSchemaFile, line, err)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: reading %s: %w", ErrSchemaFile, path, err)
	}

	slog.Info("custom schema applied")
	return nil
}

// PatchHighValue sets highvalue = false on every base-labeled node whose
// highvalue property is null, restoring the two-valued invariant every
// subsequent query assumes (§4.2 item 2). BloodHound collections predating
// the highvalue-tagging convention leave this property unset.
func PatchHighValue(ctx context.Context, client graphclient.Client) error {
	slog.Info("patching missing highvalue attribute")

	const stmt = `MATCH (n:Base) WHERE n.highvalue IS NULL SET n.highvalue = false`
	if _, err := client.Run(ctx, stmt, nil); err != nil {
		return fmt.Errorf("%w: patching highvalue: %w", graphclient.ErrQuery, err)
	}

	return nil
}
