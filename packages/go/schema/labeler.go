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

// Package schema applies the edge-cost labels and the schema-preparation
// steps (custom schema file, missing-highvalue patch, DCSync elevation) that
// must run before the path enumerator can trust the graph's cost and
// highvalue properties.
package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/specterops/attackpath/packages/go/adgraph"
	"github.com/specterops/attackpath/packages/go/graphclient"
)

// ApplyCostLabels writes a canonical cost value onto every edge of a
// recognized relationship type (§4.1). It is idempotent: re-running
// overwrites prior costs to the same canonical values.
func ApplyCostLabels(ctx context.Context, client graphclient.Client) error {
	slog.Info("setting edge costs")

	for _, stmt := range adgraph.CostStatements() {
		if _, err := client.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("%w: labeling edge costs: %w", graphclient.ErrQuery, err)
		}
	}

	return nil
}
