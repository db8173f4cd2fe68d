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

package pipeline_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/specterops/attackpath/internal/pipeline"
	"github.com/specterops/attackpath/packages/go/graphclient"
	"github.com/specterops/attackpath/packages/go/graphclient/graphclienttest"
	"github.com/specterops/attackpath/packages/go/pipelinecfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func baseConfig(t *testing.T) *pipelinecfg.Config {
	t.Helper()
	return &pipelinecfg.Config{
		Server:       "bolt://localhost:7687",
		Username:     "neo4j",
		Password:     "password",
		OutputFormat: "stdout",
		Results:      5,
		Sort:         "risk",
		SQLPath:      filepath.Join(t.TempDir(), "history.db"),
		LogFormat:    "text",
	}
}

// stubClient dispatches every Run/Scalar call to rowsByQuery keyed on a
// substring of the statement, defaulting to an empty result. This avoids
// ordering pitfalls with gomock's first-match expectation semantics when a
// single pipeline run issues dozens of structurally different queries.
type rowsByQuery map[string][]graphclient.Row

func stubClient(t *testing.T, client *graphclienttest.MockClient, rows rowsByQuery, scalar any) {
	t.Helper()

	client.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, stmt string, _ map[string]any) ([]graphclient.Row, error) {
			for substr, result := range rows {
				if strings.Contains(stmt, substr) {
					return result, nil
				}
			}
			return nil, nil
		},
	).AnyTimes()

	client.EXPECT().Scalar(gomock.Any(), gomock.Any(), gomock.Any()).Return(scalar, nil).AnyTimes()
}

func TestRun_NoPathsFoundExitsSuccessWithMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)
	stubClient(t, client, rowsByQuery{}, int64(0))

	cfg := baseConfig(t)
	cfg.DBSkip = true

	var out bytes.Buffer
	code := pipeline.RunWithClient(context.Background(), cfg, client, &out)

	assert.Equal(t, pipeline.ExitSuccess, code)
	assert.Contains(t, out.String(), "Congratulations")
}

func TestRun_HappyPathRendersReportAndExitsSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)

	groupRow := graphclient.Row{
		"startnode":  "IT Admins",
		"hops":       int64(1),
		"cost":       int64(1),
		"nodeLabels": []any{"IT Admins", "DOMAIN ADMINS"},
		"relLabels":  []any{"AdminTo"},
		"full_path":  "IT Admins - AdminTo -> DOMAIN ADMINS",
		"sid":        "S-1-5-21-GROUP",
	}

	stubClient(t, client, rowsByQuery{
		"shortestpath((root:Group": {groupRow},
		"RETURN DISTINCT u.name AS member": {
			{"member": "alice"}, {"member": "bob"},
		},
	}, int64(10))

	cfg := baseConfig(t)
	cfg.DBSkip = true

	var out bytes.Buffer
	code := pipeline.RunWithClient(context.Background(), cfg, client, &out)

	require.Equal(t, pipeline.ExitSuccess, code)
	assert.Contains(t, out.String(), "GRAND TOTALS")
	assert.Contains(t, out.String(), "IT Admins")
}

func TestRun_SchemaPreparationFailurePropagatesExitFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)

	client.EXPECT().Run(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, assert.AnError).AnyTimes()

	cfg := baseConfig(t)
	cfg.DBSkip = true

	var out bytes.Buffer
	code := pipeline.RunWithClient(context.Background(), cfg, client, &out)

	assert.Equal(t, pipeline.ExitFailure, code)
}
