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

package adgraph_test

import (
	"testing"

	"github.com/specterops/attackpath/packages/go/adgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostStatements_ExactlyTwelve(t *testing.T) {
	statements := adgraph.CostStatements()
	require.Len(t, statements, 12)
}

func TestCostStatements_Idempotent(t *testing.T) {
	first := adgraph.CostStatements()
	second := adgraph.CostStatements()
	assert.Equal(t, first, second)
}

func TestCostRule_CypherStatement(t *testing.T) {
	tests := []struct {
		name string
		rule adgraph.CostRule
		want string
	}{
		{
			name: "member of group",
			rule: adgraph.CostRule{Relationships: []adgraph.Kind{adgraph.MemberOf}, TargetKinds: []adgraph.Kind{adgraph.KindGroup}, Cost: 0},
			want: "MATCH (n)-[r:MemberOf]->(m:Group) SET r.cost = 0",
		},
		{
			name: "has session unrestricted target",
			rule: adgraph.CostRule{Relationships: []adgraph.Kind{adgraph.HasSession}, Cost: 3},
			want: "MATCH (n)-[r:HasSession]->(m) SET r.cost = 3",
		},
		{
			name: "multi relationship multi cost domain",
			rule: adgraph.CostRule{
				Relationships: []adgraph.Kind{adgraph.GetChanges, adgraph.GetChangesAll},
				TargetKinds:   []adgraph.Kind{adgraph.KindDomain},
				Cost:          2,
			},
			want: "MATCH (n)-[r:GetChanges|GetChangesAll]->(m:Domain) SET r.cost = 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.CypherStatement())
		})
	}
}

func TestRecognizedRelationships_CoveredByCostTable(t *testing.T) {
	covered := make(map[adgraph.Kind]bool)
	for _, rule := range adgraph.CostTable {
		for _, rel := range rule.Relationships {
			covered[rel] = true
		}
	}

	for _, rel := range adgraph.RecognizedRelationships {
		assert.True(t, covered[rel], "relationship %s has no cost rule", rel)
	}
}

func TestWithoutMemberOf_ExcludesMemberOfOnly(t *testing.T) {
	filtered := adgraph.WithoutMemberOf()
	assert.Len(t, filtered, len(adgraph.RecognizedRelationships)-1)
	for _, k := range filtered {
		assert.NotEqual(t, adgraph.MemberOf, k)
	}
}
