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

package riskresults_test

import (
	"testing"

	"github.com/specterops/attackpath/packages/go/adgraph"
	"github.com/specterops/attackpath/packages/go/riskresults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearPath() adgraph.Path {
	nodeLabels := []string{"G1", "G2", "C", "D_hv"}
	relLabels := []adgraph.Kind{adgraph.MemberOf, adgraph.AdminTo, adgraph.HasSession}
	return adgraph.Path{
		StartNode:  "G1",
		NodeLabels: nodeLabels,
		RelLabels:  relLabels,
		Hops:       3,
		Cost:       4,
		FullPath:   adgraph.FullPathString(nodeLabels, relLabels),
	}
}

func TestSynthesize_LinearFourNodeGraph(t *testing.T) {
	members := map[string][]string{"G1": {"U"}}

	results := riskresults.Synthesize([]adgraph.Path{linearPath()}, nil, members, 1)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "G1", got.StartNode)
	assert.Equal(t, 1, got.NumUsers)
	assert.Equal(t, 100.0, got.Percentage)
	assert.Equal(t, 3, got.Hops)
	assert.Equal(t, 4, got.Cost)
	assert.Equal(t, 60.0, got.RiskScore)
	assert.Contains(t, got.Query, "match p=(({name:'G1'})-[:MemberOf]->({name:'G2'})-[:AdminTo]->({name:'C'})-[:HasSession]->({name:'D_hv'})) return p")
	assert.NotEmpty(t, got.UID)
}

func TestSynthesize_UserRootedPathHasSingleMember(t *testing.T) {
	nodeLabels := []string{"bob", "D_hv"}
	relLabels := []adgraph.Kind{adgraph.AdminTo}
	userPath := adgraph.Path{
		StartNode:  "bob",
		NodeLabels: nodeLabels,
		RelLabels:  relLabels,
		Hops:       1,
		Cost:       1,
		FullPath:   adgraph.FullPathString(nodeLabels, relLabels),
	}

	results := riskresults.Synthesize(nil, []adgraph.Path{userPath}, nil, 10)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].NumUsers)
	assert.Equal(t, 10.0, results[0].Percentage)
}

func TestSynthesize_NoPathsReturnsEmpty(t *testing.T) {
	assert.Empty(t, riskresults.Synthesize(nil, nil, nil, 5))
}

func TestDedupByStartNode_KeepsHighestRiskPerStartNode(t *testing.T) {
	results := []adgraph.Result{
		{StartNode: "G1", RiskScore: 40.0},
		{StartNode: "G1", RiskScore: 60.0},
		{StartNode: "G2", RiskScore: 10.0},
	}

	deduped := riskresults.DedupByStartNode(results)
	require.Len(t, deduped, 2)
	assert.Equal(t, "G1", deduped[0].StartNode)
	assert.Equal(t, 60.0, deduped[0].RiskScore)
	assert.Equal(t, "G2", deduped[1].StartNode)
}

func TestSortAndTruncate_RiskDefaultOrdering(t *testing.T) {
	results := []adgraph.Result{
		{StartNode: "A", RiskScore: 10, Cost: 1, Hops: 1},
		{StartNode: "B", RiskScore: 90, Cost: 5, Hops: 3},
		{StartNode: "C", RiskScore: 90, Cost: 2, Hops: 2},
	}

	top := riskresults.SortAndTruncate(results, riskresults.SortByRisk, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "C", top[0].StartNode, "tie-broken by lower cost")
	assert.Equal(t, "B", top[1].StartNode)
}

func TestSortAndTruncate_ByUsers(t *testing.T) {
	results := []adgraph.Result{
		{StartNode: "A", Percentage: 10},
		{StartNode: "B", Percentage: 90},
	}

	top := riskresults.SortAndTruncate(results, riskresults.SortByUsers, 0)
	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].StartNode)
}

func TestSortAndTruncate_ByHops(t *testing.T) {
	results := []adgraph.Result{
		{StartNode: "A", Hops: 5},
		{StartNode: "B", Hops: 1},
	}

	top := riskresults.SortAndTruncate(results, riskresults.SortByHops, 0)
	require.Len(t, top, 2)
	assert.Equal(t, "B", top[0].StartNode)
}

func TestTotalUniqueUsersWithPath_UnionsGroupMembersAndUserRootedPaths(t *testing.T) {
	members := map[string][]string{
		"G1": {"alice", "bob"},
		"G2": {"bob", "carol"},
	}
	userPaths := []adgraph.Path{{StartNode: "dave"}, {StartNode: "alice"}}

	assert.Equal(t, 4, riskresults.TotalUniqueUsersWithPath(members, userPaths))
}
