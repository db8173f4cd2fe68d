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

package membership_test

import (
	"context"
	"testing"

	"github.com/specterops/attackpath/packages/go/graphclient"
	"github.com/specterops/attackpath/packages/go/graphclient/graphclienttest"
	"github.com/specterops/attackpath/packages/go/membership"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const directMembersQuery = `MATCH (u:User {highvalue:false, enabled:true})-[:MemberOf]->(g:Group {name:$name}) RETURN DISTINCT u.name AS member`
const directGroupsQuery = `MATCH (g:Group {highvalue:false})-[:MemberOf]->(g1:Group {name:$name}) RETURN DISTINCT g.name AS groupname, id(g) AS gid`

func TestExpandGroups_SingleGroupNoNesting(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)

	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "IT Admins"}).
		Return([]graphclient.Row{{"member": "alice"}, {"member": "bob"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "IT Admins"}).
		Return(nil, nil)

	expander := membership.NewExpander(client)
	results, err := expander.ExpandGroups(context.Background(), []string{"IT Admins"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "IT Admins", results[0].GroupName)
	assert.ElementsMatch(t, []string{"alice", "bob"}, results[0].Members)
}

func TestExpandGroups_NestedSubgroup(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)

	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "Parent"}).
		Return([]graphclient.Row{{"member": "alice"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "Parent"}).
		Return([]graphclient.Row{{"groupname": "Child", "gid": int64(1)}}, nil)
	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "Child"}).
		Return([]graphclient.Row{{"member": "bob"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "Child"}).
		Return(nil, nil)

	expander := membership.NewExpander(client)
	results, err := expander.ExpandGroups(context.Background(), []string{"Parent"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, results[0].Members)
}

func TestExpandGroups_CycleTerminatesWithUnionOfMembers(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)

	// G1 -[MemberOf]-> G2 -[MemberOf]-> G1, G1 has U1, G2 has U2 (scenario B).
	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "G1"}).
		Return([]graphclient.Row{{"member": "U1"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "G1"}).
		Return([]graphclient.Row{{"groupname": "G2", "gid": int64(2)}}, nil)
	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "G2"}).
		Return([]graphclient.Row{{"member": "U2"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "G2"}).
		Return([]graphclient.Row{{"groupname": "G1", "gid": int64(1)}}, nil)

	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "G1"}).
		Return([]graphclient.Row{{"member": "U1"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "G1"}).
		Return([]graphclient.Row{{"groupname": "G2", "gid": int64(2)}}, nil)

	// G1 is now published; expanding G2 as its own root re-fetches G2's direct
	// members (G1 is found via the memoization cache, not re-traversed).
	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "G2"}).
		Return([]graphclient.Row{{"member": "U2"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "G2"}).
		Return([]graphclient.Row{{"groupname": "G1", "gid": int64(1)}}, nil)

	expander := membership.NewExpander(client)
	results, err := expander.ExpandGroups(context.Background(), []string{"G1", "G2"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, result := range results {
		assert.ElementsMatch(t, []string{"U1", "U2"}, result.Members, "group %s", result.GroupName)
	}
}

func TestExpandGroups_SecondRootReusesCachedFirstRoot(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)

	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "Cached"}).
		Return([]graphclient.Row{{"member": "alice"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "Cached"}).
		Return(nil, nil)

	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "Outer"}).
		Return(nil, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "Outer"}).
		Return([]graphclient.Row{{"groupname": "Cached", "gid": int64(9)}}, nil)

	expander := membership.NewExpander(client)

	first, err := expander.ExpandGroups(context.Background(), []string{"Cached"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, first[0].Members)

	second, err := expander.ExpandGroups(context.Background(), []string{"Outer"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, second[0].Members)
}

func TestExpandGroupsConcurrent_MatchesSequentialResult(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := graphclienttest.NewMockClient(ctrl)

	client.EXPECT().Run(gomock.Any(), directMembersQuery, map[string]any{"name": "Solo"}).
		Return([]graphclient.Row{{"member": "alice"}}, nil)
	client.EXPECT().Run(gomock.Any(), directGroupsQuery, map[string]any{"name": "Solo"}).
		Return(nil, nil)

	expander := membership.NewExpander(client)
	results, err := expander.ExpandGroupsConcurrent(context.Background(), []string{"Solo"}, 4)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"alice"}, results[0].Members)
}
