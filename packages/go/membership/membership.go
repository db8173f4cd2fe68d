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

// Package membership expands a set of starting groups into their transitive,
// deduplicated user membership (§4.4). Each root is resolved with a worklist
// breadth-first search over the group/subgroup graph; a bitmap keyed by each
// subgroup's internal graph ID guards against re-expanding the same subgroup
// twice within one root's traversal, so cycles in the MemberOf graph cannot
// cause non-termination.
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/specterops/attackpath/packages/go/adgraph"
	"github.com/specterops/attackpath/packages/go/graphclient"
	"golang.org/x/sync/errgroup"
)

const (
	directMembersQuery = `MATCH (u:User {highvalue:false, enabled:true})-[:MemberOf]->(g:Group {name:$name}) RETURN DISTINCT u.name AS member`
	directGroupsQuery  = `MATCH (g:Group {highvalue:false})-[:MemberOf]->(g1:Group {name:$name}) RETURN DISTINCT g.name AS groupname, id(g) AS gid`
)

type subgroup struct {
	name string
	id   int64
}

// Expander resolves group memberships against a graph client, memoizing the
// fully-expanded member set of every root group it has already processed.
type Expander struct {
	client graphclient.Client

	mu    sync.Mutex
	cache map[string][]string
}

// NewExpander constructs an Expander with an empty memoization cache.
func NewExpander(client graphclient.Client) *Expander {
	return &Expander{client: client, cache: make(map[string][]string)}
}

func (e *Expander) lookup(groupName string) ([]string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	members, ok := e.cache[groupName]
	return members, ok
}

// publish records a root group's fully-expanded member set. It must only be
// called once the set is complete: a partially-expanded set published early
// would be spliced, incomplete, into any other root's traversal that visits
// the same group name (§4.4 Memoization correctness requirement).
func (e *Expander) publish(groupName string, members []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache[groupName] = members
}

// ExpandGroups resolves the transitive membership of each group name in
// groupNames, processing roots sequentially. The order in which roots are
// processed does not affect the result, since the memoization cache is only
// ever read for groups from a fully completed prior root.
func (e *Expander) ExpandGroups(ctx context.Context, groupNames []string) ([]adgraph.GroupMembers, error) {
	results := make([]adgraph.GroupMembers, 0, len(groupNames))

	for _, root := range groupNames {
		if cached, ok := e.lookup(root); ok {
			results = append(results, adgraph.GroupMembers{GroupName: root, Members: cached})
			continue
		}

		members, err := e.expandRoot(ctx, root)
		if err != nil {
			return nil, err
		}

		e.publish(root, members)
		results = append(results, adgraph.GroupMembers{GroupName: root, Members: members})
	}

	return results, nil
}

// ExpandGroupsConcurrent is the concurrent variant of ExpandGroups, bounding
// the number of roots expanded in parallel to concurrency (§5). Each root
// still publishes its member set atomically only once fully resolved; two
// roots racing on an as-yet-unpublished shared subgroup may each redo that
// subgroup's expansion, which is wasted work, not an incorrectness, since
// expansion is a pure read with no side effects on the graph.
func (e *Expander) ExpandGroupsConcurrent(ctx context.Context, groupNames []string, concurrency int) ([]adgraph.GroupMembers, error) {
	if concurrency <= 1 {
		return e.ExpandGroups(ctx, groupNames)
	}

	results := make([]adgraph.GroupMembers, len(groupNames))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for i, root := range groupNames {
		i, root := i, root
		group.Go(func() error {
			if cached, ok := e.lookup(root); ok {
				results[i] = adgraph.GroupMembers{GroupName: root, Members: cached}
				return nil
			}

			members, err := e.expandRoot(gctx, root)
			if err != nil {
				return err
			}

			e.publish(root, members)
			results[i] = adgraph.GroupMembers{GroupName: root, Members: members}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (e *Expander) expandRoot(ctx context.Context, root string) ([]string, error) {
	slog.Debug("expanding group membership", "group", root)

	accumulated := make([]string, 0)
	seen := make(map[string]struct{})
	addMembers := func(names []string) {
		for _, name := range names {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				accumulated = append(accumulated, name)
			}
		}
	}

	directMembers, err := e.directMembers(ctx, root)
	if err != nil {
		return nil, err
	}
	addMembers(directMembers)

	directGroups, err := e.directGroupMembers(ctx, root)
	if err != nil {
		return nil, err
	}

	visited := roaring.New()
	queue := make([]subgroup, 0, len(directGroups))
	for _, g := range directGroups {
		if cached, ok := e.lookup(g.name); ok {
			addMembers(cached)
			continue
		}
		if visited.CheckedAdd(uint32(g.id)) {
			queue = append(queue, g)
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if cached, ok := e.lookup(current.name); ok {
			addMembers(cached)
			continue
		}

		subMembers, err := e.directMembers(ctx, current.name)
		if err != nil {
			return nil, err
		}
		addMembers(subMembers)

		subGroups, err := e.directGroupMembers(ctx, current.name)
		if err != nil {
			return nil, err
		}

		for _, sg := range subGroups {
			if cached, ok := e.lookup(sg.name); ok {
				addMembers(cached)
				continue
			}
			if visited.CheckedAdd(uint32(sg.id)) {
				queue = append(queue, sg)
			}
		}
	}

	return accumulated, nil
}

func (e *Expander) directMembers(ctx context.Context, group string) ([]string, error) {
	rows, err := e.client.Run(ctx, directMembersQuery, map[string]any{"name": group})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching direct members of %s: %w", graphclient.ErrQuery, group, err)
	}

	members := make([]string, 0, len(rows))
	for _, row := range rows {
		if name, ok := row["member"].(string); ok {
			members = append(members, name)
		}
	}
	return members, nil
}

func (e *Expander) directGroupMembers(ctx context.Context, group string) ([]subgroup, error) {
	rows, err := e.client.Run(ctx, directGroupsQuery, map[string]any{"name": group})
	if err != nil {
		return nil, fmt.Errorf("%w: fetching direct subgroups of %s: %w", graphclient.ErrQuery, group, err)
	}

	groups := make([]subgroup, 0, len(rows))
	for _, row := range rows {
		name, _ := row["groupname"].(string)
		groups = append(groups, subgroup{name: name, id: asInt64(row["gid"])})
	}
	return groups, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}
