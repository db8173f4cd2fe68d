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

// Package pathfinder issues the shortest-path queries that discover attack
// paths from principals to high-value targets, and normalizes the resulting
// rows into adgraph.Path values (§4.3).
package pathfinder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/specterops/attackpath/packages/go/adgraph"
	"github.com/specterops/attackpath/packages/go/graphclient"
)

// ErrNoPaths reports that neither the group-rooted nor the user-rooted query
// found any path to a high-value target. The pipeline treats this as a
// successful, congratulatory termination rather than a failure (§4.3
// Termination / no-paths).
var ErrNoPaths = errors.New("no paths to high value targets")

func shortestPathQuery(rootLabel, rootFilter, relFilter string) string {
	return fmt.Sprintf(`match p=shortestpath((root%s {%s})-[:%s*1..]->(n {highvalue:true}))
where root<>n
with reduce(totalscore = 0, rels in relationships(p) | totalscore + rels.cost) as cost,
     length(p) as hops, root.name as startnode,
     [node in nodes(p) | coalesce(node.name, "")] as nodeLabels,
     [rel in relationships(p) | type(rel)] as relLabels,
     root.objectid as sid
with reduce(path="", x in range(0,hops-1) | path + nodeLabels[x] + " - " + relLabels[x] + " -> ") as path,
     nodeLabels[hops] as final_node, hops as hops, startnode as startnode, cost as cost,
     nodeLabels as nodeLabels, relLabels as relLabels, sid as sid
return startnode, hops, min(cost) as cost, nodeLabels, relLabels, path + final_node as full_path, sid`,
		rootLabel, rootFilter, relFilter)
}

// DefaultGroupPathQuery is the canonical group-rooted shortest-path query:
// every non-highvalue Group to any highvalue node, across the full
// recognized relationship filter set.
func DefaultGroupPathQuery() string {
	return shortestPathQuery(":Group", "highvalue:false", adgraph.JoinKinds(adgraph.RecognizedRelationships))
}

// DefaultUserPathQuery is the user-rooted fallback query: every enabled,
// non-highvalue User to any highvalue node, across the filter set minus
// MemberOf, to surface direct outliers that bypass group membership.
func DefaultUserPathQuery() string {
	return shortestPathQuery(":User", "highvalue:false, enabled:true", adgraph.JoinKinds(adgraph.WithoutMemberOf()))
}

// FindGroupPaths runs the group-rooted query, or customQuery verbatim when
// non-empty, and normalizes the result rows. customQuery must return the
// same column set as DefaultGroupPathQuery.
func FindGroupPaths(ctx context.Context, client graphclient.Client, customQuery string) ([]adgraph.Path, error) {
	query := customQuery
	if query == "" {
		query = DefaultGroupPathQuery()
	}

	slog.Info("searching for group-rooted paths to high value targets")

	rows, err := client.Run(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: running group path query: %w", graphclient.ErrQuery, err)
	}

	return rowsToPaths(rows)
}

// FindUserPaths runs the user-rooted fallback query.
func FindUserPaths(ctx context.Context, client graphclient.Client) ([]adgraph.Path, error) {
	slog.Info("searching for user-rooted paths to high value targets")

	rows, err := client.Run(ctx, DefaultUserPathQuery(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: running user path query: %w", graphclient.ErrQuery, err)
	}

	return rowsToPaths(rows)
}

// FindPaths runs the full path-discovery sequence: the group-rooted query
// (or customQuery in its place), falling back to the user-rooted query only
// when the group-rooted result set is empty. It returns ErrNoPaths when both
// are empty.
func FindPaths(ctx context.Context, client graphclient.Client, customQuery string) (groupPaths, userPaths []adgraph.Path, err error) {
	groupPaths, err = FindGroupPaths(ctx, client, customQuery)
	if err != nil {
		return nil, nil, err
	}

	if len(groupPaths) == 0 {
		userPaths, err = FindUserPaths(ctx, client)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(groupPaths)+len(userPaths) == 0 {
		return nil, nil, ErrNoPaths
	}

	return groupPaths, userPaths, nil
}

const totalEnabledNonAdminsQuery = `match (u:User {highvalue:false, enabled:true}) return count(u)`

// TotalEnabledNonAdmins returns the total number of enabled, non-highvalue
// users in the graph — the denominator every result's percentage is computed
// against (§4.5).
func TotalEnabledNonAdmins(ctx context.Context, client graphclient.Client) (int, error) {
	value, err := client.Scalar(ctx, totalEnabledNonAdminsQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: counting enabled non-admins: %w", graphclient.ErrQuery, err)
	}

	switch v := value.(type) {
	case int64:
		return int(v), nil
	case int:
		return v, nil
	default:
		return 0, fmt.Errorf("counting enabled non-admins: unexpected value type %T", value)
	}
}

func rowsToPaths(rows []graphclient.Row) ([]adgraph.Path, error) {
	paths := make([]adgraph.Path, 0, len(rows))
	for _, row := range rows {
		path, err := rowToPath(row)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func rowToPath(row graphclient.Row) (adgraph.Path, error) {
	startNode, _ := row["startnode"].(string)
	if startNode == "" {
		if sid, ok := row["sid"].(string); ok {
			startNode = sid
		}
	}

	hops, err := asInt(row["hops"])
	if err != nil {
		return adgraph.Path{}, fmt.Errorf("reading hops: %w", err)
	}

	cost := asIntOrZero(row["cost"])

	nodeLabels, err := asStringSlice(row["nodeLabels"])
	if err != nil {
		return adgraph.Path{}, fmt.Errorf("reading nodeLabels: %w", err)
	}

	relLabels, err := asKindSlice(row["relLabels"])
	if err != nil {
		return adgraph.Path{}, fmt.Errorf("reading relLabels: %w", err)
	}

	fullPath, _ := row["full_path"].(string)

	return adgraph.Path{
		StartNode:  startNode,
		NodeLabels: nodeLabels,
		RelLabels:  relLabels,
		Hops:       hops,
		Cost:       cost,
		FullPath:   fullPath,
	}, nil
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// asIntOrZero reads cost, treating a null or otherwise non-numeric value as
// 0 rather than failing the row — an edge whose cost label hasn't landed yet
// shouldn't abort analysis of an otherwise-healthy path (§7 MissingCost).
func asIntOrZero(v any) int {
	n, err := asInt(v)
	if err != nil {
		slog.Info("path row missing cost, treating as 0", "value_type", fmt.Sprintf("%T", v))
		return 0
	}
	return n
}

func asStringSlice(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("expected string element at index %d, got %T", i, item)
		}
		out[i] = s
	}
	return out, nil
}

func asKindSlice(v any) ([]adgraph.Kind, error) {
	strs, err := asStringSlice(v)
	if err != nil {
		return nil, err
	}
	out := make([]adgraph.Kind, len(strs))
	for i, s := range strs {
		out[i] = adgraph.Kind(s)
	}
	return out, nil
}
