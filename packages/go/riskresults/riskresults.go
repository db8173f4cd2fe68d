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

// Package riskresults turns raw paths from the enumerator into scored,
// deduplicated, sortable Result records (§4.5).
package riskresults

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/specterops/attackpath/packages/go/adgraph"
)

// SortMode selects the final ordering applied by SortAndTruncate.
type SortMode string

const (
	SortByUsers SortMode = "users"
	SortByHops  SortMode = "hops"
	SortByRisk  SortMode = "risk"
)

// Synthesize scores every path in groupPaths and userPaths into a Result.
// membersByGroup maps a group's start-node name to its expanded member set
// (§4.4); a group-rooted path's num_members is the size of that set, while a
// user-rooted path always has num_members = 1. maxcost is derived once, from
// the maximum hop count across every path being synthesized together, so
// that group-rooted and user-rooted results share a single run-global
// denominator.
func Synthesize(groupPaths, userPaths []adgraph.Path, membersByGroup map[string][]string, totalEnabledNonAdmins int) []adgraph.Result {
	allPaths := make([]adgraph.Path, 0, len(groupPaths)+len(userPaths))
	allPaths = append(allPaths, groupPaths...)
	allPaths = append(allPaths, userPaths...)
	if len(allPaths) == 0 {
		return nil
	}

	maxHops := 0
	for _, p := range allPaths {
		if p.Hops > maxHops {
			maxHops = p.Hops
		}
	}
	maxCost := float64(maxHops*3 + 1)

	results := make([]adgraph.Result, 0, len(allPaths))
	for _, p := range groupPaths {
		numMembers := len(membersByGroup[p.StartNode])
		results = append(results, synthesizeOne(p, numMembers, maxCost, totalEnabledNonAdmins))
	}
	for _, p := range userPaths {
		results = append(results, synthesizeOne(p, 1, maxCost, totalEnabledNonAdmins))
	}

	return results
}

func synthesizeOne(p adgraph.Path, numMembers int, maxCost float64, totalEnabledNonAdmins int) adgraph.Result {
	percentage := round1(100 * float64(numMembers) / float64(totalEnabledNonAdmins))
	riskScore := round1(((maxCost - float64(p.Cost)) / maxCost) * percentage)

	return adgraph.Result{
		StartNode:  p.StartNode,
		NumUsers:   numMembers,
		Percentage: percentage,
		Hops:       p.Hops,
		Cost:       p.Cost,
		RiskScore:  riskScore,
		FullPath:   p.FullPath,
		Query:      replayableQuery(p),
		UID:        uidFor(p.FullPath),
	}
}

// DedupByStartNode sorts by (startnode ASC, riskscore DESC) and keeps only
// the first entry for each distinct startnode, so a group or user with
// several equally-valid shortest paths does not dominate the top-K (§4.5
// Dedup by starting node).
func DedupByStartNode(results []adgraph.Result) []adgraph.Result {
	sorted := append([]adgraph.Result(nil), results...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartNode != sorted[j].StartNode {
			return sorted[i].StartNode < sorted[j].StartNode
		}
		return sorted[i].RiskScore > sorted[j].RiskScore
	})

	seen := make(map[string]struct{}, len(sorted))
	out := make([]adgraph.Result, 0, len(sorted))
	for _, r := range sorted {
		if _, ok := seen[r.StartNode]; ok {
			continue
		}
		seen[r.StartNode] = struct{}{}
		out = append(out, r)
	}
	return out
}

// SortAndTruncate orders results by mode and truncates to limit entries. A
// non-positive limit returns every result.
func SortAndTruncate(results []adgraph.Result, mode SortMode, limit int) []adgraph.Result {
	sorted := append([]adgraph.Result(nil), results...)

	switch mode {
	case SortByUsers:
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Percentage > sorted[j].Percentage })
	case SortByHops:
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hops < sorted[j].Hops })
	default:
		sort.Slice(sorted, func(i, j int) bool {
			if sorted[i].RiskScore != sorted[j].RiskScore {
				return sorted[i].RiskScore > sorted[j].RiskScore
			}
			if sorted[i].Cost != sorted[j].Cost {
				return sorted[i].Cost < sorted[j].Cost
			}
			return sorted[i].Hops < sorted[j].Hops
		})
	}

	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted
}

// TotalUniqueUsersWithPath is the size of the union of every group's
// expanded members and every user-rooted path's start node.
func TotalUniqueUsersWithPath(membersByGroup map[string][]string, userPaths []adgraph.Path) int {
	unique := make(map[string]struct{})
	for _, members := range membersByGroup {
		for _, m := range members {
			unique[m] = struct{}{}
		}
	}
	for _, p := range userPaths {
		unique[p.StartNode] = struct{}{}
	}
	return len(unique)
}

// replayableQuery renders a path as a BloodHound-replayable Cypher query:
// match p=(({name:'n0'})-[:t0]->({name:'n1'})-...->({name:'nn'})) return p
func replayableQuery(p adgraph.Path) string {
	var b strings.Builder
	b.WriteString("match p=(({name:'")
	b.WriteString(p.NodeLabels[0])
	b.WriteString("'})")

	for i, rel := range p.RelLabels {
		fmt.Fprintf(&b, "-[:%s]->({name:'%s'})", rel, p.NodeLabels[i+1])
	}

	b.WriteString(") return p")
	return b.String()
}

func uidFor(fullPath string) string {
	sum := md5.Sum([]byte(fullPath))
	return hex.EncodeToString(sum[:])
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
