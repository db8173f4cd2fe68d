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

// Package weakestlinks finds the Node->Rel->Node triples that recur most
// often across a path set (§4.6), on the theory that a single shared choke
// point is often the highest-leverage place to remediate.
package weakestlinks

import (
	"fmt"
	"math"
	"sort"

	"github.com/specterops/attackpath/packages/go/adgraph"
)

// Analyze decomposes every path into its constituent Node->Rel->Node
// triples, tallies their frequency across the whole path set, and returns
// the topK most common as WeakestLink records, ordered most-common first.
// Ties in count are broken by first-occurrence order, matching
// collections.Counter.most_common's stable tie-break.
func Analyze(paths []adgraph.Path, totalPaths int, topK int) []adgraph.WeakestLink {
	type tally struct {
		triple [3]string
		count  int
	}

	index := make(map[[3]string]int)
	var order []*tally

	for _, p := range paths {
		for _, triple := range tripleLinks(p) {
			if i, ok := index[triple]; ok {
				order[i].count++
				continue
			}
			index[triple] = len(order)
			order = append(order, &tally{triple: triple, count: 1})
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return order[i].count > order[j].count })

	if topK > 0 && topK < len(order) {
		order = order[:topK]
	}

	links := make([]adgraph.WeakestLink, 0, len(order))
	for _, t := range order {
		links = append(links, adgraph.WeakestLink{
			Triple:   t.triple,
			Count:    t.count,
			Coverage: round1(100 * float64(t.count) / float64(totalPaths)),
			Query:    visualizationQuery(t.triple),
		})
	}
	return links
}

// tripleLinks breaks a path's node/relationship chain into overlapping
// Node->Rel->Node triples, stepping by one relationship at a time, and
// excluding the final hop into the high-value target: that hop is the known
// compromise, not a link worth separately remediating. A path of 1 hop
// yields no triples. This is the "new" decomposition (reference
// implementation's breakpathsintolinks); the older five-element-window
// variant (weakestlinksold) is not reproduced.
func tripleLinks(p adgraph.Path) [][3]string {
	hops := len(p.RelLabels)
	if hops < 2 {
		return nil
	}

	links := make([][3]string, 0, hops-1)
	for j := 0; j <= hops-2; j++ {
		links = append(links, [3]string{p.NodeLabels[j], string(p.RelLabels[j]), p.NodeLabels[j+1]})
	}
	return links
}

// visualizationQuery synthesizes a Cypher query joining a shortest path from
// any non-highvalue group to the triple's start node, the triple itself, and
// a shortest path from the triple's end node to any highvalue node,
// combined via apoc.path.combine for BloodHound visualization.
func visualizationQuery(triple [3]string) string {
	filter := adgraph.JoinKinds(adgraph.RecognizedRelationships)

	return fmt.Sprintf(
		`match p1=shortestpath((g:Group {highvalue:false})-[:%s*1..]->(n1 {name:'%s'})) where g<>n1 `+
			`match p2=(n1)-[:%s]->(n2 {name:'%s'}) `+
			`match p3=shortestpath((n2)-[:%s*1..]->(n3 {highvalue:true})) where n3<>n2 `+
			`with p1, [p2,p3] as paths return reduce(acc = p1, x in paths | apoc.path.combine(acc, x))`,
		filter, triple[0], triple[1], triple[2], filter,
	)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
