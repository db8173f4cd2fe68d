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
	"context"
	"fmt"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/specterops/attackpath/packages/go/graphclient"
)

const (
	dcSyncGetChangesQuery     = `MATCH (n1)-[:MemberOf|GetChanges*1..]->(u:Domain) RETURN DISTINCT id(n1) AS nid, id(u) AS did, n1.objectid AS sid, n1.name AS name`
	dcSyncGetChangesAllQuery  = `MATCH (n1)-[:MemberOf|GetChangesAll*1..]->(u:Domain) RETURN DISTINCT id(n1) AS nid, id(u) AS did`
	highValueGroupMemberQuery = `MATCH (n)-[:MemberOf*1..]->(g:Group {highvalue:true}) RETURN DISTINCT id(n) AS nid`
)

type dcSyncCandidate struct {
	nodeID   int64
	domainID int64
	sid      string
	name     string
}

// ElevateDCSyncers marks every principal capable of a DCSync attack
// highvalue = true (§4.2 item 3). Resolution of the conjunctive-capability
// question (Design Notes, Open Question iii): a principal is only elevated
// when it is reachable via MemberOf|GetChanges AND, to the *same* Domain
// node, via MemberOf|GetChangesAll. This is computed as a per-domain set
// intersection, grounded on the reference codebase's cross-product node-set
// pattern, rather than as a single combined Cypher traversal.
func ElevateDCSyncers(ctx context.Context, client graphclient.Client) error {
	slog.Info("searching for DCSync-capable principals")

	getChangesRows, err := client.Run(ctx, dcSyncGetChangesQuery, nil)
	if err != nil {
		return fmt.Errorf("%w: querying GetChanges reachability: %w", graphclient.ErrQuery, err)
	}

	getChangesAllRows, err := client.Run(ctx, dcSyncGetChangesAllQuery, nil)
	if err != nil {
		return fmt.Errorf("%w: querying GetChangesAll reachability: %w", graphclient.ErrQuery, err)
	}

	candidatesByDomain := make(map[int64]map[int64]dcSyncCandidate)
	for _, row := range getChangesRows {
		c := dcSyncCandidate{
			nodeID:   asInt64(row["nid"]),
			domainID: asInt64(row["did"]),
			sid:      asString(row["sid"]),
			name:     asString(row["name"]),
		}
		if candidatesByDomain[c.domainID] == nil {
			candidatesByDomain[c.domainID] = make(map[int64]dcSyncCandidate)
		}
		candidatesByDomain[c.domainID][c.nodeID] = c
	}

	getChangesAllByDomain := make(map[int64]*roaring.Bitmap)
	for _, row := range getChangesAllRows {
		domainID := asInt64(row["did"])
		nodeID := asInt64(row["nid"])
		if getChangesAllByDomain[domainID] == nil {
			getChangesAllByDomain[domainID] = roaring.New()
		}
		getChangesAllByDomain[domainID].Add(uint32(nodeID))
	}

	highValueRows, err := client.Run(ctx, highValueGroupMemberQuery, nil)
	if err != nil {
		return fmt.Errorf("%w: querying existing highvalue members: %w", graphclient.ErrQuery, err)
	}
	alreadyHighValue := roaring.New()
	for _, row := range highValueRows {
		alreadyHighValue.Add(uint32(asInt64(row["nid"])))
	}

	elevated := 0
	for domainID, candidates := range candidatesByDomain {
		getChangesAllSet := getChangesAllByDomain[domainID]
		if getChangesAllSet == nil {
			continue
		}

		for nodeID, candidate := range candidates {
			if !getChangesAllSet.Contains(uint32(nodeID)) {
				continue
			}
			if alreadyHighValue.Contains(uint32(nodeID)) {
				continue
			}

			name := candidate.name
			if name == "" {
				name = candidate.sid
			}

			if _, err := client.Run(ctx, `MATCH (n) WHERE id(n) = $nid SET n.highvalue = true`, map[string]any{"nid": nodeID}); err != nil {
				return fmt.Errorf("%w: elevating %s: %w", graphclient.ErrQuery, name, err)
			}
			elevated++
		}
	}

	slog.Info("DCSync elevation complete", "elevated", elevated)
	return nil
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

func asString(v any) string {
	s, _ := v.(string)
	return s
}
