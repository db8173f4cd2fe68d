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

package adgraph

import (
	"fmt"
	"strings"
)

// CostRule is one row of the edge-cost table: a set of relationship kinds,
// optionally restricted to a set of target node kinds, and the cost to
// assign. Expressing the table as data (rather than as inline Cypher
// scattered through the labeler) is a deliberate resolution of the cost
// table's instability across source revisions.
type CostRule struct {
	Relationships []Kind
	TargetKinds   []Kind
	Cost          int
}

// CostTable is the canonical edge-cost assignment, grounded on the
// reference implementation's cost() statement list and restricted to the 26
// relationship kinds this system recognizes (RecognizedRelationships). It
// produces exactly 12 MATCH...SET statements, matching the reference table's
// shape.
var CostTable = []CostRule{
	{Relationships: []Kind{MemberOf}, TargetKinds: []Kind{KindGroup}, Cost: 0},
	{Relationships: []Kind{HasSession}, Cost: 3},
	{Relationships: []Kind{CanRDP, Contains, GpLink}, Cost: 0},
	{Relationships: []Kind{AdminTo, ForceChangePassword, AllowedToDelegate, AllowedToAct, AddAllowedToAct, ReadLAPSPassword, ReadGMSAPassword, HasSidHistory}, Cost: 1},
	{Relationships: []Kind{CanPSRemote, ExecuteDCOM, SQLAdmin}, Cost: 1},
	{Relationships: []Kind{AllExtendedRights, AddMember, GenericAll, WriteDacl, WriteOwner, AddSelf}, TargetKinds: []Kind{KindGroup}, Cost: 1},
	{Relationships: []Kind{AllExtendedRights, GenericAll, WriteDacl, WriteOwner, WriteSPN}, TargetKinds: []Kind{KindUser}, Cost: 1},
	{Relationships: []Kind{AllExtendedRights, GenericAll, WriteDacl, WriteOwner}, TargetKinds: []Kind{KindComputer}, Cost: 1},
	{Relationships: []Kind{GetChanges, GetChangesAll, AllExtendedRights, GenericAll, WriteDacl, WriteOwner}, TargetKinds: []Kind{KindDomain}, Cost: 2},
	{Relationships: []Kind{GenericAll, WriteDacl, WriteOwner}, TargetKinds: []Kind{KindGPO}, Cost: 1},
	{Relationships: []Kind{GenericAll, WriteDacl, WriteOwner}, TargetKinds: []Kind{KindOU}, Cost: 1},
	{Relationships: []Kind{AddKeyCredentialLink}, Cost: 2},
}

// CypherStatement renders the rule as a single `MATCH ... SET r.cost = c`
// statement.
func (r CostRule) CypherStatement() string {
	relList := JoinKinds(r.Relationships)

	var target string
	if len(r.TargetKinds) == 0 {
		target = "(m)"
	} else {
		target = fmt.Sprintf("(m:%s)", JoinKinds(r.TargetKinds))
	}

	return fmt.Sprintf("MATCH (n)-[r:%s]->%s SET r.cost = %d", relList, target, r.Cost)
}

// CostStatements renders the full table as the ordered Cypher statement list
// the edge-cost labeler executes.
func CostStatements() []string {
	statements := make([]string, 0, len(CostTable))
	for _, rule := range CostTable {
		statements = append(statements, rule.CypherStatement())
	}
	return statements
}

// JoinKinds renders kinds as a Cypher relationship-type disjunction
// (e.g. "MemberOf|AdminTo"), the form every shortest-path and cost-labeling
// query uses to filter on a set of relationship types.
func JoinKinds(kinds []Kind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, "|")
}
