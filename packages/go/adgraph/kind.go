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

// Package adgraph holds the data model shared by every stage of the attack
// path pipeline: node/edge/path shapes, the relationship kind vocabulary, and
// the edge-cost table that the labeler and other stages consume as data.
package adgraph

// Kind identifies one of the well-known AD node or relationship labels.
type Kind string

// Recognized node kinds.
const (
	KindBase     Kind = "Base"
	KindUser     Kind = "User"
	KindGroup    Kind = "Group"
	KindComputer Kind = "Computer"
	KindDomain   Kind = "Domain"
	KindGPO      Kind = "GPO"
	KindOU       Kind = "OU"
)

// Recognized relationship kinds. This is the filter set the path enumerator
// restricts shortest-path traversals to, and the complete set of relationship
// types the edge-cost labeler guarantees a cost for.
const (
	MemberOf            Kind = "MemberOf"
	HasSession           Kind = "HasSession"
	AdminTo              Kind = "AdminTo"
	ForceChangePassword  Kind = "ForceChangePassword"
	GenericAll           Kind = "GenericAll"
	WriteDacl            Kind = "WriteDacl"
	WriteOwner           Kind = "WriteOwner"
	AllExtendedRights    Kind = "AllExtendedRights"
	AddMember            Kind = "AddMember"
	GetChanges           Kind = "GetChanges"
	GetChangesAll        Kind = "GetChangesAll"
	CanRDP               Kind = "CanRDP"
	ExecuteDCOM          Kind = "ExecuteDCOM"
	AllowedToDelegate    Kind = "AllowedToDelegate"
	ReadLAPSPassword     Kind = "ReadLAPSPassword"
	Contains             Kind = "Contains"
	GpLink               Kind = "GpLink"
	AddAllowedToAct      Kind = "AddAllowedToAct"
	AllowedToAct         Kind = "AllowedToAct"
	SQLAdmin             Kind = "SQLAdmin"
	ReadGMSAPassword     Kind = "ReadGMSAPassword"
	HasSidHistory        Kind = "HasSidHistory"
	CanPSRemote          Kind = "CanPSRemote"
	WriteSPN             Kind = "WriteSPN"
	AddKeyCredentialLink Kind = "AddKeyCredentialLink"
	AddSelf              Kind = "AddSelf"
)

// RecognizedRelationships is the filter set used by every shortest-path
// query. Order is insignificant; it is fixed only so the generated Cypher
// relationship-type list is deterministic across runs.
var RecognizedRelationships = []Kind{
	MemberOf, HasSession, AdminTo, ForceChangePassword, GenericAll, WriteDacl,
	WriteOwner, AllExtendedRights, AddMember, GetChanges, GetChangesAll, CanRDP,
	ExecuteDCOM, AllowedToDelegate, ReadLAPSPassword, Contains, GpLink,
	AddAllowedToAct, AllowedToAct, SQLAdmin, ReadGMSAPassword, HasSidHistory,
	CanPSRemote, WriteSPN, AddKeyCredentialLink, AddSelf,
}

// WithoutMemberOf returns RecognizedRelationships minus MemberOf, the filter
// set the user-rooted fallback query uses to surface direct outliers that
// don't route through group membership.
func WithoutMemberOf() []Kind {
	out := make([]Kind, 0, len(RecognizedRelationships)-1)
	for _, k := range RecognizedRelationships {
		if k != MemberOf {
			out = append(out, k)
		}
	}
	return out
}
