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

// Package history persists discovered paths to an embedded SQLite database
// across runs, so the pipeline can report which paths are new and which have
// been seen before (§4.7).
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/specterops/attackpath/packages/go/adgraph"
	"github.com/specterops/attackpath/packages/go/graphclient"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS paths (
	uid TEXT PRIMARY KEY,
	startnode TEXT NOT NULL,
	num_users INTEGER NOT NULL,
	percentage REAL NOT NULL,
	hops INTEGER NOT NULL,
	cost INTEGER NOT NULL,
	riskscore REAL NOT NULL,
	fullpath TEXT NOT NULL,
	query TEXT NOT NULL,
	first_seen INTEGER NOT NULL,
	last_seen INTEGER NOT NULL
)`

// Store is the SQLite-backed history of every path ever recorded.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database file at path and ensures the
// paths table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database %s: %w", path, err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating paths table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists every result against scanDate, following the
// insert/update-by-uid protocol (§4.7): a uid never seen before is inserted
// with first_seen = last_seen = scanDate; a uid seen before advances
// last_seen forward and pulls first_seen backward only if scanDate predates
// it (an older dataset reloaded after a newer one). All writes for the run
// commit in a single transaction.
func (s *Store) RecordRun(ctx context.Context, results []adgraph.Result, scanDate int64) (newPaths, seenBefore int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning history transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, r := range results {
		var firstSeen, lastSeen int64
		scanErr := tx.QueryRowContext(ctx, `SELECT first_seen, last_seen FROM paths WHERE uid = ?`, r.UID).Scan(&firstSeen, &lastSeen)

		switch {
		case errors.Is(scanErr, sql.ErrNoRows):
			if _, err = tx.ExecContext(ctx, `INSERT INTO paths (uid, startnode, num_users, percentage, hops, cost, riskscore, fullpath, query, first_seen, last_seen) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
				r.UID, r.StartNode, r.NumUsers, r.Percentage, r.Hops, r.Cost, r.RiskScore, r.FullPath, r.Query, scanDate, scanDate); err != nil {
				return 0, 0, fmt.Errorf("inserting path %s: %w", r.UID, err)
			}
			newPaths++

		case scanErr != nil:
			err = scanErr
			return 0, 0, fmt.Errorf("looking up path %s: %w", r.UID, err)

		default:
			if lastSeen < scanDate {
				if _, err = tx.ExecContext(ctx, `UPDATE paths SET last_seen = ? WHERE uid = ?`, scanDate, r.UID); err != nil {
					return 0, 0, fmt.Errorf("advancing last_seen for %s: %w", r.UID, err)
				}
			}
			if firstSeen > scanDate {
				if _, err = tx.ExecContext(ctx, `UPDATE paths SET first_seen = ? WHERE uid = ?`, scanDate, r.UID); err != nil {
					return 0, 0, fmt.Errorf("lowering first_seen for %s: %w", r.UID, err)
				}
			}
			seenBefore++
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing history transaction: %w", err)
	}

	return newPaths, seenBefore, nil
}

const scanDateQuery = `WITH '(?i)ldap/.*' AS regexOne, '(?i)gc/.*' AS regexTwo
MATCH (n:Computer) WHERE ANY(item IN n.serviceprincipalnames WHERE item =~ regexOne OR item =~ regexTwo)
RETURN n.lastlogontimestamp AS date ORDER BY date DESC LIMIT 1`

// ScanDate derives the collection date from the graph: the most recent
// lastlogontimestamp among computers advertising an LDAP or GC service
// principal name, i.e. the domain controllers. This anchors history
// bookkeeping to when the data was collected rather than when the pipeline
// happens to run.
func ScanDate(ctx context.Context, client graphclient.Client) (int64, error) {
	value, err := client.Scalar(ctx, scanDateQuery, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: deriving scan date: %w", graphclient.ErrQuery, err)
	}

	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("deriving scan date: unexpected value type %T", value)
	}
}

// ScanDateDisplay renders a scan date as the "YYYY-MM-DD" form used in
// report filenames and headings.
func ScanDateDisplay(scanDate int64) string {
	return time.Unix(scanDate, 0).UTC().Format("2006-01-02")
}
