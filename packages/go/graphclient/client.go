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

// Package graphclient is the opaque handle to the Cypher-speaking remote
// graph store. It exposes exactly the two operations the rest of the
// pipeline needs — Run and Scalar — over a real Bolt driver connection.
package graphclient

//go:generate go run go.uber.org/mock/mockgen -destination=./graphclienttest/mock_client.go -package=graphclienttest github.com/specterops/attackpath/packages/go/graphclient Client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ErrConnection reports that the graph endpoint was unreachable or rejected
// the supplied credentials (§7 ConnectionError).
var ErrConnection = errors.New("graph connection failed")

// ErrQuery reports a malformed or schema-incompatible Cypher statement
// (§7 QueryError).
var ErrQuery = errors.New("graph query failed")

// Row is a single record returned by Run: a map of the query's RETURN
// aliases to their typed values, exactly as the driver decoded them.
type Row map[string]any

// Client is the graph interface the rest of the pipeline depends on. It is
// satisfied by *DriverClient in production and by a generated mock in tests.
type Client interface {
	// Run executes stmt and returns every row of the result.
	Run(ctx context.Context, stmt string, params map[string]any) ([]Row, error)
	// Scalar executes stmt and returns a value of its first row — the shape
	// of a single-column `RETURN count(n)`/`RETURN max(x)` query. When the
	// row has more than one column, which column's value is returned is not
	// defined.
	Scalar(ctx context.Context, stmt string, params map[string]any) (any, error)
	// Close releases the underlying driver connection.
	Close(ctx context.Context) error
}

// DriverClient implements Client over github.com/neo4j/neo4j-go-driver/v5.
type DriverClient struct {
	driver neo4j.DriverWithContext
}

// Dial opens a driver connection to server using basic auth and verifies
// connectivity immediately, so connection failures surface at startup
// (§7 ConnectionError) rather than on the first query.
func Dial(ctx context.Context, server, username, password string) (*DriverClient, error) {
	driver, err := neo4j.NewDriverWithContext(server, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		if closeErr := driver.Close(ctx); closeErr != nil {
			slog.Warn("failed to close driver after failed connectivity check", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	return &DriverClient{driver: driver}, nil
}

// Run implements Client.
func (c *DriverClient) Run(ctx context.Context, stmt string, params map[string]any) ([]Row, error) {
	session := c.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer func() {
		if err := session.Close(ctx); err != nil {
			slog.Warn("failed to close graph session", "error", err)
		}
	}()

	result, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cursor, err := tx.Run(ctx, stmt, params)
		if err != nil {
			return nil, err
		}
		return cursor.Collect(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQuery, err)
	}

	records, ok := result.([]*neo4j.Record)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type %T", ErrQuery, result)
	}

	rows := make([]Row, 0, len(records))
	for _, record := range records {
		row := make(Row, len(record.Keys))
		for _, key := range record.Keys {
			value, _ := record.Get(key)
			row[key] = value
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// Scalar implements Client.
func (c *DriverClient) Scalar(ctx context.Context, stmt string, params map[string]any) (any, error) {
	rows, err := c.Run(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	for _, v := range rows[0] {
		return v, nil
	}
	return nil, nil
}

// Close implements Client.
func (c *DriverClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}
