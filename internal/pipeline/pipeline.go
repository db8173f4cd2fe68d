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

// Package pipeline wires every stage of the attack-path analysis together in
// the fixed sequential order labeler -> schema preparer -> enumerator ->
// expander -> synthesizer -> history -> weakest links -> output (§4.11),
// translating stage errors into the exit codes of §7.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/specterops/attackpath/packages/go/adgraph"
	"github.com/specterops/attackpath/packages/go/graphclient"
	"github.com/specterops/attackpath/packages/go/history"
	"github.com/specterops/attackpath/packages/go/membership"
	"github.com/specterops/attackpath/packages/go/pathfinder"
	"github.com/specterops/attackpath/packages/go/pathlog"
	"github.com/specterops/attackpath/packages/go/pipelinecfg"
	"github.com/specterops/attackpath/packages/go/report"
	"github.com/specterops/attackpath/packages/go/riskresults"
	"github.com/specterops/attackpath/packages/go/schema"
	"github.com/specterops/attackpath/packages/go/weakestlinks"
)

// Exit codes (§6 Exit codes / §7).
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// membershipConcurrency bounds the number of group roots expanded at once,
// mirroring the teacher's MaximumDatabaseParallelWorkers-style constant
// (§5 Scheduling model).
const membershipConcurrency = 8

// Run executes the full pipeline against an already-validated configuration
// and reports the process exit code the caller should use. stdout receives
// the rendered report when the output format writes to a stream rather than
// a file.
func Run(ctx context.Context, cfg *pipelinecfg.Config, stdout io.Writer) int {
	configureLogging(cfg)

	client, err := graphclient.Dial(ctx, cfg.Server, cfg.Username, cfg.Password)
	if err != nil {
		slog.Error("failed to connect to graph", "error", err)
		return ExitFailure
	}
	defer closeClient(ctx, client)

	return RunWithClient(ctx, cfg, client, stdout)
}

// RunWithClient executes the pipeline against an already-connected client,
// skipping the dial step. Run calls this after establishing the real graph
// connection; tests call it directly against a mock or in-memory Client.
func RunWithClient(ctx context.Context, cfg *pipelinecfg.Config, client graphclient.Client, stdout io.Writer) int {
	store := openHistoryStore(cfg)
	if store != nil {
		defer store.Close()
	}

	if err := prepareSchema(ctx, client, cfg); err != nil {
		slog.Error("schema preparation failed", "error", err)
		return ExitFailure
	}

	groupPaths, userPaths, err := pathfinder.FindPaths(ctx, client, cfg.Query)
	if err != nil {
		if errors.Is(err, pathfinder.ErrNoPaths) {
			fmt.Fprintln(stdout, "Congratulations, no paths to high value targets were found!")
			return ExitSuccess
		}
		slog.Error("path enumeration failed", "error", err)
		return ExitFailure
	}

	totalEnabledNonAdmins, err := pathfinder.TotalEnabledNonAdmins(ctx, client)
	if err != nil {
		slog.Error("counting enabled non-admins failed", "error", err)
		return ExitFailure
	}

	membersByGroup, err := expandMembership(ctx, client, groupPaths)
	if err != nil {
		slog.Error("membership expansion failed", "error", err)
		return ExitFailure
	}

	results := riskresults.DedupByStartNode(riskresults.Synthesize(groupPaths, userPaths, membersByGroup, totalEnabledNonAdmins))
	totalUniqueUsers := riskresults.TotalUniqueUsersWithPath(membersByGroup, userPaths)

	scanDate, newPaths, seenBefore := recordHistory(ctx, client, store, results)

	allPaths := append(append([]adgraph.Path{}, groupPaths...), userPaths...)
	weakest := weakestlinks.Analyze(allPaths, len(allPaths), cfg.Results)
	topResults := riskresults.SortAndTruncate(results, riskresults.SortMode(cfg.Sort), cfg.Results)

	totals := report.GrandTotals{
		TotalUsersWithPath: totalUniqueUsers,
		PercentOfTotal:     percentOf(totalUniqueUsers, totalEnabledNonAdmins),
		TotalPaths:         len(results),
		PercentSeenBefore:  percentOf(seenBefore, len(results)),
		NewPaths:           newPaths,
	}

	scanDateDisplay := "latest"
	if scanDate != 0 {
		scanDateDisplay = history.ScanDateDisplay(scanDate)
	}

	if err := report.Render(stdout, report.Format(cfg.OutputFormat), cfg.OutputFilepath, scanDateDisplay, totals, topResults, weakest); err != nil {
		slog.Error("rendering report failed", "error", err)
		return ExitFailure
	}

	return ExitSuccess
}

func configureLogging(cfg *pipelinecfg.Config) {
	level := pathlog.LevelFromVerbosity(cfg.Verbose, cfg.Quiet)
	if cfg.LogFormat == "json" {
		pathlog.ConfigureJSON(os.Stderr, level)
	} else {
		pathlog.ConfigureText(os.Stderr, level)
	}
}

func closeClient(ctx context.Context, client graphclient.Client) {
	if err := client.Close(ctx); err != nil {
		slog.Warn("failed to close graph connection", "error", err)
	}
}

// openHistoryStore opens the history store unless db-skip is set. When
// sql-path names an existing directory, the store is goodhound.db inside it.
// A store that fails to open degrades to db-skip semantics for this run
// rather than aborting the pipeline (§7 HistoryStoreError).
func openHistoryStore(cfg *pipelinecfg.Config) *history.Store {
	if cfg.DBSkip {
		return nil
	}

	dbPath := cfg.SQLPath
	if info, err := os.Stat(dbPath); err == nil && info.IsDir() {
		dbPath = filepath.Join(dbPath, "goodhound.db")
	}

	store, err := history.Open(dbPath)
	if err != nil {
		slog.Warn("history store unavailable, continuing without history for this run", "error", err)
		return nil
	}
	return store
}

func prepareSchema(ctx context.Context, client graphclient.Client, cfg *pipelinecfg.Config) error {
	if err := schema.ApplyCostLabels(ctx, client); err != nil {
		return err
	}

	if cfg.Schema != "" {
		if err := schema.ApplyCustomSchema(ctx, client, cfg.Schema); err != nil {
			return err
		}
	}

	if cfg.Patch41 {
		if err := schema.PatchHighValue(ctx, client); err != nil {
			return err
		}
	}

	return schema.ElevateDCSyncers(ctx, client)
}

func expandMembership(ctx context.Context, client graphclient.Client, groupPaths []adgraph.Path) (map[string][]string, error) {
	groupNames := uniqueGroupNames(groupPaths)
	if len(groupNames) == 0 {
		return map[string][]string{}, nil
	}

	expander := membership.NewExpander(client)
	groupMembers, err := expander.ExpandGroupsConcurrent(ctx, groupNames, membershipConcurrency)
	if err != nil {
		return nil, err
	}

	membersByGroup := make(map[string][]string, len(groupMembers))
	for _, gm := range groupMembers {
		membersByGroup[gm.GroupName] = gm.Members
	}
	return membersByGroup, nil
}

func uniqueGroupNames(groupPaths []adgraph.Path) []string {
	seen := make(map[string]struct{}, len(groupPaths))
	names := make([]string, 0, len(groupPaths))
	for _, p := range groupPaths {
		if _, ok := seen[p.StartNode]; ok {
			continue
		}
		seen[p.StartNode] = struct{}{}
		names = append(names, p.StartNode)
	}
	return names
}

// recordHistory writes results to store, when one is open, and derives the
// scan date the run should be attributed to. A failure to derive the scan
// date or to write history degrades gracefully (§7 HistoryStoreError): the
// run still produces a report, just without history bookkeeping.
func recordHistory(ctx context.Context, client graphclient.Client, store *history.Store, results []adgraph.Result) (scanDate int64, newPaths, seenBefore int) {
	if store == nil {
		return 0, 0, 0
	}

	scanDate, err := history.ScanDate(ctx, client)
	if err != nil {
		slog.Warn("failed to derive scan date, history bookkeeping skipped", "error", err)
		return 0, 0, 0
	}

	newPaths, seenBefore, err = store.RecordRun(ctx, results, scanDate)
	if err != nil {
		slog.Warn("failed to record run history", "error", err)
		return scanDate, 0, 0
	}

	return scanDate, newPaths, seenBefore
}

func percentOf(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(100*float64(part)/float64(total)*10) / 10
}
