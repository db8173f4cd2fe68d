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

// Package report renders the pipeline's three result tables (grand totals,
// busiest paths, weakest links) to stdout, Markdown, CSV, or a single
// self-contained HTML document (§4.8).
package report

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/specterops/attackpath/packages/go/adgraph"
)

// Format selects the rendering target.
type Format string

const (
	FormatStdout   Format = "stdout"
	FormatMarkdown Format = "md"
	FormatCSV      Format = "csv"
	FormatHTML     Format = "html"
)

// GrandTotals is the single-row summary table.
type GrandTotals struct {
	TotalUsersWithPath int
	PercentOfTotal     float64
	TotalPaths         int
	PercentSeenBefore  float64
	NewPaths           int
}

var (
	grandTotalsHeader  = table.Row{"Total Non-Admins with a Path", "Percentage of Total Enabled Non-Admins", "Total Paths", "% of Paths Seen Before", "New Paths"}
	busiestPathsHeader = table.Row{"Starting Node", "Number of Enabled Non-Admins with Path", "Percent of Total Enabled Non-Admins with Path", "Number of Hops", "Exploit Cost", "Risk Score", "Path", "BloodHound Query"}
	weakestLinksHeader = table.Row{"Weakest Link", "Number of Paths it appears in", "% of Total Paths", "BloodHound Query"}
)

func grandTotalsRow(g GrandTotals) table.Row {
	return table.Row{g.TotalUsersWithPath, g.PercentOfTotal, g.TotalPaths, g.PercentSeenBefore, g.NewPaths}
}

func busiestPathRow(r adgraph.Result) table.Row {
	return table.Row{r.StartNode, r.NumUsers, r.Percentage, r.Hops, r.Cost, r.RiskScore, r.FullPath, r.Query}
}

func weakestLinkRow(l adgraph.WeakestLink) table.Row {
	return table.Row{strings.Join(l.Triple[:], "->"), l.Count, l.Coverage, l.Query}
}

func buildTable(header table.Row, rows []table.Row) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(header)
	t.AppendRows(rows)
	return t
}

func busiestPathRows(results []adgraph.Result) []table.Row {
	rows := make([]table.Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, busiestPathRow(r))
	}
	return rows
}

func weakestLinkRows(links []adgraph.WeakestLink) []table.Row {
	rows := make([]table.Row, 0, len(links))
	for _, l := range links {
		rows = append(rows, weakestLinkRow(l))
	}
	return rows
}

// Render writes the three report tables to the destination selected by
// format. scanDate is the "YYYY-MM-DD" scan date used as a filename prefix
// for csv and html output. outputDir is only consulted for csv and html.
func Render(w io.Writer, format Format, outputDir, scanDate string, totals GrandTotals, busiest []adgraph.Result, weakest []adgraph.WeakestLink) error {
	switch format {
	case FormatMarkdown:
		return renderMarkdown(w, totals, busiest, weakest)
	case FormatCSV:
		return renderCSV(outputDir, scanDate, totals, busiest, weakest)
	case FormatHTML:
		return renderHTML(outputDir, scanDate, totals, busiest, weakest)
	default:
		return renderStdout(w, totals, busiest, weakest)
	}
}

func renderStdout(w io.Writer, totals GrandTotals, busiest []adgraph.Result, weakest []adgraph.WeakestLink) error {
	fmt.Fprintln(w, "\nGRAND TOTALS")
	fmt.Fprintln(w, "============")
	gt := buildTable(grandTotalsHeader, []table.Row{grandTotalsRow(totals)})
	gt.SetOutputMirror(w)
	gt.Render()

	fmt.Fprintln(w, "\nBUSIEST PATHS")
	fmt.Fprintln(w, "-------------")
	bp := buildTable(busiestPathsHeader, busiestPathRows(busiest))
	bp.SetOutputMirror(w)
	bp.Render()

	fmt.Fprintln(w, "\nTHE WEAKEST LINKS")
	fmt.Fprintln(w, "-----------------")
	wl := buildTable(weakestLinksHeader, weakestLinkRows(weakest))
	wl.SetOutputMirror(w)
	wl.Render()

	return nil
}

func renderMarkdown(w io.Writer, totals GrandTotals, busiest []adgraph.Result, weakest []adgraph.WeakestLink) error {
	fmt.Fprintln(w, "# GRAND TOTALS")
	fmt.Fprintln(w, buildTable(grandTotalsHeader, []table.Row{grandTotalsRow(totals)}).RenderMarkdown())

	fmt.Fprintln(w, "## BUSIEST PATHS")
	fmt.Fprintln(w, buildTable(busiestPathsHeader, busiestPathRows(busiest)).RenderMarkdown())

	fmt.Fprintln(w, "## THE WEAKEST LINKS")
	fmt.Fprintln(w, buildTable(weakestLinksHeader, weakestLinkRows(weakest)).RenderMarkdown())

	return nil
}

func renderCSV(outputDir, scanDate string, totals GrandTotals, busiest []adgraph.Result, weakest []adgraph.WeakestLink) error {
	summaryPath := avoidCollision(filepath.Join(outputDir, scanDate+"_attackpath_summary.csv"))
	busiestPath := avoidCollision(filepath.Join(outputDir, scanDate+"_attackpath_busiestpaths.csv"))
	weakestPath := avoidCollision(filepath.Join(outputDir, scanDate+"_attackpath_weakestlinks.csv"))

	if err := writeCSV(summaryPath, grandTotalsCSVHeader(), [][]string{grandTotalsCSVRow(totals)}); err != nil {
		return err
	}
	if err := writeCSV(busiestPath, busiestPathsCSVHeader(), busiestPathsCSVRows(busiest)); err != nil {
		return err
	}
	if err := writeCSV(weakestPath, weakestLinksCSVHeader(), weakestLinksCSVRows(weakest)); err != nil {
		return err
	}

	return nil
}

func grandTotalsCSVHeader() []string {
	return rowToStrings(grandTotalsHeader)
}

func grandTotalsCSVRow(g GrandTotals) []string {
	return rowToStrings(grandTotalsRow(g))
}

func busiestPathsCSVHeader() []string {
	return rowToStrings(busiestPathsHeader)
}

func busiestPathsCSVRows(results []adgraph.Result) [][]string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, rowToStrings(busiestPathRow(r)))
	}
	return rows
}

func weakestLinksCSVHeader() []string {
	return rowToStrings(weakestLinksHeader)
}

func weakestLinksCSVRows(links []adgraph.WeakestLink) [][]string {
	rows := make([][]string, 0, len(links))
	for _, l := range links {
		rows = append(rows, rowToStrings(weakestLinkRow(l)))
	}
	return rows
}

func rowToStrings(row table.Row) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprintf("%v", v)
	}
	return out
}

func writeCSV(path string, header []string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("writing %s header: %w", path, err)
	}
	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("writing %s rows: %w", path, err)
	}
	writer.Flush()
	return writer.Error()
}

// avoidCollision appends a minute-resolution timestamp suffix when path
// already exists, retrying until a free name is found (§6).
func avoidCollision(path string) string {
	for {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}

		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		path = base + "-" + time.Now().Format("2006-01-02-15-04") + ext
	}
}

const htmlDocument = `<html>
<head>
<title>Attack Path Report</title>
<style>
body { background-color: linen; }
table { border-collapse: collapse; font-family: helvetica; table-layout: auto; width: 100%; }
th { border: 1px solid; padding: 10px; min-width: 100px; background: MediumSeaGreen; box-sizing: border-box; text-align: center; font-size: 16px; }
td { border: 1px solid; padding: 10px; min-width: 100px; background: white; box-sizing: border-box; text-align: center; font-size: 12px; }
h1 { font-size: 24px; font-family: helvetica; text-align: center; }
h2 { font-size: large; font-family: helvetica; text-align: center; }
</style>
</head>
<body>
<h1>Attack Path Report</h1>
<h2>Grand Totals</h2>
{{.GrandTotals}}
<h2>Busiest Paths</h2>
{{.BusiestPaths}}
<h2>The Weakest Links</h2>
{{.WeakestLinks}}
</body>
</html>
`

var htmlTemplate = template.Must(template.New("report").Parse(htmlDocument))

func renderHTML(outputDir, scanDate string, totals GrandTotals, busiest []adgraph.Result, weakest []adgraph.WeakestLink) error {
	path := avoidCollision(filepath.Join(outputDir, scanDate+"_attackpath_report.html"))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer file.Close()

	return htmlTemplate.Execute(file, struct {
		GrandTotals  template.HTML
		BusiestPaths template.HTML
		WeakestLinks template.HTML
	}{
		GrandTotals:  htmlTable(grandTotalsHeader, []table.Row{grandTotalsRow(totals)}),
		BusiestPaths: htmlTable(busiestPathsHeader, busiestPathRows(busiest)),
		WeakestLinks: htmlTable(weakestLinksHeader, weakestLinkRows(weakest)),
	})
}

func htmlTable(header table.Row, rows []table.Row) template.HTML {
	return template.HTML(buildTable(header, rows).RenderHTML())
}
