// Package batch replays a file of saved user questions through the query
// engine and writes the answers out as markdown, one file per question plus
// a run report.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/query"
	"github.com/excelgpt/backend/pkg/logger"
)

type Runner struct {
	engine    *query.Engine
	outputDir string
	logger    *zap.Logger
}

// Report summarizes one batch run.
type Report struct {
	RunDir       string
	Total        int
	Succeeded    int
	Failed       int
	AvgLatencyMS int64
}

func NewRunner(engine *query.Engine, outputDir string) *Runner {
	return &Runner{
		engine:    engine,
		outputDir: outputDir,
		logger:    logger.GetLogger(),
	}
}

// Run executes every question in the queries file sequentially and writes
// results into a timestamped directory under the output dir.
func (r *Runner) Run(ctx context.Context, queriesPath string) (*Report, error) {
	queries, err := loadQueries(queriesPath)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no queries found in %s", queriesPath)
	}

	runDir := filepath.Join(r.outputDir, "run_"+time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}

	report := &Report{RunDir: runDir, Total: len(queries)}
	var totalLatency int64

	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		r.logger.Info("Batch query",
			zap.Int("index", i+1),
			zap.Int("total", len(queries)),
			zap.String("query", q),
		)

		result, err := r.engine.ProcessQuery(ctx, "batch", q, nil)
		if err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
		if result != nil {
			totalLatency += result.LatencyMS
			if writeErr := writeResult(runDir, i+1, result); writeErr != nil {
				r.logger.Warn("Failed to write batch result", zap.Error(writeErr))
			}
		}
	}

	if report.Total > 0 {
		report.AvgLatencyMS = totalLatency / int64(report.Total)
	}

	if err := writeReport(runDir, report); err != nil {
		return report, err
	}

	r.logger.Info("Batch run finished",
		zap.String("dir", runDir),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
	)

	return report, nil
}

// loadQueries reads one question per row from a CSV file. A header row whose
// first cell looks like a column name ("query", "question") is skipped.
func loadQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queries file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var queries []string
	first := true
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		if len(row) == 0 {
			continue
		}
		cell := strings.TrimSpace(row[0])
		if first {
			first = false
			lower := strings.ToLower(cell)
			if lower == "query" || lower == "question" || lower == "user query" {
				continue
			}
		}
		if cell != "" {
			queries = append(queries, cell)
		}
	}

	return queries, nil
}

func writeResult(runDir string, index int, result *query.Result) error {
	var b strings.Builder

	fmt.Fprintf(&b, "# Query %d\n\n", index)
	fmt.Fprintf(&b, "**Question:** %s\n\n", result.Query)
	fmt.Fprintf(&b, "**Status:** %s\n\n", result.Status)

	if result.Insights != "" {
		b.WriteString("## Insights\n\n")
		b.WriteString(result.Insights)
		b.WriteString("\n\n")
	}

	if result.DataOutput != "" {
		b.WriteString("## Data\n\n```\n")
		b.WriteString(result.DataOutput)
		b.WriteString("\n```\n\n")
	}

	if result.GeneratedCode != "" {
		b.WriteString("## Analysis spec\n\n```json\n")
		b.WriteString(result.GeneratedCode)
		b.WriteString("\n```\n\n")
	}

	if result.Error != "" {
		fmt.Fprintf(&b, "## Error\n\n%s\n\n", result.Error)
	}

	fmt.Fprintf(&b, "---\nLatency: %dms, retries: %d\n", result.LatencyMS, result.Retries)

	name := fmt.Sprintf("query_%03d.md", index)
	return os.WriteFile(filepath.Join(runDir, name), []byte(b.String()), 0o644)
}

func writeReport(runDir string, report *Report) error {
	var b strings.Builder

	b.WriteString("# Batch run report\n\n")
	fmt.Fprintf(&b, "- Total queries: %d\n", report.Total)
	fmt.Fprintf(&b, "- Succeeded: %d\n", report.Succeeded)
	fmt.Fprintf(&b, "- Failed: %d\n", report.Failed)
	fmt.Fprintf(&b, "- Average latency: %dms\n", report.AvgLatencyMS)

	return os.WriteFile(filepath.Join(runDir, "report.md"), []byte(b.String()), 0o644)
}
