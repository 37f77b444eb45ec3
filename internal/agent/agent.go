// Package agent turns natural-language questions into executable analysis
// specs and result tables into written insights, via the configured LLM.
package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/analysis"
	"github.com/excelgpt/backend/internal/dataset"
	"github.com/excelgpt/backend/internal/llm"
	"github.com/excelgpt/backend/pkg/logger"
)

// Completer is the slice of the LLM client the agent needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

type Agent struct {
	llm    Completer
	logger *zap.Logger
}

func New(completer Completer) *Agent {
	return &Agent{
		llm:    completer,
		logger: logger.GetLogger(),
	}
}

// GenerateSpec asks the model for an analysis spec answering the query.
// Returns the parsed spec plus the raw JSON the model produced.
func (a *Agent) GenerateSpec(ctx context.Context, query string, snap *dataset.Snapshot, hints []string) (analysis.QuerySpec, string, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System: specSystemPrompt,
		Prompt: buildSpecPrompt(query, snap, hints),
	})
	if err != nil {
		return analysis.QuerySpec{}, "", fmt.Errorf("generate spec: %w", err)
	}

	spec, raw, err := ParseSpec(resp.Text)
	if err != nil {
		a.logger.Warn("Model produced unparseable spec",
			zap.String("query", query),
			zap.String("response", truncate(resp.Text, 500)),
			zap.Error(err),
		)
		return analysis.QuerySpec{}, resp.Text, err
	}

	return spec, raw, nil
}

// RegenerateSpec resubmits a failed spec together with the execution error
// and asks for a corrected one.
func (a *Agent) RegenerateSpec(ctx context.Context, query string, snap *dataset.Snapshot, failedSpec, execError string) (analysis.QuerySpec, string, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System: specSystemPrompt,
		Prompt: buildRepairPrompt(query, snap, failedSpec, execError),
	})
	if err != nil {
		return analysis.QuerySpec{}, "", fmt.Errorf("regenerate spec: %w", err)
	}

	spec, raw, err := ParseSpec(resp.Text)
	if err != nil {
		return analysis.QuerySpec{}, resp.Text, err
	}

	return spec, raw, nil
}

// SummarizeInsights writes a short narrative answer from the result table.
// Failure here is not fatal to the query; callers may fall back to the bare
// table.
func (a *Agent) SummarizeInsights(ctx context.Context, query string, table *analysis.Table) (string, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		System: insightsSystemPrompt,
		Prompt: buildInsightsPrompt(query, table),
	})
	if err != nil {
		return "", fmt.Errorf("summarize insights: %w", err)
	}

	return strings.TrimSpace(resp.Text), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
