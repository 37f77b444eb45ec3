// Package query orchestrates the full question lifecycle: spec generation,
// local execution with model-assisted repair, insight writing, caching and
// history.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/analysis"
	"github.com/excelgpt/backend/internal/cache/redis"
	"github.com/excelgpt/backend/internal/dataset"
	"github.com/excelgpt/backend/internal/metrics"
	"github.com/excelgpt/backend/internal/storage/models"
	"github.com/excelgpt/backend/pkg/logger"
	"github.com/excelgpt/backend/pkg/utils"
)

// SpecAgent is the slice of the agent the engine needs. Declared here so
// tests can substitute a stub.
type SpecAgent interface {
	GenerateSpec(ctx context.Context, query string, snap *dataset.Snapshot, hints []string) (analysis.QuerySpec, string, error)
	RegenerateSpec(ctx context.Context, query string, snap *dataset.Snapshot, failedSpec, execError string) (analysis.QuerySpec, string, error)
	SummarizeInsights(ctx context.Context, query string, table *analysis.Table) (string, error)
}

// HistoryStore persists completed queries. Nil-safe via the engine.
type HistoryStore interface {
	InsertQueryRecord(rec *models.QueryRecord) error
}

// Result is everything a transport needs to answer a query.
type Result struct {
	ID            string `json:"id"`
	Query         string `json:"query"`
	Status        string `json:"status"`
	Insights      string `json:"insights,omitempty"`
	DataOutput    string `json:"data_output,omitempty"`
	GeneratedCode string `json:"generated_code,omitempty"`
	Error         string `json:"error,omitempty"`
	Retries       int    `json:"retries"`
	FromCache     bool   `json:"from_cache"`
	LatencyMS     int64  `json:"latency_ms"`
}

const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

type Engine struct {
	data       *dataset.Store
	cache      *redis.Client
	history    HistoryStore
	maxRetries int
	logger     *zap.Logger

	mu    sync.RWMutex
	agent SpecAgent
}

func NewEngine(agent SpecAgent, data *dataset.Store, cache *redis.Client, history HistoryStore, maxRetries int) *Engine {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Engine{
		agent:      agent,
		data:       data,
		cache:      cache,
		history:    history,
		maxRetries: maxRetries,
		logger:     logger.GetLogger(),
	}
}

// SetAgent installs or replaces the spec agent. Used when LLM initialization
// succeeds only after startup, via POST /init.
func (e *Engine) SetAgent(a SpecAgent) {
	e.mu.Lock()
	e.agent = a
	e.mu.Unlock()
}

func (e *Engine) specAgent() SpecAgent {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.agent
}

// ProcessQuery answers one question. onStatus receives progress messages for
// streaming transports; pass nil to skip them. The returned Result is always
// non-nil; err is non-nil exactly when Result.Status is "error".
func (e *Engine) ProcessQuery(ctx context.Context, clientID, queryText string, onStatus func(string)) (*Result, error) {
	start := time.Now()
	status := func(msg string) {
		if onStatus != nil {
			onStatus(msg)
		}
	}

	result := &Result{
		ID:     uuid.New().String(),
		Query:  queryText,
		Status: StatusError,
	}

	specAgent := e.specAgent()
	if specAgent == nil {
		result.Error = "LLM not configured: check the API key and provider settings"
		return e.finish(clientID, result, start)
	}

	snap := e.data.Snapshot()
	if snap == nil {
		result.Error = "dataset not initialized"
		return e.finish(clientID, result, start)
	}

	cacheKey := "excelgpt:result:" + utils.HashQuery(queryText)
	if cached, err := e.cache.Get(ctx, cacheKey); err == nil {
		var hit Result
		if err := json.Unmarshal([]byte(cached), &hit); err == nil {
			metrics.RecordCacheHit()
			hit.ID = result.ID
			hit.FromCache = true
			hit.LatencyMS = time.Since(start).Milliseconds()
			e.logger.Info("Query served from cache",
				zap.String("client_id", clientID),
				zap.String("query", queryText),
			)
			return &hit, nil
		}
	}
	metrics.RecordCacheMiss()

	status("Generating analysis spec...")

	hints := ExtractHints(queryText, snap)

	spec, raw, genErr := specAgent.GenerateSpec(ctx, queryText, snap, hints)
	result.GeneratedCode = raw

	var table *analysis.Table

	for attempt := 0; ; attempt++ {
		if genErr == nil {
			status("Executing analysis...")

			var execErr error
			table, execErr = analysis.Execute(spec, snap.Records)
			if execErr == nil {
				break
			}
			genErr = execErr
		}

		if attempt >= e.maxRetries {
			result.Error = genErr.Error()
			result.Retries = attempt
			return e.finish(clientID, result, start)
		}

		// Hand the failure back to the model for a corrected spec.
		metrics.RecordRegeneration()
		status("Retrying analysis...")
		e.logger.Warn("Analysis failed, regenerating spec",
			zap.String("query", queryText),
			zap.Int("attempt", attempt+1),
			zap.Error(genErr),
		)

		spec, raw, genErr = specAgent.RegenerateSpec(ctx, queryText, snap, result.GeneratedCode, genErr.Error())
		if raw != "" {
			result.GeneratedCode = raw
		}
		result.Retries = attempt + 1
	}

	result.DataOutput = table.Render()

	status("Generating insights...")

	insights, err := specAgent.SummarizeInsights(ctx, queryText, table)
	if err != nil {
		e.logger.Warn("Insight generation failed, returning table only",
			zap.String("query", queryText),
			zap.Error(err),
		)
		insights = "Analysis completed. See the data output below."
	}
	result.Insights = insights
	result.Status = StatusCompleted

	if payload, err := json.Marshal(result); err == nil {
		e.cache.Set(ctx, cacheKey, string(payload))
	}

	return e.finish(clientID, result, start)
}

// finish stamps latency, records metrics and history, and converts an error
// status into a returned error.
func (e *Engine) finish(clientID string, result *Result, start time.Time) (*Result, error) {
	result.LatencyMS = time.Since(start).Milliseconds()

	metrics.RecordQuery(result.Status, time.Since(start))

	if e.history != nil {
		rec := &models.QueryRecord{
			ID:         result.ID,
			ClientID:   clientID,
			Query:      result.Query,
			Insights:   result.Insights,
			DataOutput: result.DataOutput,
			SpecJSON:   result.GeneratedCode,
			Status:     result.Status,
			Error:      result.Error,
			Retries:    result.Retries,
			LatencyMS:  result.LatencyMS,
		}
		if err := e.history.InsertQueryRecord(rec); err != nil {
			e.logger.Warn("Failed to persist query record", zap.Error(err))
		}
	}

	if result.Status == StatusError {
		e.logger.Error("Query failed",
			zap.String("client_id", clientID),
			zap.String("query", result.Query),
			zap.String("error", result.Error),
			zap.Int("retries", result.Retries),
		)
		return result, errors.New(result.Error)
	}

	e.logger.Info("Query completed",
		zap.String("client_id", clientID),
		zap.String("query", result.Query),
		zap.Int("retries", result.Retries),
		zap.Int64("latency_ms", result.LatencyMS),
	)
	return result, nil
}
