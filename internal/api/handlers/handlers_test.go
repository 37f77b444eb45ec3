package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/excelgpt/backend/internal/analysis"
	"github.com/excelgpt/backend/internal/dataset"
	"github.com/excelgpt/backend/internal/query"
	"github.com/excelgpt/backend/pkg/config"
)

const testCSV = `Brand,Context,KPI,Time_Period,Datacut,value
Alpha,Brand Equity,Power,H1'25,Total,15
Beta,Brand Equity,Power,H1'25,Total,16
`

type stubAgent struct{}

func (stubAgent) GenerateSpec(ctx context.Context, q string, snap *dataset.Snapshot, hints []string) (analysis.QuerySpec, string, error) {
	return analysis.QuerySpec{
		Filters: map[string][]string{analysis.ColKPI: {"Power"}},
		GroupBy: []string{analysis.ColBrand},
	}, `{"group_by":["Brand"]}`, nil
}

func (stubAgent) RegenerateSpec(ctx context.Context, q string, snap *dataset.Snapshot, failedSpec, execError string) (analysis.QuerySpec, string, error) {
	return analysis.QuerySpec{}, "", nil
}

func (stubAgent) SummarizeInsights(ctx context.Context, q string, table *analysis.Table) (string, error) {
	return "Beta leads.", nil
}

func newTestApp(t *testing.T, loadData bool) (*fiber.App, *dataset.Store) {
	t.Helper()
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "data.csv")
	summaryPath := filepath.Join(dir, "summary.json")
	mappingPath := filepath.Join(dir, "mapping.json")

	if loadData {
		require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0o644))
		require.NoError(t, os.WriteFile(summaryPath, []byte(`{}`), 0o644))
		require.NoError(t, os.WriteFile(mappingPath, []byte(`{}`), 0o644))
	}

	store := dataset.NewStore(csvPath, summaryPath, mappingPath)
	if loadData {
		require.NoError(t, store.Load())
	}

	engine := query.NewEngine(stubAgent{}, store, nil, nil, 2)
	requests := query.NewRequestStore(engine)

	cfg := &config.Config{}
	cfg.Data.CSVPath = csvPath
	cfg.Data.DBSummaryPath = summaryPath
	cfg.Data.KPIMappingPath = mappingPath

	queryHandler := NewQueryHandler(requests, store, nil)
	healthHandler := NewHealthHandler(store, cfg, nil, nil)

	app := fiber.New()
	app.Get("/", healthHandler.Root)
	app.Get("/health", healthHandler.Health)
	app.Post("/init", healthHandler.Init)
	app.Get("/data/info", queryHandler.DataInfo)
	app.Post("/api/query", queryHandler.SubmitQuery)
	app.Get("/api/result/:request_id", queryHandler.GetResult)

	return app, store
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	return body
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := newTestApp(t, true)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["excelgpt_initialized"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealthEndpointDegraded(t *testing.T) {
	app, _ := newTestApp(t, false)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)

	body := decodeBody(t, resp)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, false, body["excelgpt_initialized"])
	assert.NotNil(t, body["diagnostics"])
}

func TestInitEndpoint(t *testing.T) {
	app, store := newTestApp(t, true)

	// Force back to unloaded state is not possible; just verify reload works.
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/init", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, true, body["initialized"])
	assert.True(t, store.Ready())
}

func TestInitRetriesLLMSetup(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	summaryPath := filepath.Join(dir, "summary.json")
	mappingPath := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0o644))
	require.NoError(t, os.WriteFile(summaryPath, []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(mappingPath, []byte(`{}`), 0o644))

	store := dataset.NewStore(csvPath, summaryPath, mappingPath)
	require.NoError(t, store.Load())

	cfg := &config.Config{}
	cfg.Data.CSVPath = csvPath
	cfg.Data.DBSummaryPath = summaryPath
	cfg.Data.KPIMappingPath = mappingPath

	// LLM setup failed at startup; the retry succeeds.
	retried := 0
	handler := NewHealthHandler(store, cfg, errors.New("GOOGLE_API_KEY is not set"), func() error {
		retried++
		return nil
	})

	app := fiber.New()
	app.Get("/health", handler.Health)
	app.Post("/init", handler.Init)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body["init_error"], "GOOGLE_API_KEY")

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/init", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, true, body["initialized"])
	assert.Equal(t, 1, retried)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["excelgpt_initialized"])
}

func TestInitKeepsFailingLLMSetupDegraded(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "data.csv")
	summaryPath := filepath.Join(dir, "summary.json")
	mappingPath := filepath.Join(dir, "mapping.json")
	require.NoError(t, os.WriteFile(csvPath, []byte(testCSV), 0o644))
	require.NoError(t, os.WriteFile(summaryPath, []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(mappingPath, []byte(`{}`), 0o644))

	store := dataset.NewStore(csvPath, summaryPath, mappingPath)
	require.NoError(t, store.Load())

	cfg := &config.Config{}
	cfg.Data.CSVPath = csvPath
	cfg.Data.DBSummaryPath = summaryPath
	cfg.Data.KPIMappingPath = mappingPath

	handler := NewHealthHandler(store, cfg, errors.New("still broken"), func() error {
		return errors.New("still broken")
	})

	app := fiber.New()
	app.Post("/init", handler.Init)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/init", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, false, body["initialized"])
	assert.Contains(t, body["error"], "still broken")
}

func TestDataInfoEndpoint(t *testing.T) {
	app, _ := newTestApp(t, true)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/data/info", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(2), body["rows"])
}

func TestDataInfoUnavailable(t *testing.T) {
	app, _ := newTestApp(t, false)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/data/info", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestQuerySubmitAndPoll(t *testing.T) {
	app, _ := newTestApp(t, true)

	payload := bytes.NewBufferString(`{"query":"how is brand power?","client_id":"c1"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/query", payload)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	requestID, _ := body["request_id"].(string)
	require.NotEmpty(t, requestID)

	deadline := time.Now().Add(5 * time.Second)
	var result map[string]any
	for time.Now().Before(deadline) {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/result/"+requestID, nil))
		require.NoError(t, err)
		result = decodeBody(t, resp)
		if result["status"] != "processing" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	require.Equal(t, "completed", result["status"])
	assert.Equal(t, "Beta leads.", result["insights"])
	assert.Contains(t, result["data_output"], "Beta")
	assert.NotEmpty(t, result["generated_code"])
}

func TestQuerySubmitInvalidBody(t *testing.T) {
	app, _ := newTestApp(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewBufferString(`{"query":""}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestResultUnknownID(t *testing.T) {
	app, _ := newTestApp(t, true)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/result/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestRootEndpoint(t *testing.T) {
	app, _ := newTestApp(t, true)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "excelgpt-backend", body["service"])
}
