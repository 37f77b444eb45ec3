package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/analysis"
	"github.com/excelgpt/backend/pkg/logger"
)

// Store holds the consolidated research dataset in memory together with its
// two sidecar files: the database summary and the context→KPI mapping. The
// whole thing can be atomically reloaded, so readers always see a consistent
// snapshot.
type Store struct {
	csvPath        string
	dbSummaryPath  string
	kpiMappingPath string
	logger         *zap.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// Snapshot is one immutable load of the dataset.
type Snapshot struct {
	Records    []analysis.Record
	Columns    []string
	DBSummary  string
	KPIMapping map[string][]string

	contexts    []string
	brands      []string
	kpis        []string
	timePeriods []string
	datacuts    []string
}

// Info is the payload behind the data-info endpoint.
type Info struct {
	Rows        int                 `json:"rows"`
	Columns     []string            `json:"columns"`
	Contexts    []string            `json:"contexts"`
	Brands      []string            `json:"brands"`
	TotalBrands int                 `json:"total_brands"`
	TimePeriods []string            `json:"time_periods"`
	Datacuts    []string            `json:"datacuts"`
	KPIMapping  map[string][]string `json:"context_kpi_mapping,omitempty"`
}

func NewStore(csvPath, dbSummaryPath, kpiMappingPath string) *Store {
	return &Store{
		csvPath:        csvPath,
		dbSummaryPath:  dbSummaryPath,
		kpiMappingPath: kpiMappingPath,
		logger:         logger.GetLogger(),
	}
}

// Load reads the CSV and sidecars from disk and swaps in a new snapshot.
// A failed load leaves the previous snapshot in place.
func (s *Store) Load() error {
	records, columns, err := loadCSV(s.csvPath)
	if err != nil {
		return err
	}

	summary, err := loadDBSummary(s.dbSummaryPath)
	if err != nil {
		return err
	}

	mapping, err := loadKPIMapping(s.kpiMappingPath)
	if err != nil {
		return err
	}

	snap := &Snapshot{
		Records:    records,
		Columns:    columns,
		DBSummary:  summary,
		KPIMapping: mapping,
	}
	snap.index()

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	s.logger.Info("Dataset loaded",
		zap.String("csv", s.csvPath),
		zap.Int("rows", len(records)),
		zap.Int("contexts", len(snap.contexts)),
		zap.Int("brands", len(snap.brands)),
	)

	return nil
}

// Snapshot returns the current dataset, or nil before the first Load.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Ready reports whether a dataset has been loaded.
func (s *Store) Ready() bool {
	return s.Snapshot() != nil
}

// Info summarizes the loaded dataset. Brand list is capped at ten entries.
func (s *Store) Info() (*Info, error) {
	snap := s.Snapshot()
	if snap == nil {
		return nil, fmt.Errorf("dataset not loaded")
	}

	brands := snap.brands
	if len(brands) > 10 {
		brands = brands[:10]
	}

	return &Info{
		Rows:        len(snap.Records),
		Columns:     snap.Columns,
		Contexts:    snap.contexts,
		Brands:      brands,
		TotalBrands: len(snap.brands),
		TimePeriods: snap.timePeriods,
		Datacuts:    snap.datacuts,
		KPIMapping:  snap.KPIMapping,
	}, nil
}

// Brands returns every distinct brand name in the snapshot.
func (sn *Snapshot) Brands() []string { return sn.brands }

// KPIs returns every distinct KPI name in the snapshot.
func (sn *Snapshot) KPIs() []string { return sn.kpis }

// Datacuts returns every distinct demographic cut in the snapshot.
func (sn *Snapshot) Datacuts() []string { return sn.datacuts }

// Contexts returns every distinct research context in the snapshot.
func (sn *Snapshot) Contexts() []string { return sn.contexts }

// TimePeriods returns the distinct period labels, chronologically ordered.
func (sn *Snapshot) TimePeriods() []string { return sn.timePeriods }

func (sn *Snapshot) index() {
	sn.contexts = distinct(sn.Records, analysis.ColContext)
	sn.brands = distinct(sn.Records, analysis.ColBrand)
	sn.kpis = distinct(sn.Records, analysis.ColKPI)
	sn.datacuts = distinct(sn.Records, analysis.ColDatacut)

	sn.timePeriods = distinct(sn.Records, analysis.ColTimePeriod)
	analysis.SortPeriods(sn.timePeriods)
}

func distinct(records []analysis.Record, dim string) []string {
	seen := make(map[string]bool)
	var values []string
	for _, rec := range records {
		v := rec.Dimensions[dim]
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		values = append(values, v)
	}
	sort.Strings(values)
	return values
}

// loadCSV parses the consolidated CSV into records. Every column except the
// value column is treated as a string dimension. Rows that are malformed or
// whose value cell does not parse as a number are skipped.
func loadCSV(path string) ([]analysis.Record, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open dataset csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}

	valueCol := -1
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
		if strings.EqualFold(header[i], analysis.ColValue) {
			valueCol = i
		}
	}
	if valueCol < 0 {
		return nil, nil, fmt.Errorf("dataset csv %s has no %q column", path, analysis.ColValue)
	}

	var records []analysis.Record
	skipped := 0

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Malformed row (bad quoting, wrong field count). Skip it and
			// keep reading; the rest of the file still loads.
			skipped++
			continue
		}
		if len(row) != len(header) {
			skipped++
			continue
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(row[valueCol]), 64)
		if err != nil {
			skipped++
			continue
		}

		dims := make(map[string]string, len(header)-1)
		for i, cell := range row {
			if i == valueCol {
				continue
			}
			dims[header[i]] = strings.TrimSpace(cell)
		}

		records = append(records, analysis.Record{Dimensions: dims, Value: value})
	}

	if len(records) == 0 {
		return nil, nil, fmt.Errorf("dataset csv %s contains no usable rows (%d skipped)", path, skipped)
	}

	if skipped > 0 {
		logger.Warn("Skipped unparseable dataset rows",
			zap.String("csv", path),
			zap.Int("skipped", skipped),
		)
	}

	return records, header, nil
}

// loadDBSummary reads db_summary.json and flattens it into prompt text. The
// file is optional context for the model, so a missing file is an error only
// because startup diagnostics want to surface it.
func loadDBSummary(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read db summary: %w", err)
	}

	// Keep whatever structure the file has; the prompt embeds it verbatim.
	var check json.RawMessage
	if err := json.Unmarshal(raw, &check); err != nil {
		return "", fmt.Errorf("parse db summary %s: %w", path, err)
	}

	return strings.TrimSpace(string(raw)), nil
}

func loadKPIMapping(path string) (map[string][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read kpi mapping: %w", err)
	}

	mapping := make(map[string][]string)
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parse kpi mapping %s: %w", path, err)
	}

	return mapping, nil
}
