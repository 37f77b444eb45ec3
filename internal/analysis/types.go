package analysis

import "strings"

// Record is one observation from the consolidated dataset: string dimension
// columns (Brand, Context, KPI, Time_Period, Datacut) plus the numeric value.
type Record struct {
	Dimensions map[string]string
	Value      float64
}

// QuerySpec is the contract between the LLM and the engine. The agent asks
// the model to produce this as JSON; the engine executes it locally and
// never calls an external service.
type QuerySpec struct {
	Title              string              `json:"title"`
	Filters            map[string][]string `json:"filters"`
	GroupBy            []string            `json:"group_by"`
	Aggregation        string              `json:"aggregation"`
	PivotPeriods       bool                `json:"pivot_periods"`
	Change             *ChangeSpec         `json:"change_over_time,omitempty"`
	Sort               *SortSpec           `json:"sort,omitempty"`
	Limit              int                 `json:"limit"`
	IncludeBaseMetrics bool                `json:"include_base_metrics"`
}

// ChangeSpec asks for To minus From across two time periods.
type ChangeSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// SortSpec orders result rows. By is "value", "label" or "period".
type SortSpec struct {
	By        string `json:"by"`
	Ascending bool   `json:"ascending"`
}

// Column names as they appear in the CSV header.
const (
	ColBrand      = "Brand"
	ColContext    = "Context"
	ColKPI        = "KPI"
	ColTimePeriod = "Time_Period"
	ColDatacut    = "Datacut"
	ColValue      = "value"
)

// DefaultDatacut is applied when the user names no demographic segment.
const DefaultDatacut = "Total"

// baseMetrics are sample-size rows excluded from analysis unless the user
// asks for them.
var baseMetrics = map[string]bool{
	"unweighted base": true,
	"sample size":     true,
	"base":            true,
}

// IsBaseMetric reports whether a KPI name is a non-analytical base metric.
func IsBaseMetric(kpi string) bool {
	return baseMetrics[strings.ToLower(strings.TrimSpace(kpi))]
}

// Normalize fills defaults and fixes the inconsistencies LLMs commonly
// produce, mirroring the deterministic cleanup the agent applies after
// parsing.
func Normalize(spec QuerySpec) QuerySpec {
	if spec.Aggregation == "" {
		spec.Aggregation = "mean"
	}
	spec.Aggregation = strings.ToLower(spec.Aggregation)
	if spec.Aggregation == "avg" || spec.Aggregation == "average" {
		spec.Aggregation = "mean"
	}

	// Change-over-time is computed on a period pivot.
	if spec.Change != nil {
		spec.PivotPeriods = true
	}

	if spec.Limit < 0 {
		spec.Limit = 0
	}

	if spec.Sort != nil {
		spec.Sort.By = strings.ToLower(spec.Sort.By)
	}

	// Top/Bottom N with no explicit ordering sorts by value descending.
	if spec.Limit > 0 && spec.Sort == nil {
		spec.Sort = &SortSpec{By: "value", Ascending: false}
	}

	return spec
}
