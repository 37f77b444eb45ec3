package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Execution failures are returned as errors carrying enough detail for the
// agent to ask the model for a corrected spec.
var (
	ErrUnknownColumn      = errors.New("unknown column")
	ErrUnknownAggregation = errors.New("unknown aggregation")
	ErrNoRows             = errors.New("no rows match the query filters")
	ErrMissingPeriod      = errors.New("time period not present in data")
)

// Execute runs a QuerySpec against the dataset and returns a result table.
// Pipeline: validate → playbook defaults → filter → group/aggregate →
// pivot/change → sort → limit → table. All computation is local.
func Execute(spec QuerySpec, records []Record) (*Table, error) {
	spec = Normalize(spec)

	if len(records) == 0 {
		return nil, ErrNoRows
	}

	columns := dimensionColumns(records)

	for dim := range spec.Filters {
		if !columns[dim] {
			return nil, fmt.Errorf("%w: filter on %q (available: %s)", ErrUnknownColumn, dim, columnList(columns))
		}
	}
	for _, dim := range spec.GroupBy {
		if !columns[dim] {
			return nil, fmt.Errorf("%w: group by %q (available: %s)", ErrUnknownColumn, dim, columnList(columns))
		}
	}

	if !validAggregation(spec.Aggregation) {
		return nil, fmt.Errorf("%w: %q (want sum, mean, min, max or count)", ErrUnknownAggregation, spec.Aggregation)
	}

	filters := applyPlaybookDefaults(spec, columns)

	indices := filterRecords(records, filters, excludeBaseMetrics(spec))
	if len(indices) == 0 {
		return nil, ErrNoRows
	}

	groups := groupRecords(records, indices, spec.GroupBy)

	if spec.PivotPeriods {
		return buildPivotTable(spec, records, groups)
	}

	for i := range groups {
		groups[i].value = aggregate(records, groups[i].rows, spec.Aggregation)
		groups[i].sortValue = groups[i].value
	}

	sortGroups(groups, spec)
	groups = limitGroups(groups, spec.Limit)

	return buildGroupTable(spec, groups), nil
}

// applyPlaybookDefaults enforces the analytical playbook: demographics
// default to "Total" when the user names none.
func applyPlaybookDefaults(spec QuerySpec, columns map[string]bool) map[string][]string {
	filters := make(map[string][]string, len(spec.Filters)+1)
	for dim, values := range spec.Filters {
		filters[dim] = values
	}

	groupsByDatacut := false
	for _, dim := range spec.GroupBy {
		if dim == ColDatacut {
			groupsByDatacut = true
		}
	}

	if columns[ColDatacut] && len(filters[ColDatacut]) == 0 && !groupsByDatacut {
		filters[ColDatacut] = []string{DefaultDatacut}
	}

	return filters
}

// excludeBaseMetrics reports whether base-metric rows should be dropped.
// They stay in when the spec says so or when the KPI filter names one
// explicitly.
func excludeBaseMetrics(spec QuerySpec) bool {
	if spec.IncludeBaseMetrics {
		return false
	}
	for _, kpi := range spec.Filters[ColKPI] {
		if IsBaseMetric(kpi) {
			return false
		}
	}
	return true
}

// filterRecords returns indices of records matching every dimension filter.
// Values within a dimension are OR-combined; matching is case-insensitive.
func filterRecords(records []Record, filters map[string][]string, dropBaseMetrics bool) []int {
	sets := make(map[string]map[string]bool, len(filters))
	for dim, values := range filters {
		if len(values) == 0 {
			continue
		}
		set := make(map[string]bool, len(values))
		for _, v := range values {
			set[strings.ToLower(strings.TrimSpace(v))] = true
		}
		sets[dim] = set
	}

	indices := make([]int, 0, len(records))
	for i, rec := range records {
		if dropBaseMetrics && IsBaseMetric(rec.Dimensions[ColKPI]) {
			continue
		}
		pass := true
		for dim, set := range sets {
			if !set[strings.ToLower(strings.TrimSpace(rec.Dimensions[dim]))] {
				pass = false
				break
			}
		}
		if pass {
			indices = append(indices, i)
		}
	}
	return indices
}

type group struct {
	labels    []string
	rows      []int
	value     float64
	cells     map[string]float64
	hasCell   map[string]bool
	sortValue float64
}

func (g group) key() string { return strings.Join(g.labels, "\x1f") }

// groupRecords partitions row indices by the GroupBy dimensions, preserving
// first-seen order. With no GroupBy everything lands in a single Total group.
func groupRecords(records []Record, indices []int, groupBy []string) []group {
	if len(groupBy) == 0 {
		return []group{{labels: []string{"Total"}, rows: indices}}
	}

	byKey := make(map[string]int)
	var groups []group

	for _, i := range indices {
		labels := make([]string, len(groupBy))
		for j, dim := range groupBy {
			labels[j] = records[i].Dimensions[dim]
		}
		key := strings.Join(labels, "\x1f")
		idx, ok := byKey[key]
		if !ok {
			idx = len(groups)
			byKey[key] = idx
			groups = append(groups, group{labels: labels})
		}
		groups[idx].rows = append(groups[idx].rows, i)
	}

	return groups
}

func aggregate(records []Record, rows []int, aggregation string) float64 {
	if len(rows) == 0 {
		return 0
	}

	switch aggregation {
	case "count":
		return float64(len(rows))
	case "sum", "mean":
		var total float64
		for _, i := range rows {
			total += records[i].Value
		}
		if aggregation == "mean" {
			return total / float64(len(rows))
		}
		return total
	case "min":
		m := records[rows[0]].Value
		for _, i := range rows[1:] {
			if records[i].Value < m {
				m = records[i].Value
			}
		}
		return m
	case "max":
		m := records[rows[0]].Value
		for _, i := range rows[1:] {
			if records[i].Value > m {
				m = records[i].Value
			}
		}
		return m
	}
	return 0
}

func validAggregation(aggregation string) bool {
	switch aggregation {
	case "sum", "mean", "min", "max", "count":
		return true
	}
	return false
}

// buildPivotTable spreads Time_Period across columns, one row per group,
// optionally appending a Change column (newest minus oldest of the requested
// pair).
func buildPivotTable(spec QuerySpec, records []Record, groups []group) (*Table, error) {
	periodSet := make(map[string]bool)
	for i := range groups {
		groups[i].cells = make(map[string]float64)
		groups[i].hasCell = make(map[string]bool)

		byPeriod := make(map[string][]int)
		for _, r := range groups[i].rows {
			period := records[r].Dimensions[ColTimePeriod]
			byPeriod[period] = append(byPeriod[period], r)
			periodSet[period] = true
		}
		for period, rows := range byPeriod {
			groups[i].cells[period] = aggregate(records, rows, spec.Aggregation)
			groups[i].hasCell[period] = true
		}
	}

	periods := make([]string, 0, len(periodSet))
	for p := range periodSet {
		periods = append(periods, p)
	}
	SortPeriods(periods)

	if spec.Change != nil {
		from, ok := matchPeriod(periods, spec.Change.From)
		if !ok {
			return nil, fmt.Errorf("%w: %q (available: %s)", ErrMissingPeriod, spec.Change.From, strings.Join(periods, ", "))
		}
		to, ok := matchPeriod(periods, spec.Change.To)
		if !ok {
			return nil, fmt.Errorf("%w: %q (available: %s)", ErrMissingPeriod, spec.Change.To, strings.Join(periods, ", "))
		}
		periods = []string{from, to}

		for i := range groups {
			change := groups[i].cells[to] - groups[i].cells[from]
			groups[i].cells["Change"] = change
			groups[i].hasCell["Change"] = groups[i].hasCell[from] && groups[i].hasCell[to]
			groups[i].sortValue = change
		}
		periods = append(periods, "Change")
	} else {
		// Pivot rows order by the newest period's value, descending, unless
		// the spec asks for something else.
		for i := range groups {
			if len(periods) > 0 {
				groups[i].sortValue = groups[i].cells[periods[len(periods)-1]]
			}
		}
		if spec.Sort == nil && (len(spec.GroupBy) == 0 || spec.GroupBy[0] != ColTimePeriod) {
			spec.Sort = &SortSpec{By: "value"}
		}
	}

	sortGroups(groups, spec)
	groups = limitGroups(groups, spec.Limit)

	columns := append(groupColumns(spec), periods...)
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		row := append([]string{}, g.labels...)
		for _, p := range periods {
			if g.hasCell[p] {
				row = append(row, formatValue(g.cells[p]))
			} else {
				row = append(row, "NaN")
			}
		}
		rows = append(rows, row)
	}

	return &Table{Title: spec.Title, Columns: columns, Rows: rows}, nil
}

// matchPeriod resolves a requested period label against the labels actually
// present, case-insensitively and by chronological order value.
func matchPeriod(periods []string, want string) (string, bool) {
	for _, p := range periods {
		if strings.EqualFold(strings.TrimSpace(p), strings.TrimSpace(want)) {
			return p, true
		}
	}
	wantOrder := PeriodOrder(want)
	if wantOrder == 0 {
		return "", false
	}
	for _, p := range periods {
		if PeriodOrder(p) == wantOrder {
			return p, true
		}
	}
	return "", false
}

func buildGroupTable(spec QuerySpec, groups []group) *Table {
	columns := append(groupColumns(spec), aggregationLabel(spec.Aggregation))

	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		row := append([]string{}, g.labels...)
		row = append(row, formatValue(g.value))
		rows = append(rows, row)
	}

	return &Table{Title: spec.Title, Columns: columns, Rows: rows}
}

func groupColumns(spec QuerySpec) []string {
	if len(spec.GroupBy) == 0 {
		return []string{"Group"}
	}
	return append([]string{}, spec.GroupBy...)
}

func sortGroups(groups []group, spec QuerySpec) {
	sortSpec := spec.Sort
	if sortSpec == nil {
		// Grouping by time period sorts chronologically by default; the
		// playbook forbids alphabetical period order.
		if len(spec.GroupBy) > 0 && spec.GroupBy[0] == ColTimePeriod {
			sortSpec = &SortSpec{By: "period", Ascending: true}
		} else {
			return
		}
	}

	less := func(i, j int) bool { return false }
	switch sortSpec.By {
	case "value":
		less = func(i, j int) bool { return groups[i].sortValue < groups[j].sortValue }
	case "label":
		less = func(i, j int) bool {
			return strings.ToLower(groups[i].key()) < strings.ToLower(groups[j].key())
		}
	case "period":
		less = func(i, j int) bool {
			return PeriodOrder(groups[i].labels[0]) < PeriodOrder(groups[j].labels[0])
		}
	default:
		return
	}

	if sortSpec.Ascending {
		sort.SliceStable(groups, less)
	} else {
		sort.SliceStable(groups, func(i, j int) bool { return less(j, i) })
	}
}

func limitGroups(groups []group, limit int) []group {
	if limit > 0 && len(groups) > limit {
		return groups[:limit]
	}
	return groups
}

func aggregationLabel(aggregation string) string {
	switch aggregation {
	case "sum":
		return "Total"
	case "mean":
		return "Average"
	case "min":
		return "Minimum"
	case "max":
		return "Maximum"
	case "count":
		return "Count"
	}
	return "Value"
}

func dimensionColumns(records []Record) map[string]bool {
	columns := make(map[string]bool)
	for _, rec := range records {
		for dim := range rec.Dimensions {
			columns[dim] = true
		}
	}
	return columns
}

func columnList(columns map[string]bool) string {
	names := make([]string, 0, len(columns))
	for c := range columns {
		names = append(names, c)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
