package agent

import (
	"fmt"
	"strings"

	"github.com/excelgpt/backend/internal/analysis"
	"github.com/excelgpt/backend/internal/dataset"
)

const specSystemPrompt = `You are a market research data analyst. You translate
natural-language questions about a brand tracking dataset into a JSON analysis
spec. You respond with ONLY a single JSON object, no commentary and no markdown.

The dataset has one numeric "value" column and these dimension columns:
Brand, Context, KPI, Time_Period, Datacut.

The JSON spec has this shape:
{
  "title": "short human-readable title for the result",
  "filters": {"Brand": ["..."], "KPI": ["..."], "Time_Period": ["..."], "Datacut": ["..."], "Context": ["..."]},
  "group_by": ["Brand"],
  "aggregation": "mean",
  "pivot_periods": false,
  "change_over_time": {"from": "H1'24", "to": "H1'25"},
  "sort": {"by": "value", "ascending": false},
  "limit": 0,
  "include_base_metrics": false
}

Rules:
- aggregation is one of sum, mean, min, max, count. Default to mean.
- Only use dimension values that exist in the dataset vocabulary below. Match
  the user's wording to the closest real value.
- When the user does not name a demographic segment, omit the Datacut filter;
  the engine applies the "Total" cut automatically.
- Never include Unweighted Base, Sample Size or Base KPIs unless the user asks
  for sample sizes; leave include_base_metrics false.
- Time periods look like "H1'25" and must be compared chronologically. For
  "change", "growth" or "decline" questions set change_over_time with the
  older period in "from" and the newer in "to".
- For trend questions ("over time", "by wave") set group_by to ["Time_Period"]
  or set pivot_periods true with another group_by.
- For "top N" or "bottom N" set limit to N and sort by value (descending for
  top, ascending for bottom).
- Omit change_over_time and sort entirely when not needed. Do not emit nulls.`

const insightsSystemPrompt = `You are a market research analyst writing for a
brand manager. Given a question and the result table that answers it, write
two to four short sentences of insight: lead with the direct answer, call out
the most notable comparison or movement, and mention concrete numbers from the
table. No headers, no bullet points, no restating the table.`

// buildSpecPrompt assembles the user prompt for first-pass spec generation:
// dataset vocabulary, the database summary sidecar, the context→KPI mapping,
// optional entity hints, and the question itself.
func buildSpecPrompt(query string, snap *dataset.Snapshot, hints []string) string {
	var b strings.Builder

	writeVocabulary(&b, snap)

	if snap.DBSummary != "" {
		b.WriteString("\nDatabase summary:\n")
		b.WriteString(snap.DBSummary)
		b.WriteString("\n")
	}

	if len(snap.KPIMapping) > 0 {
		b.WriteString("\nContext to KPI mapping (which KPIs belong to which research context):\n")
		for context, kpis := range snap.KPIMapping {
			fmt.Fprintf(&b, "- %s: %s\n", context, strings.Join(kpis, ", "))
		}
	}

	if len(hints) > 0 {
		b.WriteString("\nEntities detected in the question: ")
		b.WriteString(strings.Join(hints, ", "))
		b.WriteString("\n")
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nJSON spec:")

	return b.String()
}

// buildRepairPrompt asks the model to fix a spec that failed to execute. The
// failed spec and the execution error are included verbatim so the model can
// see what went wrong.
func buildRepairPrompt(query string, snap *dataset.Snapshot, failedSpec, execError string) string {
	var b strings.Builder

	writeVocabulary(&b, snap)

	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\n\nYour previous spec failed to execute.\nFailed spec:\n")
	b.WriteString(failedSpec)
	b.WriteString("\n\nExecution error: ")
	b.WriteString(execError)
	b.WriteString("\n\nProduce a corrected JSON spec that avoids this error. ")
	b.WriteString("Use only dimension values from the vocabulary above.\n\nJSON spec:")

	return b.String()
}

func buildInsightsPrompt(query string, table *analysis.Table) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nResult table:\n")
	b.WriteString(table.Render())
	b.WriteString("\n\nInsights:")
	return b.String()
}

func writeVocabulary(b *strings.Builder, snap *dataset.Snapshot) {
	b.WriteString("Dataset vocabulary:\n")
	writeValues(b, "Contexts", snap.Contexts(), 0)
	writeValues(b, "Brands", snap.Brands(), 60)
	writeValues(b, "KPIs", snap.KPIs(), 120)
	writeValues(b, "Time periods (chronological)", snap.TimePeriods(), 0)
	writeValues(b, "Datacuts", snap.Datacuts(), 60)
}

// writeValues lists dimension values, truncated so huge vocabularies do not
// blow the prompt budget. limit 0 means no cap.
func writeValues(b *strings.Builder, label string, values []string, limit int) {
	truncated := false
	if limit > 0 && len(values) > limit {
		values = values[:limit]
		truncated = true
	}

	fmt.Fprintf(b, "- %s: %s", label, strings.Join(values, ", "))
	if truncated {
		b.WriteString(", …")
	}
	b.WriteString("\n")
}
