package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPeriodOrderChronology(t *testing.T) {
	// The whole point: H2'24 sorts before H1'25 despite string order.
	assert.Less(t, PeriodOrder("H2'24"), PeriodOrder("H1'25"))
	assert.Less(t, PeriodOrder("H1'24"), PeriodOrder("H2'24"))
	assert.Less(t, PeriodOrder("Q4'24"), PeriodOrder("Q1'25"))
	assert.Less(t, PeriodOrder("Q1'25"), PeriodOrder("Q2'25"))
}

func TestPeriodOrderFormats(t *testing.T) {
	assert.Equal(t, PeriodOrder("H1'25"), PeriodOrder("h1'25"))
	assert.Equal(t, PeriodOrder("H1'25"), PeriodOrder(" H1 '25 "))
	assert.Equal(t, PeriodOrder("H1'25"), PeriodOrder("H1'2025"))
	assert.NotZero(t, PeriodOrder("2025"))
	assert.Zero(t, PeriodOrder("latest wave"))
	assert.Zero(t, PeriodOrder(""))
}

func TestSortPeriods(t *testing.T) {
	periods := []string{"H1'25", "H1'24", "H2'24"}
	SortPeriods(periods)
	assert.Equal(t, []string{"H1'24", "H2'24", "H1'25"}, periods)
}
