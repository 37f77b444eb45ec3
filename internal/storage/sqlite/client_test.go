package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/excelgpt/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestInsertAndGetQueryHistory(t *testing.T) {
	client := newTestClient(t)

	require.NoError(t, client.InsertQueryRecord(&models.QueryRecord{
		ID:         "q1",
		ClientID:   "client-1",
		Query:      "how is brand power?",
		Insights:   "Beta leads.",
		DataOutput: "table",
		SpecJSON:   `{"group_by":["Brand"]}`,
		Status:     "completed",
		LatencyMS:  1200,
	}))
	require.NoError(t, client.InsertQueryRecord(&models.QueryRecord{
		ID:       "q2",
		ClientID: "client-1",
		Query:    "power by region",
		Status:   "error",
		Error:    "unknown column",
		Retries:  2,
	}))
	require.NoError(t, client.InsertQueryRecord(&models.QueryRecord{
		ID:       "q3",
		ClientID: "other",
		Query:    "something else",
		Status:   "completed",
	}))

	records, err := client.GetQueryHistory("client-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, rec := range records {
		assert.Equal(t, "client-1", rec.ClientID)
	}
}

func TestGetQueryHistoryLimit(t *testing.T) {
	client := newTestClient(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, client.InsertQueryRecord(&models.QueryRecord{
			ID:       id,
			ClientID: "c1",
			Query:    "q",
			Status:   "completed",
		}))
	}

	records, err := client.GetQueryHistory("c1", 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStoreFeedback(t *testing.T) {
	client := newTestClient(t)

	fb := &models.Feedback{
		QueryID:  "q1",
		ClientID: "client-1",
		Rating:   1,
		Comment:  "useful",
	}
	require.NoError(t, client.StoreFeedback(fb))
	assert.NotZero(t, fb.ID)
}
