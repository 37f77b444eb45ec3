package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/storage/models"
	"github.com/excelgpt/backend/pkg/logger"
)

// Client persists query history and feedback in a local SQLite database.
type Client struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewClient(path string) (*Client, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	c := &Client{db: db, logger: logger.GetLogger()}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

func (c *Client) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_history (
		id          TEXT PRIMARY KEY,
		client_id   TEXT NOT NULL,
		query       TEXT NOT NULL,
		insights    TEXT,
		data_output TEXT,
		spec_json   TEXT,
		status      TEXT NOT NULL,
		error       TEXT,
		retries     INTEGER NOT NULL DEFAULT 0,
		latency_ms  INTEGER NOT NULL DEFAULT 0,
		created_at  TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_history_client ON query_history(client_id, created_at);

	CREATE TABLE IF NOT EXISTS feedback (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id   TEXT NOT NULL,
		client_id  TEXT NOT NULL,
		rating     INTEGER NOT NULL,
		comment    TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize sqlite schema: %w", err)
	}
	return nil
}

func (c *Client) InsertQueryRecord(rec *models.QueryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := c.db.Exec(
		`INSERT INTO query_history
		 (id, client_id, query, insights, data_output, spec_json, status, error, retries, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ClientID, rec.Query, rec.Insights, rec.DataOutput,
		rec.SpecJSON, rec.Status, rec.Error, rec.Retries, rec.LatencyMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query record: %w", err)
	}
	return nil
}

// GetQueryHistory returns the most recent records for a client, newest first.
func (c *Client) GetQueryHistory(clientID string, limit int) ([]models.QueryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.Query(
		`SELECT id, client_id, query, insights, data_output, spec_json, status, error, retries, latency_ms, created_at
		 FROM query_history WHERE client_id = ? ORDER BY created_at DESC LIMIT ?`,
		clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var rec models.QueryRecord
		var insights, dataOutput, specJSON, errText sql.NullString
		if err := rows.Scan(
			&rec.ID, &rec.ClientID, &rec.Query, &insights, &dataOutput,
			&specJSON, &rec.Status, &errText, &rec.Retries, &rec.LatencyMS, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan query record: %w", err)
		}
		rec.Insights = insights.String
		rec.DataOutput = dataOutput.String
		rec.SpecJSON = specJSON.String
		rec.Error = errText.String
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (c *Client) StoreFeedback(fb *models.Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	res, err := c.db.Exec(
		`INSERT INTO feedback (query_id, client_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?)`,
		fb.QueryID, fb.ClientID, fb.Rating, fb.Comment, fb.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store feedback: %w", err)
	}

	fb.ID, _ = res.LastInsertId()
	return nil
}

func (c *Client) Close() error {
	return c.db.Close()
}
