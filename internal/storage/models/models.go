package models

import "time"

// QueryRecord is one completed (or failed) query, persisted for history and
// offline evaluation.
type QueryRecord struct {
	ID         string    `json:"id"`
	ClientID   string    `json:"client_id"`
	Query      string    `json:"query"`
	Insights   string    `json:"insights,omitempty"`
	DataOutput string    `json:"data_output,omitempty"`
	SpecJSON   string    `json:"spec_json,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Retries    int       `json:"retries"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// Feedback is a thumbs-up/down on a previous answer.
type Feedback struct {
	ID        int64     `json:"id"`
	QueryID   string    `json:"query_id"`
	ClientID  string    `json:"client_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
