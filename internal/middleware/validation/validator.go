package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
)

const (
	maxQueryLength    = 2000
	maxClientIDLength = 128
)

// QueryRequest is the body accepted by the query endpoints.
type QueryRequest struct {
	Query    string `json:"query"`
	ClientID string `json:"client_id"`
}

// ValidateQuery checks a query string against the transport-level rules
// shared by the REST and WebSocket paths.
func ValidateQuery(query string) (string, bool) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", false
	}
	if utf8.RuneCountInString(query) > maxQueryLength {
		return "", false
	}
	return query, true
}

// ValidateClientID rejects empty or oversized client ids.
func ValidateClientID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && len(id) <= maxClientIDLength
}

// QueryBody parses and validates the request body for POST /api/query.
// On failure it writes the error response and returns false.
func QueryBody(c *fiber.Ctx) (*QueryRequest, bool) {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
		return nil, false
	}

	query, ok := ValidateQuery(req.Query)
	if !ok {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query must be a non-empty string of at most 2000 characters",
		})
		return nil, false
	}
	req.Query = query

	if req.ClientID == "" {
		req.ClientID = "rest-client"
	}
	if !ValidateClientID(req.ClientID) {
		_ = c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "client_id must be at most 128 characters",
		})
		return nil, false
	}

	return &req, true
}
