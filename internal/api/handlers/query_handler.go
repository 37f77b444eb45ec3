package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/dataset"
	"github.com/excelgpt/backend/internal/middleware/validation"
	"github.com/excelgpt/backend/internal/query"
	"github.com/excelgpt/backend/internal/storage/models"
	"github.com/excelgpt/backend/internal/storage/sqlite"
	"github.com/excelgpt/backend/pkg/logger"
)

// QueryHandler serves the polling REST fallback and the data endpoints.
type QueryHandler struct {
	requests *query.RequestStore
	data     *dataset.Store
	history  *sqlite.Client
	logger   *zap.Logger
}

func NewQueryHandler(requests *query.RequestStore, data *dataset.Store, history *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		requests: requests,
		data:     data,
		history:  history,
		logger:   logger.GetLogger(),
	}
}

// SubmitQuery handles POST /api/query: start processing, hand back an id.
func (h *QueryHandler) SubmitQuery(c *fiber.Ctx) error {
	req, ok := validation.QueryBody(c)
	if !ok {
		return nil
	}

	requestID := h.requests.Submit(req.ClientID, req.Query)

	h.logger.Info("Query submitted for polling",
		zap.String("request_id", requestID),
		zap.String("client_id", req.ClientID),
	)

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"request_id": requestID,
	})
}

// GetResult handles GET /api/result/:request_id.
func (h *QueryHandler) GetResult(c *fiber.Ctx) error {
	id := c.Params("request_id")

	state, ok := h.requests.Get(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown request_id",
		})
	}

	switch state.Status {
	case query.StatusProcessing:
		return c.JSON(fiber.Map{"status": query.StatusProcessing})

	case query.StatusError:
		resp := fiber.Map{
			"status": query.StatusError,
			"error":  state.Error,
		}
		if state.Result != nil {
			resp["generated_code"] = state.Result.GeneratedCode
			resp["query"] = state.Result.Query
		}
		return c.JSON(resp)

	default:
		r := state.Result
		return c.JSON(fiber.Map{
			"status":         query.StatusCompleted,
			"insights":       r.Insights,
			"data_output":    r.DataOutput,
			"generated_code": r.GeneratedCode,
			"query":          r.Query,
			"from_cache":     r.FromCache,
			"latency_ms":     r.LatencyMS,
		})
	}
}

// DataInfo handles GET /data/info.
func (h *QueryHandler) DataInfo(c *fiber.Ctx) error {
	info, err := h.data.Info()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(info)
}

// History handles GET /api/history/:client_id.
func (h *QueryHandler) History(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "history storage disabled",
		})
	}

	clientID := c.Params("client_id")
	if !validation.ValidateClientID(clientID) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid client_id",
		})
	}

	records, err := h.history.GetQueryHistory(clientID, c.QueryInt("limit", 50))
	if err != nil {
		h.logger.Error("Failed to read query history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to read history",
		})
	}

	return c.JSON(fiber.Map{
		"client_id": clientID,
		"history":   records,
	})
}

type feedbackRequest struct {
	QueryID  string `json:"query_id"`
	ClientID string `json:"client_id"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

// Feedback handles POST /api/feedback.
func (h *QueryHandler) Feedback(c *fiber.Ctx) error {
	if h.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "history storage disabled",
		})
	}

	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid JSON body",
		})
	}
	if req.QueryID == "" || (req.Rating != 1 && req.Rating != -1) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "feedback needs query_id and rating of 1 or -1",
		})
	}

	fb := &models.Feedback{
		QueryID:  req.QueryID,
		ClientID: req.ClientID,
		Rating:   req.Rating,
		Comment:  req.Comment,
	}
	if err := h.history.StoreFeedback(fb); err != nil {
		h.logger.Error("Failed to store feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to store feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": fb.ID})
}
