package handlers

import (
	"context"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/batch"
	"github.com/excelgpt/backend/pkg/logger"
)

// BatchHandler triggers offline batch runs over a saved queries file.
type BatchHandler struct {
	runner      *batch.Runner
	queriesPath string
	running     atomic.Bool
	logger      *zap.Logger
}

func NewBatchHandler(runner *batch.Runner, queriesPath string) *BatchHandler {
	return &BatchHandler{
		runner:      runner,
		queriesPath: queriesPath,
		logger:      logger.GetLogger(),
	}
}

type batchRequest struct {
	QueriesPath string `json:"queries_path"`
}

// Run handles POST /api/batch. The run executes in the background; only one
// run may be active at a time.
func (h *BatchHandler) Run(c *fiber.Ctx) error {
	var req batchRequest
	_ = c.BodyParser(&req)

	path := req.QueriesPath
	if path == "" {
		path = h.queriesPath
	}
	if path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "no queries file configured; pass queries_path",
		})
	}

	if !h.running.CompareAndSwap(false, true) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a batch run is already in progress",
		})
	}

	go func() {
		defer h.running.Store(false)

		report, err := h.runner.Run(context.Background(), path)
		if err != nil {
			h.logger.Error("Batch run failed", zap.String("queries", path), zap.Error(err))
			return
		}
		h.logger.Info("Batch run report",
			zap.String("dir", report.RunDir),
			zap.Int("total", report.Total),
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Int64("avg_latency_ms", report.AvgLatencyMS),
		)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"started":      true,
		"queries_path": path,
	})
}
