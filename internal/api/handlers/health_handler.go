package handlers

import (
	"os"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/excelgpt/backend/internal/dataset"
	"github.com/excelgpt/backend/pkg/config"
	"github.com/excelgpt/backend/pkg/logger"
)

// HealthHandler serves liveness and initialization endpoints.
type HealthHandler struct {
	data      *dataset.Store
	cfg       *config.Config
	retryInit func() error
	startedAt time.Time
	logger    *zap.Logger

	mu      sync.RWMutex
	initErr error
}

// NewHealthHandler wires the health endpoints. initErr is the LLM setup
// outcome from startup; retryInit, when non-nil, re-attempts that setup on
// POST /init so a transient failure does not require a restart.
func NewHealthHandler(data *dataset.Store, cfg *config.Config, initErr error, retryInit func() error) *HealthHandler {
	return &HealthHandler{
		data:      data,
		cfg:       cfg,
		initErr:   initErr,
		retryInit: retryInit,
		startedAt: time.Now(),
		logger:    logger.GetLogger(),
	}
}

func (h *HealthHandler) initError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initErr
}

// Health handles GET /health. Reports readiness plus diagnostics when
// initialization is incomplete: the dataset missing, or the LLM unconfigured.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	initErr := h.initError()
	initialized := h.data.Ready() && initErr == nil

	resp := fiber.Map{
		"status":               "healthy",
		"excelgpt_initialized": initialized,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds":       int64(time.Since(h.startedAt).Seconds()),
	}

	if !initialized {
		resp["status"] = "degraded"
		resp["diagnostics"] = h.fileDiagnostics()
		if initErr != nil {
			resp["init_error"] = initErr.Error()
		}
	}

	return c.JSON(resp)
}

// Init handles POST /init: (re)load the dataset and, if LLM setup failed at
// startup, retry it.
func (h *HealthHandler) Init(c *fiber.Ctx) error {
	if err := h.data.Load(); err != nil {
		h.logger.Error("Manual dataset initialization failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"initialized": false,
			"error":       err.Error(),
			"diagnostics": h.fileDiagnostics(),
		})
	}

	h.mu.Lock()
	if h.initErr != nil && h.retryInit != nil {
		h.initErr = h.retryInit()
		if h.initErr == nil {
			h.logger.Info("LLM initialization recovered")
		}
	}
	initErr := h.initErr
	h.mu.Unlock()

	info, _ := h.data.Info()

	if initErr != nil {
		h.logger.Error("LLM initialization still failing", zap.Error(initErr))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"initialized": false,
			"error":       initErr.Error(),
			"data":        info,
		})
	}

	return c.JSON(fiber.Map{
		"initialized": true,
		"data":        info,
	})
}

// Root handles GET /.
func (h *HealthHandler) Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "excelgpt-backend",
		"status":  "running",
		"endpoints": []string{
			"GET /health",
			"POST /init",
			"GET /data/info",
			"POST /api/query",
			"GET /api/result/:request_id",
			"GET /ws/:client_id",
			"GET /metrics",
		},
	})
}

// fileDiagnostics reports which input files are present, for the health and
// init responses when loading fails.
func (h *HealthHandler) fileDiagnostics() fiber.Map {
	return fiber.Map{
		"csv":         fileStatus(h.cfg.Data.CSVPath),
		"db_summary":  fileStatus(h.cfg.Data.DBSummaryPath),
		"kpi_mapping": fileStatus(h.cfg.Data.KPIMappingPath),
	}
}

func fileStatus(path string) fiber.Map {
	info, err := os.Stat(path)
	if err != nil {
		return fiber.Map{"path": path, "exists": false}
	}
	return fiber.Map{"path": path, "exists": true, "size_bytes": info.Size()}
}
