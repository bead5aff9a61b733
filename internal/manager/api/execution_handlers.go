package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"gorm.io/gorm"

	"cloud-inspection-service/internal/store"
)

type ExecutionHandler struct {
	DB *gorm.DB
}

func NewExecutionHandler(db *gorm.DB) *ExecutionHandler {
	return &ExecutionHandler{DB: db}
}

// GetExecution returns one execution with its result, if any. Terminal
// records are immutable, so repeated reads always return identical data.
func (h *ExecutionHandler) GetExecution(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var exec store.Execution
	err := h.DB.Preload("Result").
		Where("id = ? AND tenant_id = ?", id, tenant).
		First(&exec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "execution not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, exec)
}

// ListExecutions pages a task's executions newest-first. The before_id cursor
// makes pagination restartable: a page is always "the executions older than
// this id", regardless of rows created in between.
func (h *ExecutionHandler) ListExecutions(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	var task store.TaskDefinition
	err := h.DB.Where("id = ? AND tenant_id = ?", id, tenant).First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, utils.H{"error": "task not found"})
		} else {
			c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		}
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	var beforeID uint
	if raw := c.Query("before_id"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 32); err == nil {
			beforeID = uint(n)
		}
	}

	executions, err := store.ListExecutions(h.DB, task.ID, limit, beforeID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	var nextCursor uint
	if len(executions) == limit {
		nextCursor = executions[len(executions)-1].ID
	}
	c.JSON(http.StatusOK, utils.H{"executions": executions, "next_before_id": nextCursor})
}

// StaleExecutions lists executions stuck in running past their lease expiry,
// typically orphaned by a worker crash. They are an operator reconciliation
// target: the engine never auto-resolves them to failed or succeeded.
func (h *ExecutionHandler) StaleExecutions(ctx context.Context, c *app.RequestContext) {
	executions, err := store.StaleRunning(h.DB, time.Now().UTC())
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, utils.H{"stale_executions": executions})
}
