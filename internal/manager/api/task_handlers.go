package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/events"
	"cloud-inspection-service/internal/lease"
	"cloud-inspection-service/internal/queue"
	"cloud-inspection-service/internal/store"
	"cloud-inspection-service/pkg/validation"
)

type TaskHandler struct {
	DB     *gorm.DB
	Queue  queue.Enqueuer
	Leases *lease.Store
	Log    zerolog.Logger
}

func NewTaskHandler(db *gorm.DB, q queue.Enqueuer, leases *lease.Store, logger zerolog.Logger) *TaskHandler {
	return &TaskHandler{DB: db, Queue: q, Leases: leases, Log: logger}
}

type CreateTaskRequest struct {
	Name            string `json:"name" validate:"required"`
	Description     string `json:"description"`
	ServiceCategory string `json:"service_category" validate:"required"`
	Operation       string `json:"operation" validate:"required"`
	Config          string `json:"config"`
	ConfigSchema    string `json:"config_schema"`
	Frequency       string `json:"frequency" validate:"required"`
	Active          *bool  `json:"active"`
	CredentialID    *uint  `json:"credential_id"`
}

type UpdateTaskRequest struct {
	Name            *string `json:"name"`
	Description     *string `json:"description"`
	ServiceCategory *string `json:"service_category"`
	Operation       *string `json:"operation"`
	Config          *string `json:"config"`
	ConfigSchema    *string `json:"config_schema"`
	Frequency       *string `json:"frequency"`
	Active          *bool   `json:"active"`
	CredentialID    *uint   `json:"credential_id"`
}

// validateConfig rejects malformed task configuration at the API edge, before
// anything reaches the work queue.
func (h *TaskHandler) validateConfig(config, schema string) error {
	if config != "" {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(config), &decoded); err != nil {
			return fmt.Errorf("config is not a JSON object: %w", err)
		}
	}
	if schema != "" && config != "" {
		if err := validation.ValidateJSONWithSchema(schema, config); err != nil {
			return err
		}
	}
	return nil
}

// credentialBelongsToTenant verifies a referenced credential exists and is
// owned by the caller.
func (h *TaskHandler) credentialBelongsToTenant(credentialID, tenant uint) (bool, error) {
	var count int64
	err := h.DB.Model(&store.Credential{}).
		Where("id = ? AND tenant_id = ?", credentialID, tenant).
		Count(&count).Error
	return count > 0, err
}

func (h *TaskHandler) CreateTask(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	var req CreateTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "invalid request payload: " + err.Error()})
		return
	}
	if !store.ValidFrequency(req.Frequency) {
		c.JSON(http.StatusBadRequest, utils.H{"error": "unknown frequency: " + req.Frequency})
		return
	}
	if err := h.validateConfig(req.Config, req.ConfigSchema); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "invalid task configuration", "validation_errors": err.Error()})
		return
	}
	if req.CredentialID != nil {
		owned, err := h.credentialBelongsToTenant(*req.CredentialID, tenant)
		if err != nil {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "verifying credential: " + err.Error()})
			return
		}
		if !owned {
			c.JSON(http.StatusBadRequest, utils.H{"error": "credential not found"})
			return
		}
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	task := store.TaskDefinition{
		TenantID:        tenant,
		Name:            req.Name,
		Description:     req.Description,
		ServiceCategory: req.ServiceCategory,
		Operation:       req.Operation,
		Config:          req.Config,
		ConfigSchema:    req.ConfigSchema,
		Frequency:       req.Frequency,
		Active:          active,
		CredentialID:    req.CredentialID,
	}
	if err := h.DB.Create(&task).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "failed to create task: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *TaskHandler) GetTasks(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	query := h.DB.Where("tenant_id = ?", tenant)
	if category := c.Query("service_category"); category != "" {
		query = query.Where("service_category = ?", category)
	}
	if frequency := c.Query("frequency"); frequency != "" {
		query = query.Where("frequency = ?", frequency)
	}
	var tasks []store.TaskDefinition
	if err := query.Find(&tasks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "failed to fetch tasks: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (h *TaskHandler) GetTaskByID(ctx context.Context, c *app.RequestContext) {
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
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) UpdateTask(ctx context.Context, c *app.RequestContext) {
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

	var req UpdateTaskRequest
	if err := c.BindAndValidate(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.H{"error": "invalid request payload: " + err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.ServiceCategory != nil {
		updates["service_category"] = *req.ServiceCategory
	}
	if req.Operation != nil {
		updates["operation"] = *req.Operation
	}
	if req.Frequency != nil {
		if !store.ValidFrequency(*req.Frequency) {
			c.JSON(http.StatusBadRequest, utils.H{"error": "unknown frequency: " + *req.Frequency})
			return
		}
		updates["frequency"] = *req.Frequency
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.Config != nil || req.ConfigSchema != nil {
		config, schema := task.Config, task.ConfigSchema
		if req.Config != nil {
			config = *req.Config
			updates["config"] = config
		}
		if req.ConfigSchema != nil {
			schema = *req.ConfigSchema
			updates["config_schema"] = schema
		}
		if err := h.validateConfig(config, schema); err != nil {
			c.JSON(http.StatusBadRequest, utils.H{"error": "invalid task configuration", "validation_errors": err.Error()})
			return
		}
	}
	if req.CredentialID != nil {
		owned, err := h.credentialBelongsToTenant(*req.CredentialID, tenant)
		if err != nil {
			c.JSON(http.StatusInternalServerError, utils.H{"error": "verifying credential: " + err.Error()})
			return
		}
		if !owned {
			c.JSON(http.StatusBadRequest, utils.H{"error": "credential not found"})
			return
		}
		updates["credential_id"] = *req.CredentialID
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, task)
		return
	}
	if err := h.DB.Model(&task).Updates(updates).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "failed to update task: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) DeleteTask(ctx context.Context, c *app.RequestContext) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	res := h.DB.Where("id = ? AND tenant_id = ?", id, tenant).Delete(&store.TaskDefinition{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": res.Error.Error()})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, utils.H{"error": "task not found"})
		return
	}
	// Execution history survives the soft delete and stays queryable.
	c.JSON(http.StatusOK, utils.H{"message": "task deleted"})
}

// TriggerExecution enqueues a manual run of the task. A manual trigger racing
// a running execution fails immediately with ConcurrencyConflict instead of
// blocking or queueing behind the lease.
func (h *TaskHandler) TriggerExecution(ctx context.Context, c *app.RequestContext) {
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

	now := time.Now().UTC()
	exec := store.Execution{
		TaskID:        task.ID,
		TenantID:      tenant,
		Status:        store.StatusQueued,
		TriggerReason: store.TriggerManual,
		QueuedAt:      now,
		Attempt:       1,
	}

	held, err := h.Leases.Held(task.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": "lease probe failed: " + err.Error()})
		return
	}
	if held {
		exec.Status = store.StatusFailed
		exec.ErrorClass = string(classify.Concurrency)
		exec.ErrorDetail = fmt.Sprintf("another execution of task %d is still running", task.ID)
		exec.FinishedAt = &now
		if err := h.DB.Create(&exec).Error; err != nil {
			c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusConflict, utils.H{"execution": exec, "error": exec.ErrorDetail})
		return
	}

	if err := h.DB.Create(&exec).Error; err != nil {
		c.JSON(http.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	payload, err := json.Marshal(events.ExecutionRequest{
		ExecutionID:   exec.ID,
		TaskID:        task.ID,
		TenantID:      tenant,
		TriggerReason: store.TriggerManual,
	})
	if err != nil {
		h.failDispatch(c, &exec, "marshalling execution request: "+err.Error())
		return
	}
	key := strconv.FormatUint(uint64(task.ID), 10)
	if err := h.Queue.Enqueue(ctx, key, payload); err != nil {
		h.Log.Error().Uint("execution_id", exec.ID).Err(err).Msg("manual dispatch failed")
		h.failDispatch(c, &exec, "dispatch to work queue failed: "+err.Error())
		return
	}
	c.JSON(http.StatusAccepted, utils.H{"execution_id": exec.ID, "status": exec.Status})
}

func (h *TaskHandler) failDispatch(c *app.RequestContext, exec *store.Execution, detail string) {
	err := store.FailExecution(h.DB, exec.ID, string(classify.Service), detail, time.Now().UTC())
	if err != nil {
		h.Log.Error().Uint("execution_id", exec.ID).Err(err).Msg("marking dispatch failure failed")
	}
	c.JSON(http.StatusBadGateway, utils.H{"execution_id": exec.ID, "error": detail})
}
