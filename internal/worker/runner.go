// Package worker executes inspection requests pulled from the work queue:
// lease acquisition, credential resolution, checker invocation, outcome
// classification and durable recording. No step has a fallback: any failure
// is classified, persisted and terminal for the execution.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/events"
	"cloud-inspection-service/internal/lease"
	"cloud-inspection-service/internal/queue"
	"cloud-inspection-service/internal/store"
	"cloud-inspection-service/internal/vault"
	"cloud-inspection-service/internal/worker/checkers"
	"cloud-inspection-service/pkg/validation"
)

// Runner drives one execution request through the state machine
// queued -> running -> {succeeded | failed}.
type Runner struct {
	DB             *gorm.DB
	Leases         *lease.Store
	Vault          *vault.Adapter
	Completions    queue.Enqueuer
	CheckerTimeout time.Duration
	LeaseTTL       time.Duration
	Log            zerolog.Logger
}

// Run executes a single request to completion. It never panics the worker
// and never retries: redelivered requests for terminal executions are
// dropped, everything else ends in exactly one terminal transition.
func (r *Runner) Run(ctx context.Context, req events.ExecutionRequest) {
	logger := r.Log.With().
		Uint("execution_id", req.ExecutionID).
		Uint("task_id", req.TaskID).
		Logger()

	if ctx.Err() != nil {
		// A cancelled local context is this process shutting down, not a fact
		// about the task. Leave the record queued for redelivery.
		logger.Info().Msg("context cancelled before start, leaving execution queued")
		return
	}

	var exec store.Execution
	if err := r.DB.First(&exec, req.ExecutionID).Error; err != nil {
		logger.Error().Err(err).Msg("execution record not found, dropping request")
		return
	}
	if exec.Terminal() {
		// At-least-once redelivery of an already-finished request.
		logger.Info().Str("status", exec.Status).Msg("redelivery of terminal execution, dropping")
		return
	}

	if err := r.Leases.Acquire(req.TaskID, req.ExecutionID, r.LeaseTTL); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			// Never silently drop: the conflict is recorded on the execution.
			r.fail(ctx, logger, &exec, classify.Errorf(classify.Concurrency,
				"another execution of task %d is still running", req.TaskID))
			return
		}
		// Store trouble: leave the execution queued so redelivery can retry.
		logger.Error().Err(err).Msg("lease acquisition failed")
		return
	}
	defer func() {
		if err := r.Leases.Release(req.TaskID); err != nil {
			logger.Error().Err(err).Msg("lease release failed, expiry will reclaim it")
		}
	}()

	if err := store.MarkRunning(r.DB, exec.ID, time.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("could not transition execution to running")
		return
	}

	result, err := r.inspect(ctx, logger, &exec)
	if err != nil {
		r.fail(ctx, logger, &exec, err)
		return
	}

	if err := store.RecordSuccess(r.DB, exec.ID, string(result), time.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("recording success failed")
		return
	}
	logger.Info().Msg("execution succeeded")
	r.publishCompletion(ctx, logger, &exec, store.StatusSucceeded, "")
}

// inspect performs steps 2-4 of the per-execution algorithm: credential
// resolution, checker lookup, configuration decode and the bounded remote
// call. Returns the structured result or a classified error.
func (r *Runner) inspect(ctx context.Context, logger zerolog.Logger, exec *store.Execution) (json.RawMessage, error) {
	var task store.TaskDefinition
	if err := r.DB.First(&task, exec.TaskID).Error; err != nil {
		return nil, classify.Errorf(classify.Service, "task definition %d unavailable: %v", exec.TaskID, err)
	}

	var config map[string]interface{}
	if task.Config != "" {
		if err := json.Unmarshal([]byte(task.Config), &config); err != nil {
			return nil, classify.Errorf(classify.Configuration, "task configuration is not valid JSON: %v", err)
		}
	}
	if task.ConfigSchema != "" {
		if err := validation.ValidateJSONWithSchema(task.ConfigSchema, task.Config); err != nil {
			return nil, classify.Wrap(classify.Configuration, err)
		}
	}

	if task.CredentialID == nil {
		return nil, classify.Errorf(classify.Authentication, "task %d has no credential bound", task.ID)
	}
	secret, err := r.Vault.Resolve(ctx, *task.CredentialID, task.TenantID)
	if err != nil {
		// CredentialNotFound and DecryptionFailed both surface as
		// AuthenticationError; the checker is never invoked.
		return nil, classify.Wrap(classify.Authentication, err)
	}
	defer secret.Zero()

	checker, err := checkers.Get(task.ServiceCategory)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("category", task.ServiceCategory).
		Str("operation", task.Operation).
		Msg("invoking checker")
	checkCtx, cancel := context.WithTimeout(ctx, r.CheckerTimeout)
	defer cancel()
	result, err := checker.Execute(checkCtx, secret, task.Operation, config)
	if err != nil {
		if checkCtx.Err() == context.DeadlineExceeded {
			return nil, classify.Wrap(classify.ServiceLimit,
				fmt.Errorf("checker exceeded timeout of %s: %w", r.CheckerTimeout, err))
		}
		return nil, classify.Remote(err)
	}
	return result, nil
}

func (r *Runner) fail(ctx context.Context, logger zerolog.Logger, exec *store.Execution, cause error) {
	if errors.Is(ctx.Err(), context.Canceled) {
		// The failure came from this process being cancelled mid-run. Do not
		// persist it as a verdict; the execution surfaces as stale running
		// for operator reconciliation instead.
		logger.Warn().Err(cause).Msg("run interrupted by local cancellation, not recording a failure")
		return
	}
	class := classify.Of(cause)
	logger.Error().Err(cause).Str("class", string(class)).Msg("execution failed")
	if err := store.FailExecution(r.DB, exec.ID, string(class), cause.Error(), time.Now().UTC()); err != nil {
		logger.Error().Err(err).Msg("recording failure failed")
		return
	}
	r.publishCompletion(ctx, logger, exec, store.StatusFailed, string(class))
}

// publishCompletion is fire-and-forget: the terminal state is already
// durable, a lost completion event only delays the tenant notification.
func (r *Runner) publishCompletion(ctx context.Context, logger zerolog.Logger, exec *store.Execution, status, errorClass string) {
	payload, err := json.Marshal(events.ExecutionCompletion{
		ExecutionID: exec.ID,
		TaskID:      exec.TaskID,
		TenantID:    exec.TenantID,
		Status:      status,
		ErrorClass:  errorClass,
	})
	if err != nil {
		logger.Error().Err(err).Msg("marshalling completion event failed")
		return
	}
	key := strconv.FormatUint(uint64(exec.ID), 10)
	if err := r.Completions.Enqueue(ctx, key, payload); err != nil {
		logger.Error().Err(err).Msg("publishing completion event failed")
	}
}
