// Package services hosts the manager-side long-running actors: the periodic
// scheduler sweep and the completion-event consumer feeding the notifier.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"cloud-inspection-service/internal/classify"
	"cloud-inspection-service/internal/events"
	"cloud-inspection-service/internal/lease"
	"cloud-inspection-service/internal/queue"
	"cloud-inspection-service/internal/store"
)

// SchedulerService sweeps active task definitions at a fixed tick and
// enqueues exactly one execution request per due task. It is logically a
// single actor; redundant instances race on the same lease mechanism, so
// duplicate enqueues collapse to skips.
type SchedulerService struct {
	DB         *gorm.DB
	Scheduler  gocron.Scheduler
	Queue      queue.Enqueuer
	Leases     *lease.Store
	Tick       time.Duration
	Log        zerolog.Logger
	appContext context.Context
}

func NewSchedulerService(ctx context.Context, db *gorm.DB, q queue.Enqueuer, leases *lease.Store, tick time.Duration, logger zerolog.Logger) (*SchedulerService, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}
	return &SchedulerService{
		DB:         db,
		Scheduler:  s,
		Queue:      q,
		Leases:     leases,
		Tick:       tick,
		Log:        logger,
		appContext: ctx,
	}, nil
}

// Start registers the sweep job and starts ticking. Singleton mode keeps a
// slow sweep from overlapping the next tick.
func (s *SchedulerService) Start() error {
	_, err := s.Scheduler.NewJob(
		gocron.DurationJob(s.Tick),
		gocron.NewTask(s.Sweep),
		gocron.WithName("due-task-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("registering sweep job: %w", err)
	}
	s.Scheduler.Start()
	s.Log.Info().Dur("tick", s.Tick).Msg("scheduler started")
	return nil
}

func (s *SchedulerService) Stop() {
	if err := s.Scheduler.Shutdown(); err != nil {
		s.Log.Error().Err(err).Msg("gocron shutdown error")
	} else {
		s.Log.Info().Msg("scheduler stopped")
	}
}

// Sweep runs one tick: find due tasks and dispatch each at most once.
// on_demand tasks never appear here; they are enqueued only by direct user
// action through the trigger API.
func (s *SchedulerService) Sweep() {
	now := time.Now().UTC()
	due, err := store.DueTasks(s.DB, now)
	if err != nil {
		s.Log.Error().Err(err).Msg("due-task query failed")
		return
	}
	for i := range due {
		s.dispatch(&due[i], now)
	}
}

// dispatch enqueues one execution request for a due task. The last-trigger
// stamp happens only after the queue write succeeded; a failed enqueue leaves
// the task due again next tick (self-healing via periodicity, no retry here).
func (s *SchedulerService) dispatch(task *store.TaskDefinition, now time.Time) {
	held, err := s.Leases.Held(task.ID)
	if err != nil {
		s.Log.Error().Uint("task_id", task.ID).Err(err).Msg("lease probe failed")
		return
	}
	if held {
		// Backpressure, not an error: the previous execution is still running.
		s.Log.Info().Uint("task_id", task.ID).Msg("skipped - still running")
		return
	}

	exec := store.Execution{
		TaskID:        task.ID,
		TenantID:      task.TenantID,
		Status:        store.StatusQueued,
		TriggerReason: store.TriggerScheduled,
		QueuedAt:      now,
		Attempt:       1,
	}
	if err := s.DB.Create(&exec).Error; err != nil {
		s.Log.Error().Uint("task_id", task.ID).Err(err).Msg("creating execution record failed")
		return
	}

	payload, err := json.Marshal(events.ExecutionRequest{
		ExecutionID:   exec.ID,
		TaskID:        task.ID,
		TenantID:      task.TenantID,
		TriggerReason: store.TriggerScheduled,
	})
	if err != nil {
		s.Log.Error().Uint("execution_id", exec.ID).Err(err).Msg("marshalling execution request failed")
		s.failDispatch(exec.ID, fmt.Sprintf("marshalling execution request: %v", err))
		return
	}

	key := strconv.FormatUint(uint64(task.ID), 10)
	if err := s.Queue.Enqueue(s.appContext, key, payload); err != nil {
		s.Log.Error().Uint("execution_id", exec.ID).Err(err).Msg("work queue enqueue failed")
		s.failDispatch(exec.ID, fmt.Sprintf("dispatch to work queue failed: %v", err))
		return
	}

	if err := store.StampTriggered(s.DB, task.ID, now); err != nil {
		s.Log.Error().Uint("task_id", task.ID).Err(err).Msg("stamping last trigger failed")
		return
	}
	s.Log.Info().
		Uint("task_id", task.ID).
		Uint("execution_id", exec.ID).
		Str("frequency", task.Frequency).
		Msg("execution dispatched")
}

func (s *SchedulerService) failDispatch(executionID uint, detail string) {
	err := store.FailExecution(s.DB, executionID, string(classify.Service), detail, time.Now().UTC())
	if err != nil {
		s.Log.Error().Uint("execution_id", executionID).Err(err).Msg("marking dispatch failure failed")
	}
}
