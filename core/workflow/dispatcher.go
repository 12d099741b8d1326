package workflow

import (
	"context"
	"strings"
	"sync"
	"time"

	"pipewise-ops/core/apperr"
	"pipewise-ops/core/store"
	"pipewise-ops/core/utils"
)

const (
	ErrorCodeAlreadyRunning   = "workflow.already_running"
	ErrorCodeAlreadyCompleted = "workflow.already_completed"
	ErrorCodeNotFound         = "workflow.not_found"
	ErrorCodeInternal         = "workflow.internal"
)

const dispatchQueueSize = 64

type dispatchJob struct {
	executionID int64
	payload     RequirementsPayload
}

// Dispatcher owns the fire-and-forget outbound calls for requirement
// generation. The HTTP roundtrip runs on a background worker; a failed call is
// written back onto the execution row out-of-band, so the request that
// initiated the dispatch has already returned "accepted".
type Dispatcher struct {
	execs       store.WorkflowStore
	assessments store.AssessmentsStore
	trigger     Trigger
	logger      *utils.Logger

	mu      sync.Mutex
	jobs    chan dispatchJob
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func NewDispatcher(execs store.WorkflowStore, assessments store.AssessmentsStore, trigger Trigger, logger *utils.Logger) *Dispatcher {
	return &Dispatcher{
		execs:       execs,
		assessments: assessments,
		trigger:     trigger,
		logger:      logger,
		jobs:        make(chan dispatchJob, dispatchQueueSize),
	}
}

func (d *Dispatcher) StartWithContext(ctx context.Context) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		for {
			select {
			case job := <-d.jobs:
				d.deliver(runCtx, job)
			case <-runCtx.Done():
				return
			}
		}
	}()
}

func (d *Dispatcher) StopWithContext(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	wasRunning := d.running
	d.running = false
	d.mu.Unlock()
	if !wasRunning || cancel == nil {
		return nil
	}
	cancel()
	waitDone := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartRequirementsGeneration reuses or creates the execution row for
// (assessment, phase2_requirements) and queues the outbound call. Duplicate
// triggers short-circuit: a running row means a job is in flight, a completed
// row (or already-generated questions, when the row went missing) means the
// work is done.
func (d *Dispatcher) StartRequirementsGeneration(ctx context.Context, assessmentID int64) (*store.WorkflowExecution, error) {
	assessment, err := d.assessments.Get(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if assessment == nil {
		return nil, apperr.New(ErrorCodeNotFound, "workflow.error.assessmentNotFound").With("assessment_id", assessmentID)
	}

	now := time.Now().UTC()
	exec, err := d.execs.LatestByAssessmentType(ctx, assessmentID, TypePhase2Requirements)
	if err != nil {
		return nil, err
	}
	if exec != nil {
		switch exec.Status {
		case "running":
			return exec, apperr.New(ErrorCodeAlreadyRunning, "workflow.error.alreadyRunning").With("execution_id", exec.ID)
		case "completed":
			return exec, apperr.New(ErrorCodeAlreadyCompleted, "workflow.error.alreadyCompleted").With("execution_id", exec.ID)
		}
		// failed row: reuse it so history stays append-light
		if err := d.execs.Restart(ctx, exec.ID, now); err != nil {
			return nil, err
		}
		exec, err = d.execs.Get(ctx, exec.ID)
		if err != nil {
			return nil, err
		}
	} else {
		// Execution row may have been lost while questions already exist;
		// generated questions are the fallback completion signal.
		count, err := d.assessments.CountQuestions(ctx, assessmentID)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, apperr.New(ErrorCodeAlreadyCompleted, "workflow.error.alreadyCompleted").With("assessment_id", assessmentID)
		}
		exec = &store.WorkflowExecution{
			AssessmentID: assessmentID,
			WorkflowType: TypePhase2Requirements,
			Status:       "running",
			StartedAt:    now,
		}
		if _, err := d.execs.Insert(ctx, exec); err != nil {
			return nil, err
		}
	}

	d.enqueue(dispatchJob{
		executionID: exec.ID,
		payload: RequirementsPayload{
			AssessmentID:        assessmentID,
			WorkflowExecutionID: exec.ID,
		},
	})
	return exec, nil
}

func (d *Dispatcher) enqueue(job dispatchJob) {
	select {
	case d.jobs <- job:
	default:
		// queue full: deliver inline rather than drop the dispatch
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(context.Background(), job)
		}()
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job dispatchJob) {
	err := d.trigger.TriggerRequirements(ctx, job.payload)
	if err == nil {
		return
	}
	if d.logger != nil {
		d.logger.Errorf("workflow dispatch execution=%d: %v", job.executionID, err)
	}
	now := time.Now().UTC()
	exec, getErr := d.execs.Get(ctx, job.executionID)
	if getErr != nil || exec == nil {
		return
	}
	duration := int64(now.Sub(exec.StartedAt).Seconds())
	msg := strings.TrimSpace(err.Error())
	if markErr := d.execs.MarkFailed(ctx, job.executionID, now, duration, "dispatch failed: "+msg, "", ""); markErr != nil && d.logger != nil {
		d.logger.Errorf("workflow dispatch write-back execution=%d: %v", job.executionID, markErr)
	}
}
