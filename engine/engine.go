// Package engine implements the execution state machine: it creates,
// advances, pauses, resumes, cancels, and re-runs executions. Control
// operations against one execution serialize through a per-id lock table, and
// every state change goes through the storage layer's compare-and-set
// transition, so racing callers deterministically produce one winner. A
// single advance loop drives each execution at any time; control calls that
// want advancement while one is alive flag it for another pass instead of
// starting a second loop.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"responder/core"
	"responder/metrics"
	"responder/storage"
	"responder/workflow"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config carries the engine's tunables.
type Config struct {
	// MaxConcurrentExecutions caps executions advancing at once.
	MaxConcurrentExecutions int
	// DefaultStepTimeout bounds a single action invocation when the step
	// declares no timeout of its own.
	DefaultStepTimeout time.Duration
	// RetryAttempts is the default attempt budget for retryable steps.
	RetryAttempts int
	// RetryBackoff seeds the default exponential backoff.
	RetryBackoff time.Duration
	// InquiryTTL is how long a raised inquiry waits for an answer before
	// expiring. Zero means inquiries never expire.
	InquiryTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentExecutions: 10,
		DefaultStepTimeout:      30 * time.Second,
		RetryAttempts:           3,
		RetryBackoff:            1 * time.Second,
		InquiryTTL:              24 * time.Hour,
	}
}

// CreateRequest describes a new execution: either a stored playbook
// reference or an inline, already-parsed workflow.
type CreateRequest struct {
	PlaybookRef string
	Workflow    *core.Workflow

	ParentExecutionID string
	ScheduleID        string

	// Input is the payload handed to the execution; schedule fires pass the
	// schedule payload through here.
	Input json.RawMessage

	// Delay postpones the pending -> running transition.
	Delay time.Duration
}

// Engine drives executions through the state machine.
type Engine struct {
	executions storage.ExecutionStorageInterface
	playbooks  storage.PlaybookStorageInterface
	inquiries  storage.InquiryStorageInterface
	inspector  *workflow.Inspector
	executor   ActionExecutor
	logger     *zap.SugaredLogger
	cfg        Config

	locks *lockTable
	sem   chan struct{}

	driverMu sync.Mutex
	drivers  map[string]*driverState

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	baseCtx    context.Context
	baseCancel context.CancelFunc
	stopCh     chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewEngine wires the engine. Start must be called before creating
// executions.
func NewEngine(
	executions storage.ExecutionStorageInterface,
	playbooks storage.PlaybookStorageInterface,
	inquiries storage.InquiryStorageInterface,
	inspector *workflow.Inspector,
	executor ActionExecutor,
	cfg Config,
	logger *zap.SugaredLogger,
) *Engine {
	if cfg.MaxConcurrentExecutions <= 0 {
		cfg.MaxConcurrentExecutions = DefaultConfig().MaxConcurrentExecutions
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = DefaultConfig().DefaultStepTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultConfig().RetryAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultConfig().RetryBackoff
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Engine{
		executions: executions,
		playbooks:  playbooks,
		inquiries:  inquiries,
		inspector:  inspector,
		executor:   executor,
		logger:     logger,
		cfg:        cfg,
		locks:      newLockTable(),
		sem:        make(chan struct{}, cfg.MaxConcurrentExecutions),
		drivers:    make(map[string]*driverState),
		cancels:    make(map[string]context.CancelFunc),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		stopCh:     make(chan struct{}),
	}
}

// Stop halts step scheduling and waits for in-flight advancement goroutines
// to drain, up to the timeout.
func (e *Engine) Stop(timeout time.Duration) {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		e.baseCancel()
	})

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("Execution engine stopped")
	case <-time.After(timeout):
		e.logger.Warn("Execution engine shutdown timed out")
	}
}

// Create validates the workflow, persists a pending execution, and begins
// advancing it asynchronously.
func (e *Engine) Create(ctx context.Context, accountID string, req CreateRequest) (*core.Execution, error) {
	exec := &core.Execution{
		ID:                uuid.New().String(),
		AccountID:         accountID,
		State:             core.ExecutionStatePending,
		ParentExecutionID: req.ParentExecutionID,
		ScheduleID:        req.ScheduleID,
		Input:             req.Input,
		CreatedAt:         time.Now().UTC(),
	}

	switch {
	case req.PlaybookRef != "":
		playbook, err := e.playbooks.Get(ctx, accountID, req.PlaybookRef)
		if err != nil {
			if errors.Is(err, storage.ErrPlaybookNotFound) {
				return nil, core.NewNotFoundError("playbook", req.PlaybookRef)
			}
			return nil, fmt.Errorf("failed to resolve playbook: %w", err)
		}
		exec.PlaybookID = playbook.ID
		exec.PlaybookName = playbook.Name
		exec.Workflow = playbook.Workflow
	case req.Workflow != nil:
		exec.Workflow = req.Workflow
	default:
		return nil, core.NewValidationError("execution requires a playbook reference or an inline workflow")
	}

	var fields []core.FieldError
	for _, f := range e.inspector.InspectWorkflow(exec.Workflow) {
		if f.Severity == core.SeverityError {
			fields = append(fields, core.FieldError{Field: f.Path, Message: f.Message})
		}
	}
	if len(fields) > 0 {
		return nil, core.NewValidationError("workflow failed inspection", fields...)
	}

	if err := e.executions.Create(ctx, exec); err != nil {
		return nil, fmt.Errorf("failed to persist execution: %w", err)
	}

	metrics.ExecutionsStarted.Inc()
	e.launch(accountID, exec.ID, req.Delay)
	return exec, nil
}

// Get returns a single execution.
func (e *Engine) Get(ctx context.Context, accountID, id string) (*core.Execution, error) {
	exec, err := e.executions.Get(ctx, accountID, id)
	if err != nil {
		if errors.Is(err, storage.ErrExecutionNotFound) {
			return nil, core.NewNotFoundError("execution", id)
		}
		return nil, err
	}
	return exec, nil
}

// List returns executions matching the filter.
func (e *Engine) List(ctx context.Context, accountID string, filter *core.ExecutionFilter) ([]*core.Execution, int64, error) {
	return e.executions.List(ctx, accountID, filter)
}

// Results returns the step results of an execution in completion order.
func (e *Engine) Results(ctx context.Context, accountID, id string) ([]*core.ExecutionResult, error) {
	if _, err := e.Get(ctx, accountID, id); err != nil {
		return nil, err
	}
	return e.executions.ListResults(ctx, id)
}

// CountActiveByPlaybook reports how many non-terminal executions reference
// the playbook. Playbook deletion is blocked while the count is non-zero.
func (e *Engine) CountActiveByPlaybook(ctx context.Context, accountID, playbookID string) (int64, error) {
	return e.executions.CountActiveByPlaybook(ctx, accountID, playbookID)
}

// Pause halts step scheduling for a running execution. The in-flight step,
// if any, finishes naturally.
func (e *Engine) Pause(ctx context.Context, accountID, id string) error {
	release := e.locks.acquire(id)
	defer release()

	reason := core.PauseReasonOperator
	err := e.executions.TransitionState(ctx, accountID, id, core.ExecutionStatePaused,
		[]core.ExecutionState{core.ExecutionStateRunning},
		&storage.ExecutionUpdate{PauseReason: &reason})
	return e.mapTransitionErr("pause", id, err)
}

// Resume restarts advancement of a paused execution. An execution paused on
// an inquiry re-pauses immediately; the inquiry still blocks it.
func (e *Engine) Resume(ctx context.Context, accountID, id string) error {
	release := e.locks.acquire(id)
	defer release()

	err := e.executions.TransitionState(ctx, accountID, id, core.ExecutionStateRunning,
		[]core.ExecutionState{core.ExecutionStatePaused}, nil)
	if err != nil {
		return e.mapTransitionErr("resume", id, err)
	}

	e.spawnAdvance(accountID, id)
	return nil
}

// Cancel moves an execution to cancelled. Cancelling an already-cancelled
// execution succeeds; any other terminal state is an invalid transition.
// Cancellation is cooperative: the in-flight step's context is cancelled but
// the step reaches its own stopping point.
func (e *Engine) Cancel(ctx context.Context, accountID, id string) error {
	release := e.locks.acquire(id)
	defer release()

	now := time.Now().UTC()
	err := e.executions.TransitionState(ctx, accountID, id, core.ExecutionStateCancelled,
		[]core.ExecutionState{core.ExecutionStatePending, core.ExecutionStateRunning, core.ExecutionStatePaused},
		&storage.ExecutionUpdate{CompletedAt: &now})
	if err != nil {
		var te *storage.TransitionError
		if errors.As(err, &te) && te.Observed == core.ExecutionStateCancelled {
			return nil // already cancelled
		}
		return e.mapTransitionErr("cancel", id, err)
	}

	e.cancelInFlight(id)
	metrics.ExecutionsFinished.WithLabelValues(string(core.ExecutionStateCancelled)).Inc()
	e.logger.Infow("Execution cancelled", "execution_id", id, "account_id", accountID)
	return nil
}

// ReRun creates a brand-new execution from the source's workflow snapshot,
// regardless of the source's state. The optional delay postpones the start.
func (e *Engine) ReRun(ctx context.Context, accountID, id string, delay time.Duration) (*core.Execution, error) {
	source, err := e.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}

	child := &core.Execution{
		ID:                uuid.New().String(),
		AccountID:         accountID,
		PlaybookID:        source.PlaybookID,
		PlaybookName:      source.PlaybookName,
		Workflow:          source.Workflow,
		Input:             source.Input,
		State:             core.ExecutionStatePending,
		ParentExecutionID: source.ID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := e.executions.Create(ctx, child); err != nil {
		return nil, fmt.Errorf("failed to persist re-run execution: %w", err)
	}

	metrics.ExecutionsStarted.Inc()
	e.logger.Infow("Execution re-run",
		"execution_id", child.ID,
		"parent_execution_id", source.ID,
		"delay", delay)
	e.launch(accountID, child.ID, delay)
	return child, nil
}

// ResumeWithAnswer records the answer against the pending inquiry, then
// transitions the owning execution back to running and continues
// advancement. The answer goes first: if it loses to an expiry sweep or a
// second answer, the execution is still paused and recoverable. The whole
// operation holds the execution's lock so an answer racing a cancel yields
// one winner.
func (e *Engine) ResumeWithAnswer(ctx context.Context, inquiry *core.Inquiry, response []byte, answeredBy string) (*core.Inquiry, error) {
	release := e.locks.acquire(inquiry.ExecutionID)
	defer release()

	answered, err := e.inquiries.Answer(ctx, inquiry.AccountID, inquiry.ID, response, answeredBy)
	if err != nil {
		if errors.Is(err, storage.ErrInquiryNotPending) {
			return nil, &core.InvalidStateError{
				Operation: "answer",
				Message:   fmt.Sprintf("inquiry %q is no longer pending", inquiry.ID),
			}
		}
		return nil, err
	}

	err = e.executions.TransitionState(ctx, inquiry.AccountID, inquiry.ExecutionID,
		core.ExecutionStateRunning, []core.ExecutionState{core.ExecutionStatePaused}, nil)
	if err != nil {
		e.logger.Warnw("Answer recorded but execution did not resume",
			"inquiry_id", inquiry.ID,
			"execution_id", inquiry.ExecutionID,
			"error", err)
		return nil, e.mapTransitionErr("answer", inquiry.ExecutionID, err)
	}

	now := time.Now().UTC()
	if err := e.executions.AppendResult(ctx, &core.ExecutionResult{
		ExecutionID: inquiry.ExecutionID,
		StepID:      inquiry.StepID,
		Status:      core.StepStatusCompleted,
		Output:      json.RawMessage(response),
		Attempts:    1,
		StartedAt:   inquiry.CreatedAt,
		CompletedAt: now,
	}); err != nil {
		e.logger.Errorw("Failed to record inquiry result", "inquiry_id", inquiry.ID, "error", err)
	}

	metrics.InquiriesResolved.WithLabelValues("answered").Inc()
	e.spawnAdvance(inquiry.AccountID, inquiry.ExecutionID)
	return answered, nil
}

// HandleInquiryExpiry fails the owning execution with an inquiry timeout, or
// continues at the declared fallback when the step has one.
func (e *Engine) HandleInquiryExpiry(ctx context.Context, inquiry *core.Inquiry) {
	release := e.locks.acquire(inquiry.ExecutionID)
	defer release()

	metrics.InquiriesResolved.WithLabelValues("expired").Inc()

	exec, err := e.executions.Get(ctx, inquiry.AccountID, inquiry.ExecutionID)
	if err != nil {
		e.logger.Errorw("Failed to load execution for expired inquiry",
			"inquiry_id", inquiry.ID, "error", err)
		return
	}

	step := exec.Workflow.StepByID(inquiry.StepID)
	if step != nil && step.FallbackStep != "" {
		err := e.executions.TransitionState(ctx, inquiry.AccountID, inquiry.ExecutionID,
			core.ExecutionStateRunning, []core.ExecutionState{core.ExecutionStatePaused}, nil)
		if err != nil {
			e.logger.Warnw("Expired inquiry fallback lost to a racing transition",
				"inquiry_id", inquiry.ID, "error", err)
			return
		}
		now := time.Now().UTC()
		if err := e.executions.AppendResult(ctx, &core.ExecutionResult{
			ExecutionID: inquiry.ExecutionID,
			StepID:      inquiry.StepID,
			Status:      core.StepStatusSkipped,
			Error:       "inquiry expired, continuing at fallback step",
			Attempts:    1,
			StartedAt:   inquiry.CreatedAt,
			CompletedAt: now,
		}); err != nil {
			e.logger.Errorw("Failed to record expired inquiry result", "inquiry_id", inquiry.ID, "error", err)
		}
		e.skipToStep(exec, step.FallbackStep)
		e.logger.Infow("Inquiry expired, taking fallback",
			"inquiry_id", inquiry.ID,
			"execution_id", inquiry.ExecutionID,
			"fallback_step", step.FallbackStep)
		e.spawnAdvance(inquiry.AccountID, inquiry.ExecutionID)
		return
	}

	reason := core.FailureReasonInquiryTimeout
	now := time.Now().UTC()
	timeoutErr := (&core.TimeoutError{Kind: "inquiry", ID: inquiry.ID}).Error()
	err = e.executions.TransitionState(ctx, inquiry.AccountID, inquiry.ExecutionID,
		core.ExecutionStateFailed, []core.ExecutionState{core.ExecutionStatePaused},
		&storage.ExecutionUpdate{
			FailureReason: &reason,
			Error:         &timeoutErr,
			CompletedAt:   &now,
		})
	if err != nil {
		e.logger.Warnw("Inquiry timeout failure lost to a racing transition",
			"inquiry_id", inquiry.ID, "error", err)
		return
	}
	metrics.ExecutionsFinished.WithLabelValues(string(core.ExecutionStateFailed)).Inc()
	e.logger.Infow("Execution failed on inquiry timeout",
		"execution_id", inquiry.ExecutionID,
		"inquiry_id", inquiry.ID)
}

// mapTransitionErr converts storage transition failures into the service
// error taxonomy.
func (e *Engine) mapTransitionErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storage.ErrExecutionNotFound) {
		return core.NewNotFoundError("execution", id)
	}
	var te *storage.TransitionError
	if errors.As(err, &te) {
		return core.NewInvalidStateError(op, te.Observed)
	}
	return err
}

// launch starts the pending -> running transition and advancement in the
// background, honoring the optional start delay.
func (e *Engine) launch(accountID, id string, delay time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-e.stopCh:
				return
			}
		}

		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-e.stopCh:
			return
		}

		now := time.Now().UTC()
		release := e.locks.acquire(id)
		err := e.executions.TransitionState(e.baseCtx, accountID, id, core.ExecutionStateRunning,
			[]core.ExecutionState{core.ExecutionStatePending},
			&storage.ExecutionUpdate{StartedAt: &now})
		release()
		if err != nil {
			// Cancelled while pending, or racing start; nothing to advance.
			e.logger.Debugw("Execution start skipped", "execution_id", id, "error", err)
			return
		}

		if e.claimDriver(id) {
			e.drive(accountID, id)
		}
	}()
}

// spawnAdvance ensures an advance loop is driving the execution (used after
// resume and inquiry answers, where the caller already transitioned the
// state). When a loop is already alive it is flagged to take another pass
// instead, so at most one driver dispatches steps for an execution.
func (e *Engine) spawnAdvance(accountID, id string) {
	if !e.claimDriver(id) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case e.sem <- struct{}{}:
			defer func() { <-e.sem }()
		case <-e.stopCh:
			e.releaseDriver(id)
			return
		}
		e.drive(accountID, id)
	}()
}

// driverState marks an execution's live advance loop. rerun is set when a
// control call wants advancement while the loop is still running.
type driverState struct {
	rerun bool
}

// claimDriver registers the caller as the execution's sole advance driver.
// When a driver is already alive it is marked to re-run and false is
// returned.
func (e *Engine) claimDriver(id string) bool {
	e.driverMu.Lock()
	defer e.driverMu.Unlock()
	if d, ok := e.drivers[id]; ok {
		d.rerun = true
		return false
	}
	e.drivers[id] = &driverState{}
	return true
}

func (e *Engine) releaseDriver(id string) {
	e.driverMu.Lock()
	delete(e.drivers, id)
	e.driverMu.Unlock()
}

// drive runs advance passes until no control call has asked for another one,
// then releases the driver claim. The re-run check and the release happen
// under the same lock as claimDriver, so a resume that lands while the loop
// is winding down is never lost.
func (e *Engine) drive(accountID, id string) {
	for {
		e.advance(accountID, id)

		e.driverMu.Lock()
		if d := e.drivers[id]; d != nil && d.rerun {
			d.rerun = false
			e.driverMu.Unlock()
			continue
		}
		delete(e.drivers, id)
		e.driverMu.Unlock()
		return
	}
}

// advance is the sequential step loop for one execution. It re-reads state
// every iteration so pauses and cancels applied by control calls take effect
// between steps.
func (e *Engine) advance(accountID, id string) {
	runCtx := e.registerCancel(id)
	defer e.unregisterCancel(id)

	metrics.ActiveExecutions.Inc()
	defer metrics.ActiveExecutions.Dec()

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		exec, err := e.executions.Get(e.baseCtx, accountID, id)
		if err != nil {
			e.logger.Errorw("Failed to load execution during advancement",
				"execution_id", id, "error", err)
			return
		}
		if exec.State != core.ExecutionStateRunning {
			return
		}

		next, err := e.nextStep(exec)
		if err != nil {
			e.failExecution(accountID, exec, "", err)
			return
		}
		if next == nil {
			e.completeExecution(accountID, exec)
			return
		}

		if err := e.executions.SetCursor(e.baseCtx, id, next.ID); err != nil {
			e.logger.Warnw("Failed to set execution cursor", "execution_id", id, "error", err)
		}

		switch next.Kind {
		case core.StepKindAction:
			result, stepErr := e.runStep(runCtx, exec, next)
			if err := e.executions.AppendResult(e.baseCtx, result); err != nil {
				e.logger.Errorw("Failed to append step result",
					"execution_id", id, "step_id", next.ID, "error", err)
			}
			if stepErr != nil && !next.Optional {
				e.failExecution(accountID, exec, next.ID, stepErr)
				return
			}

		case core.StepKindInquiry:
			if e.raiseInquiry(exec, next) {
				return // paused awaiting the answer
			}

		case core.StepKindParallel:
			result, parErr := e.runParallel(runCtx, exec, next)
			if err := e.executions.AppendResult(e.baseCtx, result); err != nil {
				e.logger.Errorw("Failed to append parallel result",
					"execution_id", id, "step_id", next.ID, "error", err)
			}
			if parErr != nil {
				e.failExecution(accountID, exec, next.ID, parErr)
				return
			}
		}
	}
}

// nextStep returns the first step in topological order without a recorded
// result, skipping steps that run inside a parallel group.
func (e *Engine) nextStep(exec *core.Execution) (*core.Step, error) {
	ordered, err := workflow.TopoOrder(exec.Workflow.Steps)
	if err != nil {
		// Cycles permitted by configuration run in declaration order.
		ordered = exec.Workflow.Steps
	}

	results, err := e.executions.ListResults(e.baseCtx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step results: %w", err)
	}
	done := make(map[string]bool, len(results))
	for _, r := range results {
		done[r.StepID] = true
	}

	inBranch := branchMembers(exec.Workflow)

	for i := range ordered {
		step := &ordered[i]
		if done[step.ID] || inBranch[step.ID] {
			continue
		}
		return step, nil
	}
	return nil, nil
}

// branchMembers returns the ids of steps that run inside a parallel group,
// which the sequential loop must not dispatch on its own.
func branchMembers(wf *core.Workflow) map[string]bool {
	members := make(map[string]bool)
	for i := range wf.Steps {
		if wf.Steps[i].Kind == core.StepKindParallel {
			for _, b := range wf.Steps[i].Branches {
				members[b] = true
			}
		}
	}
	return members
}

// skipToStep records skipped results for the undone steps ahead of target in
// topological order, so the next advance pass hands control to the target.
func (e *Engine) skipToStep(exec *core.Execution, targetID string) {
	if exec.Workflow.StepByID(targetID) == nil {
		e.logger.Warnw("Fallback step not found in workflow",
			"execution_id", exec.ID, "step_id", targetID)
		return
	}

	ordered, err := workflow.TopoOrder(exec.Workflow.Steps)
	if err != nil {
		ordered = exec.Workflow.Steps
	}
	results, err := e.executions.ListResults(e.baseCtx, exec.ID)
	if err != nil {
		e.logger.Errorw("Failed to load step results", "execution_id", exec.ID, "error", err)
		return
	}
	done := make(map[string]bool, len(results))
	for _, r := range results {
		done[r.StepID] = true
	}
	inBranch := branchMembers(exec.Workflow)

	now := time.Now().UTC()
	for i := range ordered {
		step := &ordered[i]
		if step.ID == targetID {
			break
		}
		if done[step.ID] || inBranch[step.ID] {
			continue
		}
		if err := e.executions.AppendResult(e.baseCtx, &core.ExecutionResult{
			ExecutionID: exec.ID,
			StepID:      step.ID,
			Status:      core.StepStatusSkipped,
			Error:       fmt.Sprintf("bypassed by fallback step %q", targetID),
			StartedAt:   now,
			CompletedAt: now,
		}); err != nil {
			e.logger.Errorw("Failed to record bypassed step",
				"execution_id", exec.ID, "step_id", step.ID, "error", err)
		}
	}
	if err := e.executions.SetCursor(e.baseCtx, exec.ID, targetID); err != nil {
		e.logger.Warnw("Failed to set execution cursor", "execution_id", exec.ID, "error", err)
	}
}

// runStep invokes the executor for one action step, honoring the step's
// timeout and retry policy.
func (e *Engine) runStep(ctx context.Context, exec *core.Execution, step *core.Step) (*core.ExecutionResult, error) {
	started := time.Now().UTC()
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}

	retryCfg := DefaultRetryConfig(e.logger)
	retryCfg.MaxAttempts = 1
	if step.Retryable {
		retryCfg.MaxAttempts = e.cfg.RetryAttempts
		retryCfg.BaseDelay = e.cfg.RetryBackoff
		if step.Retry != nil {
			if step.Retry.MaxAttempts > 0 {
				retryCfg.MaxAttempts = step.Retry.MaxAttempts
			}
			if step.Retry.Backoff > 0 {
				retryCfg.BaseDelay = step.Retry.Backoff
			}
		}
	}

	attempts := 0
	var output map[string]interface{}
	err := ExecuteWithRetry(ctx, func() error {
		attempts++
		if attempts > 1 {
			metrics.StepRetries.Inc()
		}
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var execErr error
		output, execErr = e.executor.Execute(stepCtx, step, step.Parameters)
		return execErr
	}, retryCfg)

	completed := time.Now().UTC()
	result := &core.ExecutionResult{
		ExecutionID: exec.ID,
		StepID:      step.ID,
		Attempts:    attempts,
		StartedAt:   started,
		CompletedAt: completed,
	}

	if err != nil {
		result.Status = core.StepStatusFailed
		result.Error = err.Error()
		metrics.StepsExecuted.WithLabelValues(step.ActionType, string(core.StepStatusFailed)).Inc()
		e.logger.Warnw("Step failed",
			"execution_id", exec.ID,
			"step_id", step.ID,
			"action_type", step.ActionType,
			"attempts", attempts,
			"optional", step.Optional,
			"error", err)
		return result, &core.ActionExecutionError{
			StepID:     step.ID,
			ActionType: step.ActionType,
			Attempts:   attempts,
			Cause:      err,
		}
	}

	if encoded, marshalErr := json.Marshal(output); marshalErr == nil {
		result.Output = encoded
	}
	result.Status = core.StepStatusCompleted
	metrics.StepsExecuted.WithLabelValues(step.ActionType, string(core.StepStatusCompleted)).Inc()
	e.logger.Debugw("Step completed",
		"execution_id", exec.ID,
		"step_id", step.ID,
		"action_type", step.ActionType,
		"attempts", attempts)
	return result, nil
}

// runParallel fans out over the branch steps and joins before returning.
// Branch results are appended in completion order.
func (e *Engine) runParallel(ctx context.Context, exec *core.Execution, step *core.Step) (*core.ExecutionResult, error) {
	started := time.Now().UTC()

	var wg sync.WaitGroup
	errCh := make(chan error, len(step.Branches))

	for _, branchID := range step.Branches {
		branch := exec.Workflow.StepByID(branchID)
		if branch == nil || branch.Kind != core.StepKindAction {
			errCh <- fmt.Errorf("parallel branch %q is not an action step", branchID)
			continue
		}

		wg.Add(1)
		go func(branch *core.Step) {
			defer wg.Done()
			result, err := e.runStep(ctx, exec, branch)
			if appendErr := e.executions.AppendResult(e.baseCtx, result); appendErr != nil {
				e.logger.Errorw("Failed to append branch result",
					"execution_id", exec.ID, "step_id", branch.ID, "error", appendErr)
			}
			if err != nil && !branch.Optional {
				errCh <- err
			}
		}(branch)
	}

	wg.Wait()
	close(errCh)

	completed := time.Now().UTC()
	result := &core.ExecutionResult{
		ExecutionID: exec.ID,
		StepID:      step.ID,
		Attempts:    1,
		StartedAt:   started,
		CompletedAt: completed,
	}

	if err := <-errCh; err != nil {
		result.Status = core.StepStatusFailed
		result.Error = err.Error()
		return result, err
	}
	result.Status = core.StepStatusCompleted
	return result, nil
}

// raiseInquiry creates the inquiry and pauses the execution in one
// transaction. Returns true when the execution is paused (either by this
// call or by a pre-existing pending inquiry for the step).
func (e *Engine) raiseInquiry(exec *core.Execution, step *core.Step) bool {
	// A resume on an inquiry-paused execution lands here with the inquiry
	// still pending; re-pause instead of raising a duplicate.
	pending, _, err := e.inquiries.List(e.baseCtx, exec.AccountID, &core.InquiryFilter{
		ExecutionID: exec.ID,
		States:      []core.InquiryState{core.InquiryStatePending},
	})
	if err == nil {
		for _, inq := range pending {
			if inq.StepID == step.ID {
				reason := core.PauseReasonAwaitingInquiry
				transErr := e.executions.TransitionState(e.baseCtx, exec.AccountID, exec.ID,
					core.ExecutionStatePaused, []core.ExecutionState{core.ExecutionStateRunning},
					&storage.ExecutionUpdate{PauseReason: &reason})
				if transErr != nil {
					e.logger.Debugw("Re-pause lost to a racing transition",
						"execution_id", exec.ID, "error", transErr)
				}
				return true
			}
		}
	}

	inquiry := &core.Inquiry{
		ID:             uuid.New().String(),
		AccountID:      exec.AccountID,
		ExecutionID:    exec.ID,
		StepID:         step.ID,
		Prompt:         step.Prompt,
		ResponseSchema: step.ResponseSchema,
		CreatedAt:      time.Now().UTC(),
	}
	if e.cfg.InquiryTTL > 0 {
		expires := inquiry.CreatedAt.Add(e.cfg.InquiryTTL)
		inquiry.ExpiresAt = &expires
	}

	if err := e.inquiries.CreateAndPause(e.baseCtx, inquiry); err != nil {
		current, getErr := e.executions.Get(e.baseCtx, exec.AccountID, exec.ID)
		if getErr == nil && current.State == core.ExecutionStateRunning {
			// Not a lost race: the execution is still running with no pending
			// inquiry to unblock it, so fail it rather than strand it.
			e.failExecution(exec.AccountID, exec, step.ID, fmt.Errorf("failed to raise inquiry: %w", err))
			return true
		}
		// A cancel or pause won the race; the loop exits on the next read.
		e.logger.Warnw("Failed to raise inquiry",
			"execution_id", exec.ID, "step_id", step.ID, "error", err)
		return true
	}

	metrics.InquiriesRaised.Inc()
	e.logger.Infow("Inquiry raised",
		"inquiry_id", inquiry.ID,
		"execution_id", exec.ID,
		"step_id", step.ID,
		"expires_at", inquiry.ExpiresAt)
	return true
}

func (e *Engine) completeExecution(accountID string, exec *core.Execution) {
	now := time.Now().UTC()
	release := e.locks.acquire(exec.ID)
	err := e.executions.TransitionState(e.baseCtx, accountID, exec.ID, core.ExecutionStateCompleted,
		[]core.ExecutionState{core.ExecutionStateRunning},
		&storage.ExecutionUpdate{CompletedAt: &now})
	release()
	if err != nil {
		e.logger.Debugw("Completion lost to a racing transition",
			"execution_id", exec.ID, "error", err)
		return
	}

	metrics.ExecutionsFinished.WithLabelValues(string(core.ExecutionStateCompleted)).Inc()
	if exec.StartedAt != nil {
		metrics.ExecutionDuration.Observe(now.Sub(*exec.StartedAt).Seconds())
	}
	e.logger.Infow("Execution completed", "execution_id", exec.ID, "account_id", accountID)
}

func (e *Engine) failExecution(accountID string, exec *core.Execution, stepID string, cause error) {
	now := time.Now().UTC()
	reason := core.FailureReasonStepFailed
	msg := cause.Error()

	release := e.locks.acquire(exec.ID)
	err := e.executions.TransitionState(e.baseCtx, accountID, exec.ID, core.ExecutionStateFailed,
		[]core.ExecutionState{core.ExecutionStateRunning},
		&storage.ExecutionUpdate{
			FailureReason: &reason,
			Error:         &msg,
			CompletedAt:   &now,
		})
	release()
	if err != nil {
		e.logger.Debugw("Failure transition lost to a racing transition",
			"execution_id", exec.ID, "error", err)
		return
	}

	metrics.ExecutionsFinished.WithLabelValues(string(core.ExecutionStateFailed)).Inc()
	if exec.StartedAt != nil {
		metrics.ExecutionDuration.Observe(now.Sub(*exec.StartedAt).Seconds())
	}
	e.logger.Warnw("Execution failed",
		"execution_id", exec.ID,
		"account_id", accountID,
		"step_id", stepID,
		"error", cause)
}

func (e *Engine) registerCancel(id string) context.Context {
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.cancelMu.Lock()
	e.cancels[id] = cancel
	e.cancelMu.Unlock()
	return ctx
}

func (e *Engine) unregisterCancel(id string) {
	e.cancelMu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
		delete(e.cancels, id)
	}
	e.cancelMu.Unlock()
}

func (e *Engine) cancelInFlight(id string) {
	e.cancelMu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
	}
	e.cancelMu.Unlock()
}
