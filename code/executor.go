package code

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Executor is the main entry point for executing scripts.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: cancelling ctx while the request waits for a slot returns
//   ctx.Err(); cancelling it while the script runs yields a Failed result
//   of kind Canceled.
// - Errors: only an invalid request or a cancelled wait is returned as an
//   error. Every script failure, including a timeout, is a Result.
// - Ownership: the returned Result is caller-owned.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// abandonGrace is how long a timed out worker may take to return before it
// is counted as abandoned.
const abandonGrace = 250 * time.Millisecond

// DefaultExecutor runs requests on a fixed number of worker slots.
type DefaultExecutor struct {
	cfg    Config
	slots  *semaphore.Weighted
	logger *zap.Logger

	// abandoned counts workers still running after their caller gave up.
	abandoned atomic.Int64
}

// NewDefaultExecutor creates a DefaultExecutor with the given configuration.
// Returns ErrConfiguration if any required field is missing.
func NewDefaultExecutor(cfg Config) (*DefaultExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &DefaultExecutor{
		cfg:    cfg,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger: cfg.Logger.Named("executor"),
	}, nil
}

// Abandoned returns how many timed out scripts are still holding a slot.
func (e *DefaultExecutor) Abandoned() int64 {
	return e.abandoned.Load()
}

func (e *DefaultExecutor) budget(req Request) (time.Duration, error) {
	if strings.TrimSpace(req.Code) == "" {
		return 0, fmt.Errorf("%w: code is empty", ErrInvalidRequest)
	}
	if req.TimeoutSeconds < 0 {
		return 0, fmt.Errorf("%w: negative time budget", ErrInvalidRequest)
	}
	if req.MaxToolCalls < 0 {
		return 0, fmt.Errorf("%w: negative tool call limit", ErrInvalidRequest)
	}
	if req.TimeoutSeconds == 0 {
		return e.cfg.DefaultTimeout, nil
	}
	d := time.Duration(req.TimeoutSeconds) * time.Second
	if d > e.cfg.MaxTimeout {
		return 0, fmt.Errorf("%w: time budget %ds exceeds maximum %s",
			ErrInvalidRequest, req.TimeoutSeconds, e.cfg.MaxTimeout)
	}
	return d, nil
}

func (e *DefaultExecutor) toolCallLimit(req Request) int {
	limit := req.MaxToolCalls
	if e.cfg.MaxToolCalls > 0 && (limit == 0 || limit > e.cfg.MaxToolCalls) {
		limit = e.cfg.MaxToolCalls
	}
	return limit
}

// Execute runs one request and blocks until it reaches a terminal state or
// its budget expires.
func (e *DefaultExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	budget, err := e.budget(req)
	if err != nil {
		return Result{}, err
	}

	res := Result{ID: uuid.NewString(), State: StatePending}
	log := e.logger.With(zap.String("execution_id", res.ID))

	if err := e.slots.Acquire(ctx, 1); err != nil {
		log.Debug("gave up waiting for a worker slot", zap.Error(err))
		return res, err
	}

	res.State = StatePreparing
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	stdout := newOutputBuffer(e.cfg.MaxOutputBytes)
	stderr := newOutputBuffer(e.cfg.MaxOutputBytes)
	tools := newTools(&e.cfg, e.toolCallLimit(req), log)
	env := Env{Stdout: stdout, Stderr: stderr, Files: e.cfg.Workspace, Tools: tools}

	done := make(chan error, 1)
	res.State = StateRunning
	go func() {
		defer e.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- &CodeError{Kind: KindInternal, Message: fmt.Sprint(r), Trace: string(debug.Stack())}
			}
		}()
		done <- e.cfg.Engine.Execute(runCtx, req.Code, env)
	}()

	var (
		runErr   error
		elapsed  time.Duration
		finished = true
		expired  bool
	)
	select {
	case runErr = <-done:
		elapsed = time.Since(start)
	case <-runCtx.Done():
		elapsed = time.Since(start)
		expired = true
		// A cooperative script returns shortly after its context ends.
		grace := time.NewTimer(abandonGrace)
		select {
		case runErr = <-done:
		case <-grace.C:
			finished = false
			runErr = runCtx.Err()
		}
		grace.Stop()
	}

	if !finished {
		e.abandoned.Add(1)
		go func() {
			<-done
			e.abandoned.Add(-1)
			log.Debug("abandoned script finished")
		}()
		log.Warn("script still running after deadline; its worker slot stays busy until it returns",
			zap.Duration("budget", budget))
	}

	res.ExecutionTimeMs = elapsed.Milliseconds()
	res.Output = combineOutput(stdout.String(), stderr.String())
	res.ToolCalls = tools.ToolCalls()

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	switch {
	case runErr == nil && !expired:
		res.State = StateSucceeded
		res.Success = true
	case timedOut:
		res.State = StateTimedOut
		res.Kind = KindTimedOut
		res.Error = "Execution timeout after " + strconv.FormatFloat(budget.Seconds(), 'f', -1, 64) + " seconds"
	case ctx.Err() != nil:
		res.State = StateFailed
		res.Kind = KindCanceled
		res.Error = KindCanceled + ": " + ctx.Err().Error()
	default:
		res.State = StateFailed
		res.Kind, res.Error = Describe(runErr)
	}

	log.Info("execution finished",
		zap.Stringer("state", res.State),
		zap.String("kind", res.Kind),
		zap.Int64("duration_ms", res.ExecutionTimeMs),
		zap.Int("tool_calls", len(res.ToolCalls)))

	if e.cfg.Recorder != nil {
		e.cfg.Recorder.Record(context.WithoutCancel(ctx), req, res)
	}
	return res, nil
}
