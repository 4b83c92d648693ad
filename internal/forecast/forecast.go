// Package forecast runs yield forecast jobs. An Orchestrator admits at most
// one cold job through its Gate, skips the job entirely when a result for the
// same fingerprint is cached and turns successful outputs into persisted
// yield records.
package forecast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yieldforecast/forecaster/internal/cache"
	"github.com/yieldforecast/forecaster/internal/fingerprint"
	"github.com/yieldforecast/forecaster/internal/gate"
	"github.com/yieldforecast/forecaster/internal/log"
	"github.com/yieldforecast/forecaster/internal/model"
	"github.com/yieldforecast/forecaster/internal/runner"
)

var ErrClosed = errors.New("orchestrator closed")

type JobRunner interface {
	Run(ctx context.Context, cmd runner.Command) runner.Outcome
}

type RecordStore interface {
	SaveRecord(ctx context.Context, rec *model.YieldRecord) error
	FindRecord(ctx context.Context, id uint64) (model.YieldRecord, error)
}

// RunHistory keeps track of cold runs. Its failures are logged only.
type RunHistory interface {
	StartRun(ctx context.Context, run model.Run) error
	FinishRunOK(ctx context.Context, runID string, recordID *uint64) error
	FinishRunErr(ctx context.Context, runID, reason string) error
}

type Options struct {
	Runner  JobRunner
	Records RecordStore
	// optional, nil disables run history
	History RunHistory
	// defaults to an unbounded in memory cache
	Cache cache.Cache
	// defaults to gate.NewGlobal
	Gate gate.Gate

	Forecast     model.Command
	Availability model.Command
	// Env is passed to every job as KEY=value pairs.
	Env []string
	// IncludeDates makes the date range part of the fingerprint.
	IncludeDates bool

	Now func() time.Time
}

// Submission is the synchronous answer of SubmitRun. Done delivers exactly
// one RunResult and is closed afterwards. For a cached submission Record is
// set and Done is already filled.
type Submission struct {
	RunID  string             `json:"runId,omitempty"`
	Cached bool               `json:"cached"`
	Record *model.YieldRecord `json:"record,omitempty"`
	Done   <-chan RunResult   `json:"-"`
}

type RunResult struct {
	RunID  string
	State  model.RunState
	Record *model.YieldRecord
	Err    error
}

type Orchestrator struct {
	opts Options

	mx     sync.RWMutex
	status model.Status
	active int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Gate == nil {
		opts.Gate = gate.NewGlobal()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:   opts,
		status: model.Status{State: model.RunStateIdle},
		ctx:    ctx,
		cancel: cancel,
	}
}

// SubmitRun validates req and either answers from the cache or launches a
// cold job in the background. Validation errors, ErrAdmissionRejected and
// persistence errors of a cached answer are returned synchronously. A
// rejected submission does not change the status.
func (o *Orchestrator) SubmitRun(ctx context.Context, req model.JobRequest) (Submission, error) {
	if o.ctx.Err() != nil {
		return Submission{}, ErrClosed
	}
	job, err := req.Normalize(o.opts.Now())
	if err != nil {
		return Submission{}, err
	}

	fp := o.fingerprint(job)
	ctx = log.ContextAttrs(ctx, slog.String("fingerprint", short(fp)), slog.String("parameter", job.Parameter))

	payload, ok, err := o.opts.Cache.Get(ctx, fp)
	if err != nil {
		slog.WarnContext(ctx, "cache lookup failed, running the job", "error", err)
		ok = false
	}
	if ok {
		return o.submitCached(ctx, job, payload)
	}

	if !o.opts.Gate.TryAcquire(fp) {
		slog.InfoContext(ctx, "forecast rejected, another one is running")
		return Submission{}, model.ErrAdmissionRejected
	}
	release := sync.OnceFunc(func() { o.opts.Gate.Release(fp) })

	runID := uuid.NewString()
	ctx = log.ContextAttrs(ctx, slog.String("run_id", runID))
	o.queued(runID)
	o.startHistory(ctx, model.Run{
		RunID:       runID,
		Fingerprint: fp,
		Parameter:   job.Parameter,
		StartedAt:   o.opts.Now().UTC(),
	})

	done := make(chan RunResult, 1)
	jobCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	unwatch := context.AfterFunc(o.ctx, stop)
	o.wg.Go(func() {
		defer close(done)
		defer stop()
		defer unwatch()
		defer release()

		res := o.execute(jobCtx, runID, fp, job)
		release()
		o.finished(res)
		o.finishHistory(jobCtx, res)
		done <- res
	})
	return Submission{RunID: runID, Done: done}, nil
}

func (o *Orchestrator) submitCached(ctx context.Context, job model.Job, payload []byte) (Submission, error) {
	slog.InfoContext(ctx, "forecast answered from cache")
	rec, err := o.persist(ctx, job, payload)
	if err != nil {
		return Submission{}, err
	}
	o.cached()

	done := make(chan RunResult, 1)
	done <- RunResult{State: model.RunStateCompleted, Record: &rec}
	close(done)
	return Submission{Cached: true, Record: &rec, Done: done}, nil
}

func (o *Orchestrator) execute(ctx context.Context, runID, fp string, job model.Job) RunResult {
	o.running(runID)

	cmd := o.command(o.opts.Forecast,
		job.Geometry.Canonical(),
		job.Parameter,
		job.Start.Format(model.DateLayout),
		job.End.Format(model.DateLayout),
	)
	out := o.opts.Runner.Run(ctx, cmd)
	if err := out.Err(); err != nil {
		return RunResult{RunID: runID, State: model.RunStateFailed, Err: err}
	}

	if err := o.opts.Cache.Set(ctx, fp, out.Output); err != nil {
		slog.WarnContext(ctx, "can't cache job output", "error", err)
	}
	rec, err := o.persist(ctx, job, out.Output)
	if err != nil {
		slog.ErrorContext(ctx, "can't persist yield record", "error", err)
		return RunResult{RunID: runID, State: model.RunStateFailed, Err: err}
	}
	slog.InfoContext(ctx, "forecast completed", "record_id", rec.ID, "yield", rec.PredictedYield)
	return RunResult{RunID: runID, State: model.RunStateCompleted, Record: &rec}
}

// CheckAvailability asks the availability job which images cover the zone.
// It runs synchronously and never touches the cache, the gate or the
// records.
func (o *Orchestrator) CheckAvailability(ctx context.Context, req model.JobRequest) (model.Availability, error) {
	job, err := req.Normalize(o.opts.Now())
	if err != nil {
		return model.Availability{}, err
	}
	cmd := o.command(o.opts.Availability,
		job.Geometry.Canonical(),
		job.Start.Format(model.DateLayout),
		job.End.Format(model.DateLayout),
	)
	out := o.opts.Runner.Run(ctx, cmd)
	if err := out.Err(); err != nil {
		return model.Availability{}, err
	}
	return decodeAvailability(out.Output)
}

// Status is safe for any number of concurrent callers.
func (o *Orchestrator) Status() model.Status {
	o.mx.RLock()
	defer o.mx.RUnlock()
	return o.status
}

// Wait blocks until all background jobs finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close kills running jobs, waits for them and rejects further submissions.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) fingerprint(job model.Job) string {
	var opts []fingerprint.Option
	if o.opts.IncludeDates {
		opts = append(opts, fingerprint.WithDateRange(job.Start, job.End))
	}
	return fingerprint.Of(job.Parameter, job.Geometry, opts...)
}

func (o *Orchestrator) command(c model.Command, args ...string) runner.Command {
	all := make([]string, 0, len(c.Args)+len(args))
	all = append(all, c.Args...)
	all = append(all, args...)
	return runner.Command{
		Path:    c.Path,
		Args:    all,
		Env:     o.opts.Env,
		Timeout: c.Timeout,
	}
}

func (o *Orchestrator) startHistory(ctx context.Context, run model.Run) {
	if o.opts.History == nil {
		return
	}
	if err := o.opts.History.StartRun(ctx, run); err != nil {
		slog.WarnContext(ctx, "can't record run start", "error", err)
	}
}

func (o *Orchestrator) finishHistory(ctx context.Context, res RunResult) {
	if o.opts.History == nil {
		return
	}
	// the job context may be cancelled by Close
	ctx = context.WithoutCancel(ctx)
	var err error
	if res.Err == nil {
		var id *uint64
		if res.Record != nil {
			id = &res.Record.ID
		}
		err = o.opts.History.FinishRunOK(ctx, res.RunID, id)
	} else {
		err = o.opts.History.FinishRunErr(ctx, res.RunID, reason(res.Err))
	}
	if err != nil {
		slog.WarnContext(ctx, "can't record run finish", "error", err)
	}
}

func short(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
