package forecast

import (
	"errors"

	"github.com/yieldforecast/forecaster/internal/model"
)

const (
	msgQueued    = "queued"
	msgPreparing = "running: preparing"
	msgCompleted = "completed"
	msgCached    = "completed (cached)"
)

func (o *Orchestrator) queued(runID string) {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.active++
	o.status = model.Status{
		Running: true,
		State:   model.RunStateQueued,
		Message: msgQueued,
		RunID:   runID,
	}
}

func (o *Orchestrator) running(runID string) {
	o.mx.Lock()
	defer o.mx.Unlock()
	o.status = model.Status{
		Running: true,
		State:   model.RunStateRunning,
		Message: msgPreparing,
		RunID:   runID,
	}
}

// finished records the terminal message. The state goes back to idle once no
// other job is admitted, and a run admitted meanwhile keeps its status.
func (o *Orchestrator) finished(res RunResult) {
	msg := msgCompleted
	if res.Err != nil {
		msg = "failed: " + reason(res.Err)
	}

	o.mx.Lock()
	defer o.mx.Unlock()
	o.active--
	if o.active > 0 {
		// a newer admitted run owns the status
		if o.status.RunID == res.RunID {
			o.status.Message = msg
		}
		return
	}
	o.status = model.Status{
		State:   model.RunStateIdle,
		Message: msg,
		RunID:   res.RunID,
	}
}

// cached reports a cache hit unless a cold job is in flight, its progress is
// the more useful answer then.
func (o *Orchestrator) cached() {
	o.mx.Lock()
	defer o.mx.Unlock()
	if o.active > 0 {
		return
	}
	o.status = model.Status{
		State:   model.RunStateIdle,
		Message: msgCached,
	}
}

// reason is the human readable failure cause exposed through the status. It
// never carries job stderr or storage internals.
func reason(err error) string {
	var failure *model.JobFailure
	switch {
	case errors.As(err, &failure):
		return failure.Reason
	case errors.Is(err, model.ErrJobTimeout):
		return "job timed out"
	case errors.Is(err, model.ErrPersistence):
		return "can't save the yield record"
	default:
		return "internal error"
	}
}
