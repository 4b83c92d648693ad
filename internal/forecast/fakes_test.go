package forecast_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/yieldforecast/forecaster/internal/model"
	"github.com/yieldforecast/forecaster/internal/runner"
)

type fakeRunner struct {
	mx    sync.Mutex
	calls []runner.Command
	run   func(ctx context.Context, cmd runner.Command) runner.Outcome
}

func succeed(output string) func(context.Context, runner.Command) runner.Outcome {
	return func(context.Context, runner.Command) runner.Outcome {
		return runner.Outcome{Kind: runner.Success, Output: json.RawMessage(output)}
	}
}

func (f *fakeRunner) Run(ctx context.Context, cmd runner.Command) runner.Outcome {
	f.mx.Lock()
	f.calls = append(f.calls, cmd)
	run := f.run
	f.mx.Unlock()
	return run(ctx, cmd)
}

func (f *fakeRunner) Calls() []runner.Command {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]runner.Command(nil), f.calls...)
}

type memStore struct {
	mx      sync.Mutex
	next    uint64
	recs    map[uint64]model.YieldRecord
	saveErr error
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[uint64]model.YieldRecord)}
}

func (s *memStore) SaveRecord(_ context.Context, rec *model.YieldRecord) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if rec.ID == 0 {
		s.next++
		rec.ID = s.next
	}
	s.recs[rec.ID] = *rec
	return nil
}

func (s *memStore) FindRecord(_ context.Context, id uint64) (model.YieldRecord, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	rec, ok := s.recs[id]
	if !ok {
		return model.YieldRecord{}, model.ErrNotFound
	}
	return rec, nil
}

func (s *memStore) Len() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.recs)
}

var errDiskFull = errors.New("disk full")
