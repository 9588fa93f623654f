package provider

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/punchliner/api/internal/model"
)

// Result is the outcome of a synchronous generation
type Result struct {
	URL  string
	Meta map[string]string
}

// Generator produces an artifact in a single blocking call
type Generator interface {
	Generate(ctx context.Context, req model.GenerationRequest) (*Result, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req model.GenerationRequest) (*Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req model.GenerationRequest) (*Result, error) {
	return f(ctx, req)
}

type outcome struct {
	result   *Result
	err      error
	storedAt time.Time
}

// Synchronous gives a blocking Generator task semantics. Submit runs the
// generation and parks its outcome under a synthetic id; the first
// FetchStatus for that id reports it.
//
// A SubmissionRejected error from the generator is returned from Submit.
// Any other generator error is reported as a task failure on the next poll.
type Synchronous struct {
	gen       Generator
	retention time.Duration

	mu       sync.Mutex
	outcomes map[string]outcome
}

// NewSynchronous wraps gen. Unclaimed outcomes are dropped after retention.
func NewSynchronous(gen Generator, retention time.Duration) *Synchronous {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	return &Synchronous{
		gen:       gen,
		retention: retention,
		outcomes:  make(map[string]outcome),
	}
}

func (s *Synchronous) Submit(ctx context.Context, req model.GenerationRequest) (*model.TaskHandle, error) {
	result, err := s.gen.Generate(ctx, req)
	if err != nil && IsKind(err, KindSubmissionRejected) {
		return nil, err
	}
	if err == nil && (result == nil || result.URL == "") {
		err = Failed("generation returned no artifact")
	}

	id := uuid.New().String()
	now := time.Now()

	s.mu.Lock()
	s.prune(now)
	s.outcomes[id] = outcome{result: result, err: err, storedAt: now}
	s.mu.Unlock()

	return &model.TaskHandle{
		TaskID:      id,
		Request:     req,
		SubmittedAt: now,
	}, nil
}

func (s *Synchronous) FetchStatus(_ context.Context, taskID string) (*Status, error) {
	s.mu.Lock()
	out, ok := s.outcomes[taskID]
	delete(s.outcomes, taskID)
	s.mu.Unlock()

	if !ok {
		return nil, Failed("unknown task " + taskID)
	}
	if out.err != nil {
		return &Status{State: StatusFail, Reason: Reason(out.err)}, nil
	}
	return &Status{
		State:     StatusSuccess,
		Progress:  100,
		ResultURL: out.result.URL,
		Meta:      out.result.Meta,
	}, nil
}

// prune drops outcomes nobody polled for. Caller holds s.mu.
func (s *Synchronous) prune(now time.Time) {
	for id, out := range s.outcomes {
		if now.Sub(out.storedAt) > s.retention {
			delete(s.outcomes, id)
		}
	}
}
