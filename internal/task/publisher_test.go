package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/provider"
)

var testTiming = Timing{
	TickInterval: 10 * time.Millisecond,
	PollInterval: 30 * time.Millisecond,
	Deadline:     2 * time.Second,
}

// recordingSink keeps every event and close in order
type recordingSink struct {
	mu     sync.Mutex
	events []model.Event
	closed []string
}

func (s *recordingSink) Publish(ev model.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) Close(taskID string) {
	s.mu.Lock()
	s.closed = append(s.closed, taskID)
	s.mu.Unlock()
}

func (s *recordingSink) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

func (s *recordingSink) Closed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

// fakeProvider answers Submit with submitErr or a handle, and each poll with
// the next scripted status. The last script entry repeats.
type fakeProvider struct {
	submitErr   error
	submitDelay time.Duration
	script      []fakePoll

	mu      sync.Mutex
	polls   int
	submits atomic.Int32
}

type fakePoll struct {
	status *provider.Status
	err    error
}

func (f *fakeProvider) Submit(ctx context.Context, req model.GenerationRequest) (*model.TaskHandle, error) {
	f.submits.Add(1)
	if f.submitDelay > 0 {
		select {
		case <-time.After(f.submitDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &model.TaskHandle{TaskID: "remote-1", Request: req, SubmittedAt: time.Now()}, nil
}

func (f *fakeProvider) FetchStatus(_ context.Context, _ string) (*provider.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.polls++
	if i < 0 {
		return &provider.Status{State: provider.StatusProcessing}, nil
	}
	return f.script[i].status, f.script[i].err
}

func (f *fakeProvider) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func processing(progress int) fakePoll {
	return fakePoll{status: &provider.Status{State: provider.StatusProcessing, Progress: progress}}
}

func succeeded(url string) fakePoll {
	return fakePoll{status: &provider.Status{State: provider.StatusSuccess, ResultURL: url}}
}

func videoRequest() model.GenerationRequest {
	return model.NewGenerationRequest(model.KindVideo, map[string]string{
		model.ParamContent:  "why did the scarecrow win an award",
		model.ParamImageURL: "https://cdn.example.com/a.png",
	})
}

func startPublisher(t *testing.T, prov provider.Provider, timing Timing) (*Publisher, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	p := newPublisher(context.Background(), "task-1", videoRequest(), prov, sink, timing, zerolog.Nop())
	p.start()
	t.Cleanup(func() {
		p.Cancel()
		<-p.Done()
	})
	return p, sink
}

func waitDone(t *testing.T, p *Publisher, within time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(within):
		t.Fatalf("publisher did not finish within %s", within)
	}
}

func assertMonotonic(t *testing.T, events []model.Event) {
	t.Helper()
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Progress, events[i-1].Progress, "progress went backwards at event %d", i)
	}
	terminal := 0
	for _, ev := range events {
		if ev.Status.IsTerminal() {
			terminal++
		}
		if ev.Status != model.TaskStatusCompleted {
			assert.Less(t, ev.Progress, 100)
		}
	}
	assert.LessOrEqual(t, terminal, 1)
	if terminal == 1 {
		assert.True(t, events[len(events)-1].Status.IsTerminal(), "terminal event must be last")
	}
}

func TestPublisher_CompletesOnSecondPoll(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{
		processing(40),
		succeeded("https://cdn.example.com/v.mp4"),
	}}
	p, sink := startPublisher(t, prov, testTiming)

	waitDone(t, p, time.Second)

	events := sink.Events()
	require.NotEmpty(t, events)
	assert.Equal(t, model.TaskStatusQueued, events[0].Status)
	assert.Equal(t, 0, events[0].Progress)

	last := events[len(events)-1]
	assert.Equal(t, model.TaskStatusCompleted, last.Status)
	assert.Equal(t, 100, last.Progress)
	assert.Equal(t, "https://cdn.example.com/v.mp4", last.ResultURL)
	assert.Equal(t, "task-1", last.TaskID)

	sawReported := false
	for _, ev := range events[1 : len(events)-1] {
		assert.Equal(t, model.TaskStatusProcessing, ev.Status)
		if ev.Progress >= 40 {
			sawReported = true
		}
	}
	assert.True(t, sawReported, "provider progress should be reflected")
	assertMonotonic(t, events)
	assert.Equal(t, 2, prov.Polls())

	state := p.Snapshot()
	assert.Equal(t, model.TaskStatusCompleted, state.Status)
	assert.Nil(t, p.Handle(), "handle is released at terminal")
}

func TestPublisher_SubmissionRejected(t *testing.T) {
	prov := &fakeProvider{submitErr: provider.Rejected(400, "bad request", nil)}
	p, sink := startPublisher(t, prov, testTiming)

	waitDone(t, p, time.Second)
	time.Sleep(2 * testTiming.PollInterval)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, model.TaskStatusQueued, events[0].Status)
	assert.Equal(t, model.TaskStatusFailed, events[1].Status)
	assert.Equal(t, model.ErrCodeSubmissionRejected, events[1].Error)
	assert.Equal(t, "bad request", events[1].Message)
	assert.Equal(t, int32(1), prov.submits.Load(), "submission is never retried")
	assert.Equal(t, 0, prov.Polls())
}

func TestPublisher_ProviderFailure(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{
		{status: &provider.Status{State: provider.StatusFail, Reason: "content policy"}},
	}}
	p, sink := startPublisher(t, prov, testTiming)

	waitDone(t, p, time.Second)

	events := sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, model.TaskStatusFailed, last.Status)
	assert.Equal(t, model.ErrCodeTaskFailed, last.Error)
	assert.Equal(t, "content policy", last.Message)
	assertMonotonic(t, events)
}

func TestPublisher_FailureWithoutReason(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{
		{status: &provider.Status{State: provider.StatusFail}},
	}}
	p, sink := startPublisher(t, prov, testTiming)

	waitDone(t, p, time.Second)

	events := sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, model.TaskStatusFailed, last.Status)
	assert.Equal(t, msgGenerationFailed, last.Message)
}

func TestPublisher_TransientPollErrorsAreIgnored(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{
		{err: provider.Transient(503, "unavailable", nil)},
		{err: errors.New("connection reset")},
		succeeded("https://cdn.example.com/v.mp4"),
	}}
	p, sink := startPublisher(t, prov, testTiming)

	waitDone(t, p, time.Second)

	events := sink.Events()
	assert.Equal(t, model.TaskStatusCompleted, events[len(events)-1].Status)
	assert.Equal(t, 3, prov.Polls())
}

func TestPublisher_TimesOut(t *testing.T) {
	timing := testTiming
	timing.Deadline = 150 * time.Millisecond
	prov := &fakeProvider{script: []fakePoll{processing(0)}}

	started := time.Now()
	p, sink := startPublisher(t, prov, timing)

	waitDone(t, p, time.Second)
	elapsed := time.Since(started)

	events := sink.Events()
	last := events[len(events)-1]
	assert.Equal(t, model.TaskStatusTimedOut, last.Status)
	assert.Equal(t, model.ErrCodeTimeout, last.Error)
	assert.Equal(t, msgTimedOut, last.Message)
	assert.GreaterOrEqual(t, elapsed, timing.Deadline)
	assert.LessOrEqual(t, last.Progress, progressCeiling)
	assertMonotonic(t, events)
}

func TestPublisher_TimesOutDuringSubmit(t *testing.T) {
	timing := testTiming
	timing.Deadline = 50 * time.Millisecond
	prov := &fakeProvider{submitDelay: time.Second}

	p, sink := startPublisher(t, prov, timing)
	waitDone(t, p, time.Second)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, model.TaskStatusTimedOut, events[1].Status)
}

func TestPublisher_CancelStopsEvents(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{processing(10)}}
	p, sink := startPublisher(t, prov, testTiming)

	require.Eventually(t, func() bool {
		return p.Snapshot().Status == model.TaskStatusProcessing
	}, time.Second, 5*time.Millisecond)

	assert.True(t, p.Cancel())
	waitDone(t, p, time.Second)

	count := len(sink.Events())
	polls := prov.Polls()
	time.Sleep(2 * testTiming.PollInterval)

	assert.Len(t, sink.Events(), count, "no events after cancel")
	// a poll already in flight may still land
	assert.LessOrEqual(t, prov.Polls(), polls+1, "no new polls after cancel")
	assert.Equal(t, []string{"task-1"}, sink.Closed())
	for _, ev := range sink.Events() {
		assert.NotEqual(t, model.TaskStatusCancelled, ev.Status)
	}
	assert.Equal(t, model.TaskStatusCancelled, p.Snapshot().Status)
	assert.False(t, p.Cancel(), "second cancel is a no-op")
}

func TestPublisher_CancelDuringSubmit(t *testing.T) {
	prov := &fakeProvider{submitDelay: time.Second}
	p, sink := startPublisher(t, prov, testTiming)

	assert.True(t, p.Cancel())
	waitDone(t, p, time.Second)

	assert.Equal(t, model.TaskStatusCancelled, p.Snapshot().Status)
	require.Len(t, sink.Events(), 1)
	assert.Equal(t, model.TaskStatusQueued, sink.Events()[0].Status)
}

func TestPublisher_CancelAfterCompletion(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{succeeded("https://cdn.example.com/v.mp4")}}
	p, sink := startPublisher(t, prov, testTiming)

	waitDone(t, p, time.Second)
	assert.False(t, p.Cancel())
	assert.Empty(t, sink.Closed())
	assert.Equal(t, model.TaskStatusCompleted, p.Snapshot().Status)
}

func TestPublisher_ApplyRules(t *testing.T) {
	sink := &recordingSink{}
	p := newPublisher(context.Background(), "task-2", videoRequest(), &fakeProvider{}, sink, testTiming, zerolog.Nop())

	assert.True(t, p.apply(proposal{status: model.TaskStatusProcessing}))
	assert.Equal(t, 0, p.Snapshot().Progress)

	assert.True(t, p.apply(proposal{status: model.TaskStatusProcessing, advance: 5}))
	assert.Equal(t, 5, p.Snapshot().Progress)

	// provider reports less than the synthetic progress
	assert.True(t, p.apply(proposal{status: model.TaskStatusProcessing, advance: 2, reported: 3}))
	assert.Equal(t, 7, p.Snapshot().Progress)

	assert.True(t, p.apply(proposal{status: model.TaskStatusProcessing, reported: 500}))
	assert.Equal(t, progressCeiling, p.Snapshot().Progress)

	// at the ceiling nothing changes and nothing is emitted
	before := len(sink.Events())
	assert.False(t, p.apply(proposal{status: model.TaskStatusProcessing, advance: 4}))
	assert.Len(t, sink.Events(), before)

	assert.True(t, p.apply(proposal{status: model.TaskStatusCompleted, url: "u", meta: map[string]string{"prompt": "p"}}))
	assert.Equal(t, 100, p.Snapshot().Progress)

	assert.False(t, p.apply(proposal{status: model.TaskStatusFailed}))
	assert.False(t, p.apply(proposal{status: model.TaskStatusProcessing, advance: 1}))

	snap := p.Snapshot()
	snap.Meta["prompt"] = "changed"
	assert.Equal(t, "p", p.Snapshot().Meta["prompt"])

	p.cancel()
}
