package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchliner/api/internal/hub"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/provider"
)

func setupManager(t *testing.T, prov provider.Provider, retention time.Duration) (*Manager, *hub.Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	h := hub.New(zerolog.Nop(), m)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	mgr := NewManager(provider.Registry{model.KindVideo: prov}, h, Options{
		Timing:    testTiming,
		Retention: retention,
	}, zerolog.Nop(), m)

	t.Cleanup(func() {
		mgr.Close()
		cancel()
	})
	return mgr, h, m
}

func collect(t *testing.T, c *hub.Client, within time.Duration) []model.Event {
	t.Helper()
	var events []model.Event
	timeout := time.After(within)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream not closed within %s", within)
		}
	}
}

func TestManager_LaunchStreamsToCompletion(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{processing(30), succeeded("https://cdn.example.com/v.mp4")}}
	mgr, _, _ := setupManager(t, prov, time.Minute)

	client, err := mgr.Launch(context.Background(), videoRequest())
	require.NoError(t, err)

	events := collect(t, client, time.Second)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, model.TaskStatusCompleted, last.Status)
	assert.Equal(t, "https://cdn.example.com/v.mp4", last.ResultURL)
	assertMonotonic(t, events)

	state, err := mgr.Snapshot(client.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, state.Status)
}

func TestManager_UnsupportedKind(t *testing.T) {
	mgr, _, _ := setupManager(t, &fakeProvider{}, time.Minute)

	req := model.NewGenerationRequest(model.KindImage, map[string]string{model.ParamContent: "x"})
	_, err := mgr.Create(req)
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestManager_TaskIDsAreUnique(t *testing.T) {
	mgr, _, _ := setupManager(t, &fakeProvider{submitDelay: time.Second}, time.Minute)

	a, err := mgr.Create(videoRequest())
	require.NoError(t, err)
	b, err := mgr.Create(videoRequest())
	require.NoError(t, err)

	assert.NotEqual(t, a.TaskID, b.TaskID)
	assert.Equal(t, model.TaskStatusQueued, a.Status)
	assert.Equal(t, 2, mgr.Active())
}

func TestManager_Cancel(t *testing.T) {
	mgr, _, m := setupManager(t, &fakeProvider{script: []fakePoll{processing(10)}}, time.Minute)

	client, err := mgr.Launch(context.Background(), videoRequest())
	require.NoError(t, err)

	state, err := mgr.Cancel(client.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, state.Status)

	for _, ev := range collect(t, client, time.Second) {
		assert.NotEqual(t, model.TaskStatusCancelled, ev.Status)
	}

	_, err = mgr.Cancel(client.TaskID)
	assert.ErrorIs(t, err, ErrTaskFinished)

	_, err = mgr.Cancel("missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	n, err := testutil.GatherAndCount(m.Registry(), "punchliner_tasks_finished_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_CompletionHooks(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{succeeded("https://cdn.example.com/v.mp4")}}
	mgr, _, _ := setupManager(t, prov, time.Minute)

	var (
		mu    sync.Mutex
		calls []model.TaskState
	)
	mgr.OnTerminal(func(req model.GenerationRequest, state model.TaskState) {
		mu.Lock()
		calls = append(calls, state)
		mu.Unlock()
		assert.Equal(t, model.KindVideo, req.Kind)
	})

	client, err := mgr.Launch(context.Background(), videoRequest())
	require.NoError(t, err)
	collect(t, client, time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, model.TaskStatusCompleted, calls[0].Status)
	mu.Unlock()
}

func TestManager_RetentionForgetsFinishedTasks(t *testing.T) {
	prov := &fakeProvider{script: []fakePoll{succeeded("https://cdn.example.com/v.mp4")}}
	mgr, h, _ := setupManager(t, prov, 50*time.Millisecond)

	client, err := mgr.Launch(context.Background(), videoRequest())
	require.NoError(t, err)
	collect(t, client, time.Second)

	require.Eventually(t, func() bool {
		_, err := mgr.Snapshot(client.TaskID)
		return errors.Is(err, ErrTaskNotFound)
	}, time.Second, 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// the hub no longer replays the terminal event
	late := h.Subscribe(client.TaskID)
	defer late.Close()
	select {
	case ev := <-late.Events():
		t.Fatalf("unexpected replay %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_CloseCancelsRunningTasks(t *testing.T) {
	mgr, _, _ := setupManager(t, &fakeProvider{script: []fakePoll{processing(5)}}, time.Minute)

	state, err := mgr.Create(videoRequest())
	require.NoError(t, err)

	mgr.Close()

	snap, err := mgr.Snapshot(state.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCancelled, snap.Status)

	_, err = mgr.Create(videoRequest())
	assert.ErrorIs(t, err, ErrManagerClosed)
}
