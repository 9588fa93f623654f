package task

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/hub"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/provider"
)

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskFinished    = errors.New("task already finished")
	ErrUnsupportedKind = errors.New("no provider for generation kind")
	ErrManagerClosed   = errors.New("task manager closed")
)

// CompletionHook is called once per task when it reaches a terminal state
type CompletionHook func(req model.GenerationRequest, state model.TaskState)

// Options configures a Manager
type Options struct {
	Timing Timing
	// Retention keeps finished tasks queryable for a while
	Retention time.Duration
}

// Manager is the registry of running publishers. There is exactly one
// publisher per task id.
type Manager struct {
	providers provider.Registry
	hub       *hub.Hub
	opts      Options
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	tasks  map[string]*Publisher
	hooks  []CompletionHook
	closed bool
}

// NewManager creates a manager publishing through h
func NewManager(providers provider.Registry, h *hub.Hub, opts Options, logger zerolog.Logger, m *metrics.Metrics) *Manager {
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		providers: providers,
		hub:       h,
		opts:      opts,
		logger:    logger.With().Str("component", "tasks").Logger(),
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		tasks:     make(map[string]*Publisher),
	}
}

// OnTerminal registers a hook run for every finished task
func (m *Manager) OnTerminal(hook CompletionHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// Create starts a task for req and returns its initial snapshot. The task
// outlives the caller's context; stop it with Cancel.
func (m *Manager) Create(req model.GenerationRequest) (model.TaskState, error) {
	prov, ok := m.providers.For(req.Kind)
	if !ok {
		return model.TaskState{}, ErrUnsupportedKind
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return model.TaskState{}, ErrManagerClosed
	}
	id := uuid.New().String()
	pub := newPublisher(m.ctx, id, req, prov, m.hub, m.opts.Timing, m.logger)
	pub.onTerminal = func(state model.TaskState) {
		m.finish(pub, state)
	}
	m.tasks[id] = pub
	m.wg.Add(1)
	m.mu.Unlock()

	m.metrics.TaskStarted(string(req.Kind))
	m.logger.Info().Str("taskId", id).Str("kind", string(req.Kind)).Str("fingerprint", req.Fingerprint).Msg("task created")

	pub.start()
	go func() {
		<-pub.Done()
		m.wg.Done()
	}()

	return pub.Snapshot(), nil
}

// Launch creates a task and subscribes to its events
func (m *Manager) Launch(_ context.Context, req model.GenerationRequest) (*hub.Client, error) {
	state, err := m.Create(req)
	if err != nil {
		return nil, err
	}
	return m.hub.Subscribe(state.TaskID), nil
}

// Snapshot returns the current state of a task
func (m *Manager) Snapshot(taskID string) (model.TaskState, error) {
	m.mu.RLock()
	pub, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return model.TaskState{}, ErrTaskNotFound
	}
	return pub.Snapshot(), nil
}

// Cancel stops a running task
func (m *Manager) Cancel(taskID string) (model.TaskState, error) {
	m.mu.RLock()
	pub, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return model.TaskState{}, ErrTaskNotFound
	}
	if !pub.Cancel() {
		return pub.Snapshot(), ErrTaskFinished
	}
	return pub.Snapshot(), nil
}

// Active returns the number of tasks that have not finished
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, pub := range m.tasks {
		if !pub.Snapshot().Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Close cancels every task and waits for their loops to exit
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pubs := make([]*Publisher, 0, len(m.tasks))
	for _, pub := range m.tasks {
		pubs = append(pubs, pub)
	}
	m.mu.Unlock()

	for _, pub := range pubs {
		pub.Cancel()
	}
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) finish(pub *Publisher, state model.TaskState) {
	m.metrics.TaskFinished(string(state.Kind), string(state.Status))

	m.mu.RLock()
	hooks := append([]CompletionHook(nil), m.hooks...)
	m.mu.RUnlock()

	for _, hook := range hooks {
		hook(pub.Request(), state)
	}

	time.AfterFunc(m.opts.Retention, func() {
		m.mu.Lock()
		delete(m.tasks, state.TaskID)
		m.mu.Unlock()
		m.hub.Forget(state.TaskID)
	})
}
