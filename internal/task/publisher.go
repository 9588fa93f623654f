// Package task runs generation tasks from submission to a terminal state.
package task

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/model"
	"github.com/punchliner/api/internal/provider"
)

const (
	// progress never reaches 100 before the provider confirms success
	progressCeiling = 95

	msgGenerationFailed = "generation failed"
	msgTimedOut         = "generation timed out"
)

// EventSink receives every event a publisher emits
type EventSink interface {
	Publish(ev model.Event)
	// Close ends the task's subscriptions without an event
	Close(taskID string)
}

// Timing controls the publisher's timers
type Timing struct {
	TickInterval time.Duration
	PollInterval time.Duration
	Deadline     time.Duration
}

// DefaultTiming is the production schedule
var DefaultTiming = Timing{
	TickInterval: time.Second,
	PollInterval: 3 * time.Second,
	Deadline:     5 * time.Minute,
}

// proposal is a requested state change. Only apply turns proposals into
// state, so every invariant is enforced in one place.
type proposal struct {
	status   model.TaskStatus
	advance  int // synthetic progress increment
	reported int // provider reported progress
	url      string
	errCode  string
	message  string
	meta     map[string]string
}

type submitResult struct {
	handle *model.TaskHandle
	err    error
}

type pollResult struct {
	status *provider.Status
	err    error
}

// Publisher owns the state of a single task
type Publisher struct {
	req      model.GenerationRequest
	provider provider.Provider
	sink     EventSink
	timing   Timing
	logger   zerolog.Logger
	advance  func() int

	createdAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}

	mu         sync.Mutex
	state      model.TaskState
	handle     *model.TaskHandle
	onTerminal func(model.TaskState)
}

func newPublisher(parent context.Context, id string, req model.GenerationRequest, p provider.Provider, sink EventSink, timing Timing, logger zerolog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(parent)
	now := time.Now()
	return &Publisher{
		req:      req,
		provider: p,
		sink:     sink,
		timing:   timing,
		logger:   logger.With().Str("taskId", id).Str("kind", string(req.Kind)).Logger(),
		advance:  func() int { return 2 + rand.IntN(4) },

		createdAt: now,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state: model.TaskState{
			TaskID:      id,
			Kind:        req.Kind,
			Status:      model.TaskStatusQueued,
			CreatedAt:   now,
			LastUpdated: now,
		},
	}
}

// start emits the queued event and launches the event loop
func (p *Publisher) start() {
	p.mu.Lock()
	p.sink.Publish(p.state.Event())
	p.mu.Unlock()

	go p.run()
}

// Snapshot returns a copy of the current state
func (p *Publisher) Snapshot() model.TaskState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyState(p.state)
}

// Request returns the request the task was created for
func (p *Publisher) Request() model.GenerationRequest {
	return p.req
}

// Handle returns the provider handle while the task is running
func (p *Publisher) Handle() *model.TaskHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handle
}

// Cancel stops the task. No event is emitted; subscribers are closed.
// It returns false when the task had already finished.
func (p *Publisher) Cancel() bool {
	ok := p.apply(proposal{status: model.TaskStatusCancelled})
	p.cancel()
	return ok
}

// Done is closed once the event loop has exited and all timers are stopped
func (p *Publisher) Done() <-chan struct{} {
	return p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	defer p.cancel()

	deadline := time.NewTimer(time.Until(p.createdAt.Add(p.timing.Deadline)))
	defer deadline.Stop()

	submitted := make(chan submitResult, 1)
	go func() {
		h, err := p.provider.Submit(p.ctx, p.req)
		submitted <- submitResult{handle: h, err: err}
	}()

	var handle *model.TaskHandle

	select {
	case <-p.ctx.Done():
		p.apply(proposal{status: model.TaskStatusCancelled})
		return
	case <-deadline.C:
		p.apply(proposal{status: model.TaskStatusTimedOut, errCode: model.ErrCodeTimeout, message: msgTimedOut})
		return
	case res := <-submitted:
		if res.err == nil && res.handle == nil {
			res.err = provider.Rejected(0, "provider returned no task handle", nil)
		}
		if res.err != nil && p.ctx.Err() != nil {
			p.apply(proposal{status: model.TaskStatusCancelled})
			return
		}
		if res.err != nil {
			p.logger.Warn().Err(res.err).Msg("submission rejected")
			p.apply(proposal{
				status:  model.TaskStatusFailed,
				errCode: model.ErrCodeSubmissionRejected,
				message: provider.Reason(res.err),
			})
			return
		}
		handle = res.handle
		p.mu.Lock()
		p.handle = handle
		p.mu.Unlock()
		p.logger.Debug().Str("providerTaskId", handle.TaskID).Msg("submitted")
		p.apply(proposal{status: model.TaskStatusProcessing})
	}

	ticker := time.NewTicker(p.timing.TickInterval)
	defer ticker.Stop()
	poller := time.NewTicker(p.timing.PollInterval)
	defer poller.Stop()

	results := make(chan pollResult, 1)
	polling := false

	for {
		select {
		case <-p.ctx.Done():
			p.apply(proposal{status: model.TaskStatusCancelled})
			return

		case <-deadline.C:
			p.apply(proposal{status: model.TaskStatusTimedOut, errCode: model.ErrCodeTimeout, message: msgTimedOut})
			return

		case <-ticker.C:
			p.apply(proposal{status: model.TaskStatusProcessing, advance: p.advance()})

		case <-poller.C:
			// one poll in flight at a time; a slow provider skips ticks
			if polling {
				continue
			}
			polling = true
			go func(id string) {
				status, err := p.provider.FetchStatus(p.ctx, id)
				results <- pollResult{status: status, err: err}
			}(handle.TaskID)

		case res := <-results:
			polling = false
			if p.reconcile(res) {
				return
			}
		}
	}
}

// reconcile folds a poll result into the state and reports whether the task
// is finished
func (p *Publisher) reconcile(res pollResult) bool {
	if res.err != nil {
		if provider.IsKind(res.err, provider.KindTaskFailed) {
			return p.fail(provider.Reason(res.err))
		}
		p.logger.Debug().Err(res.err).Msg("transient poll failure")
		return false
	}

	switch res.status.State {
	case provider.StatusSuccess:
		p.apply(proposal{
			status: model.TaskStatusCompleted,
			url:    res.status.ResultURL,
			meta:   res.status.Meta,
		})
		return true
	case provider.StatusFail:
		return p.fail(res.status.Reason)
	default:
		p.apply(proposal{status: model.TaskStatusProcessing, reported: res.status.Progress})
		return false
	}
}

func (p *Publisher) fail(reason string) bool {
	if reason == "" {
		reason = msgGenerationFailed
	}
	p.apply(proposal{status: model.TaskStatusFailed, errCode: model.ErrCodeTaskFailed, message: reason})
	return true
}

// apply performs a proposed transition if it is legal and emits the
// resulting event. Returns whether the state changed.
func (p *Publisher) apply(prop proposal) bool {
	p.mu.Lock()

	cur := p.state
	if cur.Status.IsTerminal() {
		p.mu.Unlock()
		return false
	}

	next := cur
	switch prop.status {
	case model.TaskStatusProcessing:
		progress := cur.Progress
		if cur.Status == model.TaskStatusProcessing && progress < progressCeiling {
			progress += prop.advance
		}
		if prop.reported > progress {
			progress = prop.reported
		}
		if progress > progressCeiling {
			progress = progressCeiling
		}
		if progress < cur.Progress {
			progress = cur.Progress
		}
		if cur.Status == model.TaskStatusProcessing && progress == cur.Progress {
			p.mu.Unlock()
			return false
		}
		next.Status = model.TaskStatusProcessing
		next.Progress = progress

	case model.TaskStatusCompleted:
		next.Status = model.TaskStatusCompleted
		next.Progress = 100
		next.ResultURL = prop.url
		next.Meta = prop.meta

	case model.TaskStatusFailed, model.TaskStatusTimedOut:
		next.Status = prop.status
		next.Error = prop.errCode
		next.Message = prop.message

	case model.TaskStatusCancelled:
		next.Status = model.TaskStatusCancelled

	default:
		p.mu.Unlock()
		return false
	}

	next.LastUpdated = time.Now()
	p.state = next

	if !next.Status.IsTerminal() {
		p.sink.Publish(next.Event())
		p.mu.Unlock()
		return true
	}

	p.handle = nil
	hook := p.onTerminal
	p.logger.Info().Str("status", string(next.Status)).Str("error", next.Error).
		Dur("elapsed", next.LastUpdated.Sub(next.CreatedAt)).Msg("task finished")
	snapshot := copyState(next)
	p.mu.Unlock()

	// hooks run before the terminal event so that a subscriber seeing
	// completion also sees the cached artifact
	if hook != nil {
		hook(snapshot)
	}
	if snapshot.Status == model.TaskStatusCancelled {
		p.sink.Close(snapshot.TaskID)
	} else {
		p.sink.Publish(snapshot.Event())
	}
	return true
}

func copyState(s model.TaskState) model.TaskState {
	if s.Meta != nil {
		meta := make(map[string]string, len(s.Meta))
		for k, v := range s.Meta {
			meta[k] = v
		}
		s.Meta = meta
	}
	return s
}
