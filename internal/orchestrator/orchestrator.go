// Package orchestrator resolves generation requests to artifact URLs,
// serving from the artifact cache when it can and launching tasks when it
// cannot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/punchliner/api/internal/cache"
	"github.com/punchliner/api/internal/metrics"
	"github.com/punchliner/api/internal/model"
)

// ErrStreamClosed is returned when a task's event stream ends without a
// terminal event, which happens when the task was cancelled.
var ErrStreamClosed = errors.New("event stream closed before the task finished")

// ErrNoCache is returned by Remember for kinds without a configured cache
var ErrNoCache = errors.New("no artifact cache for kind")

// TaskError is a fatal task outcome delivered as the terminal event
type TaskError struct {
	TaskID  string
	Status  model.TaskStatus
	Code    string
	Message string
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s %s: %s: %s", e.TaskID, e.Status, e.Code, e.Message)
}

// Stream is a subscription to one task's events. The channel closes after
// the terminal event.
type Stream interface {
	Events() <-chan model.Event
	Close()
}

// Launcher starts a task for a request and subscribes to it
type Launcher interface {
	Launch(ctx context.Context, req model.GenerationRequest) (Stream, error)
}

// LauncherFunc adapts a function to Launcher
type LauncherFunc func(ctx context.Context, req model.GenerationRequest) (Stream, error)

func (f LauncherFunc) Launch(ctx context.Context, req model.GenerationRequest) (Stream, error) {
	return f(ctx, req)
}

// Observer sees every event of a request, including the synthetic one of a
// cache hit. It may be nil.
type Observer func(ev model.Event)

// Result is a resolved artifact
type Result struct {
	TaskID string            `json:"taskId,omitempty"`
	URL    string            `json:"url"`
	Cached bool              `json:"cached"`
	Meta   map[string]string `json:"meta,omitempty"`
}

type Orchestrator struct {
	caches   map[model.Kind]cache.ArtifactCache
	launcher Launcher
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

func New(caches map[model.Kind]cache.ArtifactCache, launcher Launcher, logger zerolog.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		caches:   caches,
		launcher: launcher,
		logger:   logger.With().Str("component", "orchestrator").Logger(),
		metrics:  m,
	}
}

// Lookup returns the cached artifact for req, if any
func (o *Orchestrator) Lookup(ctx context.Context, req model.GenerationRequest) (model.CacheEntry, bool) {
	c, ok := o.caches[req.Kind]
	if !ok {
		return model.CacheEntry{}, false
	}
	entry, hit := c.GetEntry(ctx, req.Fingerprint)
	o.metrics.CacheLookup(string(req.Kind), hit)
	return entry, hit
}

// RequestArtifact resolves req from the cache, or launches a task and
// follows it to its terminal event. A completed artifact is cached.
func (o *Orchestrator) RequestArtifact(ctx context.Context, req model.GenerationRequest, observe Observer) (*Result, error) {
	if entry, ok := o.Lookup(ctx, req); ok {
		o.logger.Debug().Str("fingerprint", req.Fingerprint).Str("kind", string(req.Kind)).Msg("cache hit")
		if observe != nil {
			observe(model.Event{
				Progress:  100,
				Status:    model.TaskStatusCompleted,
				ResultURL: entry.ArtifactURL,
				Cached:    true,
				Meta:      entry.Meta,
			})
		}
		return &Result{URL: entry.ArtifactURL, Cached: true, Meta: entry.Meta}, nil
	}
	return o.launch(ctx, req, observe)
}

// Retry launches a fresh task for req without consulting the cache
func (o *Orchestrator) Retry(ctx context.Context, req model.GenerationRequest, observe Observer) (*Result, error) {
	return o.launch(ctx, req, observe)
}

// Remember stores a finished artifact and its metadata for req
func (o *Orchestrator) Remember(ctx context.Context, req model.GenerationRequest, url string, meta map[string]string) error {
	c, ok := o.caches[req.Kind]
	if !ok {
		return ErrNoCache
	}
	c.PutEntry(ctx, model.CacheEntry{Fingerprint: req.Fingerprint, ArtifactURL: url, Meta: meta})
	return nil
}

func (o *Orchestrator) launch(ctx context.Context, req model.GenerationRequest, observe Observer) (*Result, error) {
	stream, err := o.launcher.Launch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("launch %s task: %w", req.Kind, err)
	}
	defer stream.Close()

	var taskID string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case ev, ok := <-stream.Events():
			if !ok {
				return nil, ErrStreamClosed
			}
			taskID = ev.TaskID
			if observe != nil {
				observe(ev)
			}

			switch ev.Status {
			case model.TaskStatusCompleted:
				if err := o.Remember(ctx, req, ev.ResultURL, ev.Meta); err != nil {
					o.logger.Warn().Err(err).Str("kind", string(req.Kind)).Msg("artifact not cached")
				}
				return &Result{TaskID: taskID, URL: ev.ResultURL, Meta: ev.Meta}, nil

			case model.TaskStatusFailed, model.TaskStatusTimedOut:
				return nil, &TaskError{TaskID: taskID, Status: ev.Status, Code: ev.Error, Message: ev.Message}
			}
		}
	}
}
