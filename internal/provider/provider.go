// Package provider defines the contract between the task publisher and the
// external generation services.
package provider

import (
	"context"

	"github.com/punchliner/api/internal/model"
)

// RemoteStatus is the normalized status reported by a provider
type RemoteStatus string

const (
	StatusPending    RemoteStatus = "pending"
	StatusProcessing RemoteStatus = "processing"
	StatusSuccess    RemoteStatus = "success"
	StatusFail       RemoteStatus = "fail"
)

// Status is one FetchStatus observation. Progress is the provider's own
// estimate in [0,100] or 0 when it does not report one.
type Status struct {
	State     RemoteStatus
	Progress  int
	ResultURL string
	Reason    string
	Meta      map[string]string
}

// Provider submits generation jobs and reports on them.
//
// Submit makes exactly one outbound call and never retries; a refusal is a
// *Error of KindSubmissionRejected. FetchStatus is idempotent; unreachable
// providers yield KindTransient and reported failures KindTaskFailed.
type Provider interface {
	Submit(ctx context.Context, req model.GenerationRequest) (*model.TaskHandle, error)
	FetchStatus(ctx context.Context, taskID string) (*Status, error)
}

// Registry maps a generation kind to the provider serving it
type Registry map[model.Kind]Provider

// For returns the provider registered for kind
func (r Registry) For(kind model.Kind) (Provider, bool) {
	p, ok := r[kind]
	return p, ok && p != nil
}
