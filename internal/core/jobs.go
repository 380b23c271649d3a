package core

import (
	"context"
)

// JobDispatcher accepts review requests and queues them for background
// processing. Dispatch returns an error when the request cannot be queued.
type JobDispatcher interface {
	Dispatch(ctx context.Context, req *ReviewRequest) error
}

// Job runs one review request to completion.
type Job interface {
	Run(ctx context.Context, req *ReviewRequest) error
}
