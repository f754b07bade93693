package dispatch

import (
	"context"

	"github.com/otherjamesbrown/dealmemo/pkg/jobs"
	"github.com/otherjamesbrown/dealmemo/pkg/queues"
)

// QueueBackend publishes jobs on the Redis job queue.
type QueueBackend struct {
	queue queues.Queue
}

func NewQueueBackend(q queues.Queue) *QueueBackend {
	return &QueueBackend{queue: q}
}

func (b *QueueBackend) Name() string { return "queue" }

// Publish enqueues a job reference. Webhook pushes jump ahead of manual and
// pull ingests; re-dispatched jobs go behind both.
func (b *QueueBackend) Publish(ctx context.Context, job *jobs.Job) error {
	return b.queue.Enqueue(ctx, queues.JobMessage{
		JobID:    job.ID,
		UserID:   job.UserID,
		Source:   string(job.Source),
		Priority: priorityFor(job),
	})
}

func priorityFor(job *jobs.Job) queues.Priority {
	switch {
	case job.Attempts > 0:
		return queues.PriorityLow
	case job.Source == jobs.SourceFathom && job.Metadata.Content != "":
		return queues.PriorityHigh
	default:
		return queues.PriorityNormal
	}
}
