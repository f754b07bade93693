package queues

import "errors"

// Queue errors.
var (
	ErrMessageNotFound = errors.New("message not found")
	ErrQueueClosed     = errors.New("queue is closed")
	ErrInvalidMessage  = errors.New("invalid message")
)
