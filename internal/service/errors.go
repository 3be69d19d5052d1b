package service

import "errors"

var (
	// ErrUnknownQueueType is returned when a caller names a queue type the router does not serve
	ErrUnknownQueueType = errors.New("unknown queue type")

	// ErrEntryNotAssigned is returned by skip/complete when the entry is missing or not assigned
	ErrEntryNotAssigned = errors.New("queue entry is not assigned")

	// ErrDequeueDisabled is returned while the migration phase does not serve agents
	ErrDequeueDisabled = errors.New("dequeue is disabled in the current migration phase")

	// ErrAlreadyRunning is returned when a batch job is invoked while a previous run is in flight
	ErrAlreadyRunning = errors.New("job is already running")
)
