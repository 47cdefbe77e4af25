// Package scheduler drives summarization for a batch. A single worker
// goroutine drains the registry's queued items in FIFO order, calls the
// summarizer with a bounded retry budget, and records the two durable
// checkpoints for every item that makes it through. Producers never block:
// enqueueing is a registry transition plus a wake signal, and the worker
// picks items up on its own schedule.
package scheduler
