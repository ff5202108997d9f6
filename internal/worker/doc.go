// Package worker provides a goroutine pool for background job execution.
//
// The Pool manages a fixed number of worker goroutines that process jobs
// from a bounded queue. The recorder runs it with a single worker so that
// persistence writes for a session are applied in the order they were made.
//
// # Basic Usage
//
//	pool := worker.NewPool(1)
//	pool.Start(ctx)
//	defer pool.Stop()
//
//	if !pool.Submit(func() { /* write */ }) {
//	    // queue full or pool stopping
//	}
//
// # Configuration
//
//	config := worker.PoolConfig{
//	    NumWorkers: 1,
//	    QueueSize:  256,
//	}
//	pool := worker.NewPoolWithConfig(config)
//
// # Submission
//
// Submit never blocks: it returns false when the queue is full or the pool
// is stopping. SubmitWait blocks until there is room or the context passed
// to Start is cancelled.
//
// # Graceful Shutdown
//
// Stop closes the queue and waits until every accepted job has run.
// Cancelling the context passed to Start abandons queued jobs instead.
package worker
