// Package recorder persists runner results without blocking the runner.
//
// Writes are queued on a single-worker pool, so results for a session reach
// the store in the order the runner produced them. Each write is retried
// with exponential backoff. A write that still fails, or that finds the
// queue full, is logged and published as a persistence_failed event; the
// runner's in-memory state is never affected.
//
//	rec := recorder.New(st, cfg.Recorder, recorder.WithEventBus(bus))
//	defer rec.Close()
//
//	r := runner.New(id, steps, runner.WithRecorder(rec))
package recorder
