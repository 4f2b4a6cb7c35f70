// Package scheduler runs Tasks across a small fixed pool of worker
// goroutines.
//
// A Scheduler owns two FIFO queues: idle workers and pending Tasks.
// AddWork pushes a Task onto the work queue and wakes dispatch, which pairs
// queued work with idle workers one-for-one until either runs dry. A worker
// that finishes a Task returns itself to the idle queue and triggers
// another dispatch pass, so work submitted while every worker is busy runs
// as soon as one frees up rather than waiting for a fixed round.
//
// Close cancels the scheduler's context (every in-flight Task sees this via
// ctx.Done()), then blocks until every worker that was mid-Task has
// returned. It is idempotent.
//
// internal/reconciler.Agent builds its serial per-VM update queue on top of
// this with NewScheduler(1): a single worker means Tasks for the same node
// can never run concurrently, satisfying the engine's ordering requirement
// without a per-VM ordering lock (processOne only takes the engine's mutex
// to read and update shared state). A panic inside a Task is
// recovered so one bad VM update can't take down the worker pool.
package scheduler
