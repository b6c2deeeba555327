// Package dispatch is the execution coordinator: it receives fire events
// from the trigger engine, admits them against the global concurrency
// budget, runs each unit of work under its timeout, retries with
// exponential backoff, and keeps per-job statistics.
//
// One runner goroutine per job drains that job's FIFO of pending fires, so
// a job never has more than one in-flight attempt and same-job fires run in
// fire-time order. The global budget is a weighted semaphore acquired per
// attempt; it is not held while waiting out a backoff delay.
package dispatch
