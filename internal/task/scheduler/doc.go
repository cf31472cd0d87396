// Package scheduler owns cron triggers. Jobs are registered in named groups
// so a caller can swap a whole group at once; firing only enqueues a task
// into the engine, execution happens there.
package scheduler
