// Package engine schedules inference tasks onto a bounded worker pool.
//
// Submissions are validated and quota-checked at admission, persisted as
// pending tasks, and queued in strict priority classes with FIFO order
// inside each class. Workers pull the highest-priority eligible job: the
// owner must be under its concurrency limit, a global execution slot must
// be free, and the target model must not be in a load-failure cooldown.
// Transient failures re-enqueue the same job within a bounded attempt
// budget; input defects fail immediately. A watchdog cancels executions
// whose heartbeat goes stale so a wedged runner can never strand its slot.
package engine
