// Package scheduler runs persisted jobs when they become due.
//
// The service owns no job state of its own. It is responsible only for:
//   - polling the job store on a fixed interval
//   - executing due jobs in ascending execution order
//   - retiring or rescheduling them once they succeed
//
// Failed executions leave the job untouched so the next poll retries it.
package scheduler
