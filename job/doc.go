// Package job defines the job entity, its lifecycle state machine, the
// store interface, and the Orchestrator that drives one job from
// submission to a terminal state.
//
// # Job Entity
//
// A [Job] represents one orchestrated unit of work. It embeds
// [steward.Entity] for optimistic-concurrency versioning and progresses
// through a state machine:
//
//	Submitted → AllocatingJobSlot → StartingJobAttempt → Started → Completed
//	Submitted → AllocatingJobSlot → WaitingForSlot → AllocatingJobSlot → ...
//	Started → WaitingToRetry → AllocatingJobSlot → ...
//	Started → Faulted
//	any non-terminal → Canceled
//
// Recurring jobs loop back from Completed to Submitted with a scheduled
// start at the next cron occurrence.
//
// # Orchestrator
//
// The [Orchestrator] is a message handler: every transition is a reaction
// to exactly one bus message, guarded by the job's current state so
// duplicate and stale deliveries are no-ops. Waiting is always an armed
// timer token, never a blocked goroutine.
package job
