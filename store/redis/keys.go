package redis

// Redis key naming conventions for steward data.
// All keys are prefixed with "steward:" to avoid collisions.

const keyPrefix = "steward:"

// ── Job keys ──

// jobKey returns the key for a job record: steward:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobStateIdx returns the Set indexing jobs by state: steward:jobs:{state}
func jobStateIdx(state string) string { return keyPrefix + "jobs:" + state }

// ── Attempt keys ──

// attemptKey returns the key for an attempt record: steward:attempt:{id}
func attemptKey(id string) string { return keyPrefix + "attempt:" + id }

// attemptStateIdx returns the Set indexing attempts by state.
func attemptStateIdx(state string) string { return keyPrefix + "attempts:" + state }

// ── Job type keys ──

// jobTypeKey returns the key for a job type record: steward:jobtype:{name}
func jobTypeKey(name string) string { return keyPrefix + "jobtype:" + name }

// jobTypeNamesKey is the Set tracking all job type names for enumeration.
const jobTypeNamesKey = keyPrefix + "jobtype_names"

// ── Fault log keys ──

// faultKey returns the key for a fault entry: steward:fault:{id}
func faultKey(id string) string { return keyPrefix + "fault:" + id }

// faultIDsKey is the Sorted Set of fault entry IDs scored by FailedAt.
const faultIDsKey = keyPrefix + "fault_ids"
