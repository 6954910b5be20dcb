// Package sensor implements the keys-unchanged sensor.
//
// The sensor watches a bucket/prefix and reports success once the set of
// object keys observed there has stopped changing for an inactivity window.
//
// ARCHITECTURE:
//
// Tracker holds the stability state: the previous key set, the time of the
// last observed change, and the inactivity accumulated since. Each Evaluate
// call compares a fresh key set against the previous one:
//
//  1. First call records the baseline and returns false.
//  2. Missing keys with AllowDelete=false fail with ILLEGAL_STATE.
//     This check runs before the changed/unchanged comparison.
//  3. Any change resets the inactivity timer and returns false.
//  4. An unchanged set accumulates inactivity. Success needs both
//     inactivity >= InactivityPeriod and len(keys) >= MinObjects.
//
// KeysUnchangedSensor wraps a Tracker with a Lister (the storage layer) and
// exposes the two callbacks a host scheduler drives: Poke for periodic
// polling and ExecuteComplete for deferred completion.
//
// State is owned by a single sensor instance and mutated by one poke at a
// time. The host must not call Poke concurrently on the same sensor. State is
// never persisted; a restarted sensor starts from a fresh baseline, which is
// why reschedule mode is rejected at construction.
//
// SOFT FAIL:
//
// With SoftFail=true, ILLEGAL_STATE and EXTERNAL_EVENT failures are wrapped in
// SkipError so the host records a skip instead of a failure. Configuration
// errors are never degraded.
package sensor
