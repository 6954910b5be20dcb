// Package runner drives one keys-unchanged sensor to a terminal outcome.
//
// It stands in for the host scheduler: it pokes at the configured interval,
// enforces the timeout, and in deferred mode waits on a trigger and hands the
// event to ExecuteComplete. It is not a DAG scheduler; it runs exactly one
// sensor.
//
// Every poke is reported to an optional Recorder (the SQLite poke log) and to
// optional Prometheus metrics. Each run is identified by a UUIDv7 run id.
//
// Loop (poke mode):
//  1. Poke the sensor
//  2. Record the poke and publish the snapshot
//  3. Stop on success, on a sensor error, or after too many listing errors
//  4. Stop when the timeout has elapsed (skip under SoftFail)
//  5. Sleep PokeInterval, or stop on context cancellation
package runner
