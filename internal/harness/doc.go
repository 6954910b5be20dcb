// Package harness runs scripted key-set scenarios against the sensor.
//
// A scenario is a YAML file describing sensor options and a sequence of
// steps. Each step moves a fake clock forward, replaces the bucket contents
// and pokes, or delivers a deferred completion event. Expectations on a step
// are checked against what the sensor actually returned.
//
// # Scenario Format
//
//	name: settles_after_quiet_period
//	description: "Keys stop arriving and the sensor succeeds"
//	options:
//	  bucket: landing
//	  prefix: exports/
//	  inactivity_period: 20s
//	  min_objects: 1
//	steps:
//	  - keys: [exports/a.csv]
//	    expect: { result: accumulating, inactivity_seconds: 0 }
//	  - advance: 20s
//	    keys: [exports/a.csv]
//	    expect: { result: stable, inactivity_seconds: 20 }
//	  - event: { status: error, message: "upstream failed" }
//	    expect: { result: failed, error: "upstream failed" }
//
// # Golden Files
//
// RunWithGolden serializes the trace as canonical JSON and compares it with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
