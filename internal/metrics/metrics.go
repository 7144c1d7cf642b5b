// Package metrics exposes exactly the two series spec.md §6 names,
// wrapping github.com/armon/go-metrics the way openbao's raft FSM and
// nomad's FSM snapshot code report theirs.
package metrics

import (
	"time"

	gometrics "github.com/armon/go-metrics"
)

// InFlightGauge reports the current number of in-flight snapshot
// installs for a partition: the gauge
// snapshot_replication_in_flight{partition}.
func InFlightGauge(partition string, n int) {
	gometrics.SetGaugeWithLabels(
		[]string{"snapshot", "replication", "in_flight"},
		float32(n),
		[]gometrics.Label{{Name: "partition", Value: partition}},
	)
}

// ObserveInstallDuration reports one completed install's duration: the
// histogram snapshot_replication_duration_ms{partition}.
func ObserveInstallDuration(partition string, d time.Duration) {
	gometrics.AddSampleWithLabels(
		[]string{"snapshot", "replication", "duration_ms"},
		float32(d.Milliseconds()),
		[]gometrics.Label{{Name: "partition", Value: partition}},
	)
}

// MeasureSince is a convenience wrapper matching the
// `defer metrics.MeasureSince(...)` idiom used throughout the
// hashicorp/raft ecosystem (e.g. nomad's fsm/snapshot.go Persist).
func MeasureSince(key []string, start time.Time) {
	gometrics.MeasureSince(key, start)
}
