package model

import "time"

// Writer defines a generic interface for persisting status snapshots of the flow table.
type Writer interface {
	// Write persists one snapshot. timestamp names the snapshot; it is
	// produced by SnapshotName.
	Write(flows []FlowStatus, timestamp string) error

	// GetInterval returns the configured snapshot interval for this writer.
	GetInterval() time.Duration
}

// Publisher ships observations to an external consumer.
type Publisher interface {
	Publish(obs Observation) error
}

// SnapshotLayout is the time layout of snapshot names.
const SnapshotLayout = "2006-01-02_15-04-05"

// SnapshotName names a snapshot taken at t. Names are always in UTC.
func SnapshotName(t time.Time) string {
	return t.UTC().Format(SnapshotLayout)
}

// ParseSnapshotName returns the UTC instant a snapshot name stands for.
func ParseSnapshotName(name string) (time.Time, error) {
	return time.ParseInLocation(SnapshotLayout, name, time.UTC)
}
