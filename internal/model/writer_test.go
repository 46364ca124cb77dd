package model

import (
	"testing"
	"time"
)

func TestSnapshotName_UTC(t *testing.T) {
	local := time.Date(2024, 1, 2, 11, 4, 5, 0, time.FixedZone("UTC+8", 8*3600))

	name := SnapshotName(local)
	if name != "2024-01-02_03-04-05" {
		t.Fatalf("Expected the name in UTC, got %q", name)
	}
	parsed, err := ParseSnapshotName(name)
	if err != nil {
		t.Fatalf("ParseSnapshotName failed: %v", err)
	}
	if !parsed.Equal(local) {
		t.Errorf("Expected %s, got %s", local, parsed)
	}
	if _, err := ParseSnapshotName("2024-01-02 03:04:05"); err == nil {
		t.Errorf("Expected an error for a malformed name")
	}
}
