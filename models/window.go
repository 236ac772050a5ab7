package models

import "time"

var (
	// MinTime is the open lower bound used when no "after" date is given
	MinTime = time.Time{}
	// MaxTime is the open upper bound used when no "before" date is given
	MaxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999999, time.UTC)
)

// SyncWindow selects files by modification time, exclusive on both bounds
type SyncWindow struct {
	After  time.Time
	Before time.Time
}

// NewSyncWindow builds a window, replacing zero bounds with MinTime/MaxTime
func NewSyncWindow(after, before time.Time) SyncWindow {
	if after.IsZero() {
		after = MinTime
	}
	if before.IsZero() {
		before = MaxTime
	}
	return SyncWindow{After: after, Before: before}
}

// Contains reports whether t lies strictly between After and Before
func (w SyncWindow) Contains(t time.Time) bool {
	return t.After(w.After) && t.Before(w.Before)
}

// Filter returns the files whose modification time lies inside the window
func (w SyncWindow) Filter(files []FileInfo) []FileInfo {
	var inRange []FileInfo
	for _, file := range files {
		if w.Contains(file.ModTime) {
			inRange = append(inRange, file)
		}
	}
	return inRange
}
