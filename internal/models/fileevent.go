package models

import "time"

// ChangeType enumerates file system change kinds reported by the integrity
// watcher.
type ChangeType string

const (
	ChangeCreated  ChangeType = "created"
	ChangeModified ChangeType = "modified"
	ChangeDeleted  ChangeType = "deleted"
	ChangeMoved    ChangeType = "moved"
)

// FileEvent describes a single change observed on a monitored path.
type FileEvent struct {
	Path           string
	ChangeType     ChangeType
	ChecksumBefore string
	ChecksumAfter  string
	Time           time.Time
}
