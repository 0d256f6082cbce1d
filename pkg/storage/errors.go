package storage

import "errors"

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrCorrupt          = errors.New("corrupt chunk blob")
	errEmptySnapshotID  = errors.New("snapshot id is required")
)
