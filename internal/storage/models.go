package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Backend names recorded on receipts.
const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// Receipt records which backend accepted one logical write. Pending
// receipts mark local copies that have not been pushed to the remote
// store yet.
type Receipt struct {
	Seq          int64
	Collection   string
	DocID        string
	Op           string // "create" or "update"
	Backend      string
	Pending      bool
	DocUpdatedAt string // last_updated of the written document, if any
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

type Job struct {
	ID          string
	Type        string
	LectureID   string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
