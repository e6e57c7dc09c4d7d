package model

import (
	"errors"
	"time"
)

// TimestampLayout is the format used for every human-readable timestamp the agent
// persists or logs. It matches the format the companion tooling writes into
// meta.json files, so existing job directories stay readable.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	ErrorNotFound    = errors.New("job not found")
	ErrorExists      = errors.New("job already exists")
	ErrorInvalidName = errors.New("invalid job name")
)

// Job is a registered automation unit: a name, the on-disk locations of its
// encrypted configuration and key material, and its run metadata. Jobs are owned
// exclusively by the registry; the scheduler only ever holds the name.
type Job struct {
	Name    string      `json:"name"`
	EncPath string      `json:"-"`
	KeyPath string      `json:"-"`
	Meta    RunMetadata `json:"meta"`
}

// RunMetadata is the durable per-job bookkeeping record, persisted as meta.json
// inside the job's directory. Field names on the wire are kept compatible with
// the documents produced by the configuration tooling.
type RunMetadata struct {
	Active         bool   `json:"activo"`
	Description    string `json:"descripcion"`
	CreatedAt      string `json:"creacion"`
	ExecutionCount int    `json:"ejecuciones"`
	LastRunAt      string `json:"ultima_ejecucion,omitempty"`
}

// DefaultMetadata returns the metadata a job gets when none is stored or the
// stored document is unreadable.
func DefaultMetadata(now time.Time) RunMetadata {
	return RunMetadata{
		Active:         false,
		Description:    "",
		CreatedAt:      now.Format(TimestampLayout),
		ExecutionCount: 0,
	}
}
