package scheduler

import (
	"context"
)

// Record file suffixes, stored as <id>.<suffix>
const (
	SuffixResource = "resource"
	SuffixCommand  = "command"
	SuffixStatus   = "status"
	SuffixLog      = "log"
)

// Store persists the pending queue and the job records.
type Store interface {
	LoadPending(ctx context.Context) ([]string, error)
	SavePending(ctx context.Context, pending []string) error

	// List returns the records of a phase, ordered by id.
	List(ctx context.Context, phase Phase) ([]*Job, error)

	// Persist writes the artifacts then the record fields of a running job.
	Persist(ctx context.Context, job *Job, artifacts []Artifact) error

	// ReadStatus returns the exit code of a running job, or nil if it has not exited yet.
	ReadStatus(ctx context.Context, id int) (*int, error)

	HasArtifact(ctx context.Context, phase Phase, id int, suffix string) (bool, error)

	// Complete moves every file of a job from running to completed. It is safe to call again after a
	// partial or full move.
	Complete(ctx context.Context, id int) error
}

// Supervisor launches jobs in detached sessions.
type Supervisor interface {
	// Artifacts renders the control files needed to spawn the job.
	Artifacts(job *Job) ([]Artifact, error)

	// Spawn launches the job and returns once the session is confirmed to exist.
	Spawn(ctx context.Context, job *Job) error

	IsAlive(ctx context.Context, job *Job) (bool, error)
}
