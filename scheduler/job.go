package scheduler

import (
	"os"
	"time"
)

type Phase string

const (
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
)

// Job is a durable job record. Fields are nil when the matching file is missing on disk.
type Job struct {
	ID       int
	Resource *int
	Command  *string
	Status   *int

	StartedAt time.Time
	EndedAt   time.Time
}

func (j *Job) Completed() bool {
	return j.Status != nil
}

// Elapsed returns the wall time spent by the job, up to now if it has not ended yet.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	if !j.EndedAt.IsZero() {
		return j.EndedAt.Sub(j.StartedAt)
	}
	return now.Sub(j.StartedAt)
}

// JobView is the reporting representation of a job.
type JobView struct {
	ID       int           `json:"id"`
	Resource *int          `json:"resource"`
	Command  string        `json:"command"`
	Status   *int          `json:"status"`
	Elapsed  time.Duration `json:"elapsed"`
}

func (j *Job) View(now time.Time) JobView {
	view := JobView{
		ID:       j.ID,
		Resource: j.Resource,
		Status:   j.Status,
		Elapsed:  j.Elapsed(now).Truncate(time.Second),
	}
	if j.Command != nil {
		view.Command = *j.Command
	}
	return view
}

// Artifact is a supervisor control file stored next to the job record.
type Artifact struct {
	Suffix string
	Data   []byte
	Mode   os.FileMode
}
