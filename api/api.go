// Package api holds the JSON documents exchanged between the server and the client.
package api

import (
	"fmt"
	"time"

	"github.com/gammadia/gpumux/inventory"
	"github.com/gammadia/gpumux/scheduler"
	"github.com/samber/lo"
)

const DefaultPort = 3390

type Status struct {
	Server    string               `json:"server" yaml:"server"`
	Version   string               `json:"version" yaml:"version"`
	StartedAt time.Time            `json:"started_at" yaml:"started_at"`
	JobThread bool                 `json:"job_thread" yaml:"job_thread"`
	TickedAt  time.Time            `json:"ticked_at" yaml:"ticked_at"`
	Resources []inventory.Resource `json:"resources" yaml:"resources"`
	Host      *Host                `json:"host,omitempty" yaml:"host,omitempty"`
	Stats     Counters             `json:"stats" yaml:"stats"`
	Running   []Job                `json:"running" yaml:"running"`
	Completed []Job                `json:"completed" yaml:"completed"`
	Pending   string               `json:"pending" yaml:"pending"`
}

type Host struct {
	Load1           float64 `json:"load1" yaml:"load1"`
	MemUsedPercent  float64 `json:"mem_used_percent" yaml:"mem_used_percent"`
	DiskUsedPercent float64 `json:"disk_used_percent" yaml:"disk_used_percent"`
}

// Counters are totals since the server started.
type Counters struct {
	Started      int `json:"started" yaml:"started"`
	Respawned    int `json:"respawned" yaml:"respawned"`
	Completed    int `json:"completed" yaml:"completed"`
	Failed       int `json:"failed" yaml:"failed"`
	QueueUpdates int `json:"queue_updates" yaml:"queue_updates"`
}

type Job struct {
	ID       int    `json:"id" yaml:"id"`
	Resource *int   `json:"resource" yaml:"resource"`
	Command  string `json:"command" yaml:"command"`
	Status   *int   `json:"status" yaml:"status"`
	Elapsed  string `json:"elapsed" yaml:"elapsed"`
	Seconds  int64  `json:"elapsed_seconds" yaml:"elapsed_seconds"`
}

func NewJob(view scheduler.JobView) Job {
	return Job{
		ID:       view.ID,
		Resource: view.Resource,
		Command:  view.Command,
		Status:   view.Status,
		Elapsed:  FormatDuration(view.Elapsed),
		Seconds:  int64(view.Elapsed.Seconds()),
	}
}

func NewJobs(views []scheduler.JobView) []Job {
	return lo.Map(views, func(view scheduler.JobView, _ int) Job {
		return NewJob(view)
	})
}

type UpdateQueueRequest struct {
	Pending string `json:"pending"`
}

type AppendQueueRequest struct {
	Commands []string `json:"commands"`
}

type Response struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func FormatDuration(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
