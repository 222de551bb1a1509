package main

import (
	"context"
	"sync"
	"time"

	"github.com/gammadia/gpumux/api"
	schedulerpkg "github.com/gammadia/gpumux/scheduler"
	"github.com/gammadia/gpumux/server/log"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// counters are reconstructed from the scheduler event stream by listenEvents.
var counters api.Counters
var countersMutex sync.RWMutex

// listenEvents runs as a dedicated goroutine (started in main.go), logging job lifecycle events and
// keeping the counters up to date. It exits when the subscription is closed.
func listenEvents(c <-chan schedulerpkg.Event) {
	for event := range c {
		countersMutex.Lock()

		switch event := event.(type) {
		case schedulerpkg.EventQueueReplaced:
			counters.QueueUpdates++
			log.Debug("Pending queue replaced", "size", len(event.Pending))
		case schedulerpkg.EventQueueAppended:
			counters.QueueUpdates++
			log.Debug("Commands appended", "commands", event.Commands)
		case schedulerpkg.EventJobStarted:
			counters.Started++
		case schedulerpkg.EventJobRespawned:
			counters.Respawned++
			log.Warn("Job respawned after losing its session", "job", event.Job, "resource", event.Resource)
		case schedulerpkg.EventJobCompleted:
			counters.Completed++
			if event.Status != 0 {
				counters.Failed++
			}
		}

		countersMutex.Unlock()
	}
}

// buildStatus assembles the status document from the last scheduler snapshot.
func (s *httpServer) buildStatus(ctx context.Context) api.Status {
	snapshot := s.scheduler.Snapshot()

	countersMutex.RLock()
	stats := counters
	countersMutex.RUnlock()

	return api.Status{
		Server:    s.name,
		Version:   version,
		StartedAt: s.startedAt,
		JobThread: s.scheduler.Running(),
		TickedAt:  snapshot.TickedAt,
		Resources: s.pool.Resources(),
		Host:      hostStatus(ctx, s.dataRoot),
		Stats:     stats,
		Running:   api.NewJobs(snapshot.Running),
		Completed: api.NewJobs(snapshot.Completed),
		Pending:   schedulerpkg.FormatQueue(snapshot.Pending),
	}
}

// hostStatus samples the load of the machine. Metrics that cannot be read are left at zero.
func hostStatus(ctx context.Context, dataRoot string) *api.Host {
	ctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	var host api.Host
	if avg, err := load.AvgWithContext(ctx); err == nil {
		host.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		host.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, dataRoot); err == nil {
		host.DiskUsedPercent = du.UsedPercent
	}
	return &host
}
