package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammadia/gpumux/scheduler/internal"
	"github.com/gammadia/gpumux/tracing"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrEmptyPool     = errors.New("resource pool is empty")
	ErrCorruptRecord = errors.New("corrupt job record")
	ErrSpawn         = errors.New("failed to spawn job")
)

// Snapshot is the state observed at the end of a reconciliation tick.
type Snapshot struct {
	Pending   []string
	Running   []JobView
	Completed []JobView
	Resources []int
	TickedAt  time.Time
}

type Scheduler struct {
	pool       []int
	store      Store
	supervisor Supervisor
	config     Config
	logger     *slog.Logger
	mailbox    *Mailbox

	running atomic.Bool

	snapshot      Snapshot
	snapshotMutex sync.RWMutex

	listeners      []chan Event
	listenersMutex sync.RWMutex
}

// state is only ever accessed from the reconciliation loop
type state struct {
	pending   []string
	running   []*Job
	completed []*Job
}

func New(pool []int, store Store, supervisor Supervisor, config Config) (*Scheduler, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	pool = lo.Uniq(pool)
	slices.Sort(pool)

	return &Scheduler{
		pool:       pool,
		store:      store,
		supervisor: supervisor,
		config:     config,
		logger:     config.Logger,
		mailbox:    NewMailbox(),
		snapshot:   Snapshot{Resources: pool},
	}, nil
}

// Propose replaces the pending queue on the next tick. Only the last proposal before a tick is applied.
// This function is safe to call from multiple goroutines
func (s *Scheduler) Propose(text string) {
	s.mailbox.Propose(text)
}

// Enqueue appends commands to the pending queue on the next tick.
// This function is safe to call from multiple goroutines
func (s *Scheduler) Enqueue(commands ...string) {
	s.mailbox.Enqueue(commands...)
}

// Running reports whether the reconciliation loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Snapshot returns the state published by the last tick.
// This function is safe to call from multiple goroutines
func (s *Scheduler) Snapshot() Snapshot {
	s.snapshotMutex.RLock()
	defer s.snapshotMutex.RUnlock()
	return s.snapshot
}

// Run reconciles once, then on every tick or mailbox write, until ctx is cancelled or a tick fails.
// A failed tick is fatal: the state on disk needs a human to look at it.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.Info("Scheduler is running", "resources", s.pool, "tick-interval", s.config.TickInterval)

	if err := s.Reconcile(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler is stopping")
			return nil

		case <-ticker.C:
		case <-s.mailbox.Wake():
		}

		if err := s.Reconcile(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Reconcile runs a single tick. It must not be called concurrently with itself or with Run.
func (s *Scheduler) Reconcile(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.reconcile")
	defer func() { span.End(err) }()

	if err := s.applyMailbox(ctx); err != nil {
		return err
	}

	var st state
	if st.pending, err = s.store.LoadPending(ctx); err != nil {
		return fmt.Errorf("failed to load pending queue: %w", err)
	}
	if st.running, err = s.store.List(ctx, PhaseRunning); err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}

	stillRunning := make([]*Job, 0, len(st.running))
	for _, job := range st.running {
		done, err := s.reconcileJob(ctx, job)
		if err != nil {
			return err
		}
		if !done {
			stillRunning = append(stillRunning, job)
		}
	}
	st.running = stillRunning

	if st.completed, err = s.store.List(ctx, PhaseCompleted); err != nil {
		return fmt.Errorf("failed to list completed jobs: %w", err)
	}

	bound := 0
	for {
		job, err := s.trySchedule(ctx, &st)
		if err != nil {
			return err
		}
		if job == nil {
			break
		}
		bound++
	}
	span.SetAttributes(
		attribute.Int("pending", len(st.pending)),
		attribute.Int("running", len(st.running)),
		attribute.Int("bound", bound),
	)

	s.publish(&st)
	return nil
}

func (s *Scheduler) applyMailbox(ctx context.Context) error {
	replacement, appended := s.mailbox.Drain()
	if replacement == nil && len(appended) == 0 {
		return nil
	}

	previous, err := s.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending queue: %w", err)
	}

	pending := slices.Clone(previous)
	if replacement != nil {
		pending = slices.Clone(*replacement)
	}
	pending = append(pending, appended...)

	if err := s.store.SavePending(ctx, pending); err != nil {
		return fmt.Errorf("failed to save pending queue: %w", err)
	}

	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("Pending queue updated", "diff", queueDiff(previous, pending))
	}
	if replacement != nil {
		s.logger.Info("Pending queue replaced", "size", len(*replacement))
		s.broadcast(EventQueueReplaced{Pending: slices.Clone(*replacement)})
	}
	if len(appended) > 0 {
		s.logger.Info("Commands appended to the pending queue", "count", len(appended))
		s.broadcast(EventQueueAppended{Commands: appended})
	}
	return nil
}

// reconcileJob completes or respawns a running job. It returns true when the job moved to completed.
func (s *Scheduler) reconcileJob(ctx context.Context, job *Job) (bool, error) {
	if job.Status != nil {
		return true, s.complete(ctx, job)
	}

	if err := s.validateRecord(ctx, job); err != nil {
		return false, err
	}

	alive, err := s.supervisor.IsAlive(ctx, job)
	if err != nil {
		return false, fmt.Errorf("failed to check session of job %d: %w", job.ID, err)
	}
	if alive {
		return false, nil
	}

	// The session may have exited between the listing and the liveness check
	status, err := s.store.ReadStatus(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to read status of job %d: %w", job.ID, err)
	}
	if status != nil {
		job.Status = status
		return true, s.complete(ctx, job)
	}

	s.logger.Warn("Job has no live session and no status, respawning", "job", job.ID, "resource", *job.Resource)
	if err := s.persist(ctx, job); err != nil {
		return false, err
	}
	if err := s.launch(ctx, job); err != nil {
		return false, err
	}
	s.broadcast(EventJobRespawned{Job: job.ID, Resource: *job.Resource, Command: *job.Command})
	return false, nil
}

// validateRecord refuses to act on a running record that a crash left half written.
func (s *Scheduler) validateRecord(ctx context.Context, job *Job) error {
	if job.Resource == nil || job.Command == nil {
		return fmt.Errorf("%w: job %d is missing its resource or command", ErrCorruptRecord, job.ID)
	}
	if !slices.Contains(s.pool, *job.Resource) {
		s.logger.Warn("Running job holds a resource outside of the pool", "job", job.ID, "resource", *job.Resource)
	}

	artifacts, err := s.supervisor.Artifacts(job)
	if err != nil {
		return fmt.Errorf("failed to render artifacts of job %d: %w", job.ID, err)
	}
	for _, artifact := range artifacts {
		ok, err := s.store.HasArtifact(ctx, PhaseRunning, job.ID, artifact.Suffix)
		if err != nil {
			return fmt.Errorf("failed to check artifacts of job %d: %w", job.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: job %d is missing its '%s' file", ErrCorruptRecord, job.ID, artifact.Suffix)
		}
	}

	completed, err := s.store.HasArtifact(ctx, PhaseCompleted, job.ID, SuffixResource)
	if err != nil {
		return fmt.Errorf("failed to check completed jobs for job %d: %w", job.ID, err)
	}
	if completed {
		return fmt.Errorf("%w: job %d is both running and completed", ErrCorruptRecord, job.ID)
	}
	return nil
}

func (s *Scheduler) complete(ctx context.Context, job *Job) error {
	if err := s.store.Complete(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to complete job %d: %w", job.ID, err)
	}

	resource := -1
	if job.Resource != nil {
		resource = *job.Resource
	}
	s.logger.Info("Job completed", "job", job.ID, "resource", resource, "status", *job.Status)
	s.broadcast(EventJobCompleted{Job: job.ID, Resource: resource, Status: *job.Status})
	return nil
}

// trySchedule binds the head of the pending queue to the lowest free resource.
// It returns nil when the queue is empty or every resource is held.
func (s *Scheduler) trySchedule(ctx context.Context, st *state) (*Job, error) {
	if len(st.pending) == 0 {
		return nil, nil
	}

	held := lo.FilterMap(st.running, func(job *Job, _ int) (int, bool) {
		if job.Resource == nil {
			return 0, false
		}
		return *job.Resource, true
	})
	free := internal.FreeResources(s.pool, held)
	if len(free) == 0 {
		return nil, nil
	}

	ids := lo.Map(append(slices.Clone(st.running), st.completed...), func(job *Job, _ int) int {
		return job.ID
	})

	resource, command := free[0], st.pending[0]
	job := &Job{
		ID:        internal.NextID(ids),
		Resource:  &resource,
		Command:   &command,
		StartedAt: time.Now(),
	}

	// The record is on disk before the command leaves the queue, and the queue is saved before the launch:
	// a failed launch leaves a running record that the next start respawns in place.
	// A crash between the two writes runs the command twice, never zero times.
	if err := s.persist(ctx, job); err != nil {
		return nil, err
	}
	st.pending = st.pending[1:]
	st.running = append(st.running, job)
	if err := s.store.SavePending(ctx, st.pending); err != nil {
		return nil, fmt.Errorf("failed to save pending queue: %w", err)
	}

	if err := s.launch(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job started", "job", job.ID, "resource", resource, "command", command)
	s.broadcast(EventJobStarted{Job: job.ID, Resource: resource, Command: command})
	return job, nil
}

// persist writes the job record along with its control files.
func (s *Scheduler) persist(ctx context.Context, job *Job) error {
	artifacts, err := s.supervisor.Artifacts(job)
	if err != nil {
		return fmt.Errorf("failed to render artifacts of job %d: %w", job.ID, err)
	}
	if err := s.store.Persist(ctx, job, artifacts); err != nil {
		return fmt.Errorf("failed to persist job %d: %w", job.ID, err)
	}
	return nil
}

// launch starts the session of a persisted job. Failures are never retried here.
func (s *Scheduler) launch(ctx context.Context, job *Job) (err error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.launch",
		attribute.Int("job", job.ID),
		attribute.Int("resource", *job.Resource),
	)
	defer func() { span.End(err) }()

	if err := s.supervisor.Spawn(ctx, job); err != nil {
		if errors.Is(err, ErrSpawn) {
			return fmt.Errorf("job %d: %w", job.ID, err)
		}
		return fmt.Errorf("%w %d: %w", ErrSpawn, job.ID, err)
	}
	return nil
}

func (s *Scheduler) publish(st *state) {
	now := time.Now()
	view := func(job *Job, _ int) JobView {
		return job.View(now)
	}

	snapshot := Snapshot{
		Pending:   slices.Clone(st.pending),
		Running:   lo.Map(st.running, view),
		Completed: lo.Reverse(lo.Map(st.completed, view)),
		Resources: s.pool,
		TickedAt:  now,
	}

	s.snapshotMutex.Lock()
	s.snapshot = snapshot
	s.snapshotMutex.Unlock()
}

func queueDiff(previous, next []string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(FormatQueue(previous)),
		B:        difflib.SplitLines(FormatQueue(next)),
		FromFile: "pending",
		ToFile:   "pending",
		Context:  1,
	})
	if err != nil {
		return err.Error()
	}
	return diff
}
