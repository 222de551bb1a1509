package jobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gammadia/gpumux/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessions treats a job as alive until its status file exists.
type fakeSessions struct {
	mu      sync.Mutex
	root    string
	spawned []int
}

func (f *fakeSessions) Artifacts(job *scheduler.Job) ([]scheduler.Artifact, error) {
	return []scheduler.Artifact{
		{Suffix: "sh", Data: []byte(*job.Command), Mode: 0700},
		{Suffix: "screenrc", Data: []byte(fmt.Sprintf("logfile %d.log\n", job.ID)), Mode: 0600},
	}, nil
}

func (f *fakeSessions) Spawn(ctx context.Context, job *scheduler.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spawned = append(f.spawned, job.ID)
	return nil
}

func (f *fakeSessions) IsAlive(ctx context.Context, job *scheduler.Job) (bool, error) {
	_, err := os.Stat(filepath.Join(f.root, "running", fmt.Sprintf("%d.status", job.ID)))
	return os.IsNotExist(err), nil
}

func newFileScheduler(t *testing.T, store *Store, sessions *fakeSessions, pool ...int) *scheduler.Scheduler {
	t.Helper()
	config := scheduler.DefaultConfig()
	config.Logger = silentLogger
	s, err := scheduler.New(pool, store, sessions, config)
	require.NoError(t, err)
	return s
}

func TestSchedulerOnFileStore(t *testing.T) {
	store, root := newTestStore(t)
	sessions := &fakeSessions{root: root}
	s := newFileScheduler(t, store, sessions, 0)
	ctx := context.Background()

	s.Propose("python a.py\npython b.py")
	require.NoError(t, s.Reconcile(ctx))

	assert.Equal(t, []int{1}, sessions.spawned)
	assert.Equal(t, "python b.py", readFile(t, filepath.Join(root, PendingFile)))
	assert.Equal(t, "0", readFile(t, filepath.Join(root, "running", "1.resource")))
	assert.Equal(t, "python a.py", readFile(t, filepath.Join(root, "running", "1.command")))

	// The only resource is held
	require.NoError(t, s.Reconcile(ctx))
	assert.Equal(t, []int{1}, sessions.spawned)

	writeFile(t, filepath.Join(root, "running", "1.status"), "0\n")
	require.NoError(t, s.Reconcile(ctx))

	assert.Equal(t, []int{1, 2}, sessions.spawned)
	assert.Equal(t, "", readFile(t, filepath.Join(root, PendingFile)))
	assert.ElementsMatch(t,
		[]string{"1.resource", "1.command", "1.sh", "1.screenrc", "1.status"},
		entries(t, filepath.Join(root, "completed")),
	)

	snapshot := s.Snapshot()
	require.Len(t, snapshot.Running, 1)
	assert.Equal(t, 2, snapshot.Running[0].ID)
	assert.Equal(t, "python b.py", snapshot.Running[0].Command)
	require.Len(t, snapshot.Completed, 1)
	assert.Equal(t, 0, *snapshot.Completed[0].Status)

	// A restarted server finds the same state on disk
	restarted := newFileScheduler(t, store, sessions, 0)
	require.NoError(t, restarted.Reconcile(ctx))
	assert.Equal(t, []int{1, 2}, sessions.spawned)
	assert.Len(t, restarted.Snapshot().Running, 1)
}
