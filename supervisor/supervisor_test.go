package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/gammadia/gpumux/scheduler"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/gosh/runner"
)

var silentLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// --- Mock shell ---

type shellResult struct {
	output string
	status int
	err    error
}

type mockShell struct {
	commands []string
	results  []shellResult
}

func (s *mockShell) Run(ctx context.Context, command string, options ...runner.Option) (string, int, error) {
	s.commands = append(s.commands, command)
	if len(s.results) == 0 {
		return "", 0, nil
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result.output, result.status, result.err
}

func newTestScreen(shell *mockShell, config Config) *Screen {
	config.Logger = silentLogger
	return NewScreen(shell, config)
}

func testJob(id, resource int, command string) *scheduler.Job {
	return &scheduler.Job{ID: id, Resource: &resource, Command: &command}
}

// --- Tests ---

func TestArtifacts(t *testing.T) {
	screen := newTestScreen(&mockShell{}, Config{WorkDir: "/home/lab/project"})

	artifacts, err := screen.Artifacts(testJob(3, 1, "python train.py --epochs 10"))
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	assert.Equal(t, SuffixScript, artifacts[0].Suffix)
	assert.Equal(t, os.FileMode(0700), artifacts[0].Mode)
	assert.Equal(t, `#!/bin/bash

pushd /home/lab/project
export CUDA_VISIBLE_DEVICES=1
export PYTHONPATH=.
python train.py --epochs 10
status=$?
popd
echo $status > 3.status
`, string(artifacts[0].Data))

	assert.Equal(t, SuffixScreenrc, artifacts[1].Suffix)
	assert.Equal(t, "logfile 3.log\n", string(artifacts[1].Data))
}

func TestArtifactsWithInterpreterAndEnv(t *testing.T) {
	screen := newTestScreen(&mockShell{}, Config{
		WorkDir:       "/home/lab/my project",
		Interpreter:   "/opt/conda/bin/python",
		VisibilityVar: "HIP_VISIBLE_DEVICES",
		Env:           map[string]string{"PYTHONPATH": "src:.", "WANDB_NOTES": "it's a test"},
	})

	artifacts, err := screen.Artifacts(testJob(12, 0, "./train.py"))
	require.NoError(t, err)
	assert.Equal(t, `#!/bin/bash

pushd '/home/lab/my project'
export HIP_VISIBLE_DEVICES=0
export PYTHONPATH=src:.
export WANDB_NOTES='it'"'"'s a test'
/opt/conda/bin/python ./train.py
status=$?
popd
echo $status > 12.status
`, string(artifacts[0].Data))
}

func TestDefaultEnvIsNotShared(t *testing.T) {
	newTestScreen(&mockShell{}, Config{Env: map[string]string{"PYTHONPATH": "src"}})
	screen := newTestScreen(&mockShell{}, Config{Env: map[string]string{"SEED": "1"}})

	assert.Equal(t, map[string]string{"PYTHONPATH": "."}, DefaultEnv)
	assert.Equal(t, map[string]string{"PYTHONPATH": ".", "SEED": "1"}, screen.config.Env)
}

func TestArtifactsRequireResource(t *testing.T) {
	screen := newTestScreen(&mockShell{}, Config{})

	_, err := screen.Artifacts(&scheduler.Job{ID: 1, Command: lo.ToPtr("x")})
	assert.EqualError(t, err, "job 1 has no resource or command")
}

func TestScriptWritesStatus(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash is not available")
	}

	running, workdir := t.TempDir(), t.TempDir()
	screen := newTestScreen(&mockShell{}, Config{WorkDir: workdir, Env: map[string]string{"GREETING": "hello world"}})

	artifacts, err := screen.Artifacts(testJob(1, 2, `test "$CUDA_VISIBLE_DEVICES" = 2 && test "$GREETING" = "hello world" && touch ran && bash -c "exit 3"`))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(running, "1.sh"), artifacts[0].Data, artifacts[0].Mode))

	cmd := exec.Command("bash", "./1.sh")
	cmd.Dir = running
	require.NoError(t, cmd.Run())

	status, err := os.ReadFile(filepath.Join(running, "1.status"))
	require.NoError(t, err)
	assert.Equal(t, "3\n", string(status))
	assert.FileExists(t, filepath.Join(workdir, "ran"))
}

func TestSpawn(t *testing.T) {
	shell := &mockShell{}
	screen := newTestScreen(shell, Config{RunningDir: "/var/lib/gpumux/running"})

	require.NoError(t, screen.Spawn(context.Background(), testJob(5, 0, "x")))
	assert.Equal(t, []string{
		"(cd /var/lib/gpumux/running && screen -dm -L -S gpumux_5 -c 5.screenrc ./5.sh)",
	}, shell.commands)
}

func TestSpawnFailureIsReported(t *testing.T) {
	shell := &mockShell{results: []shellResult{{output: "bash: screen: command not found\n", status: 127}}}
	screen := newTestScreen(shell, Config{RunningDir: "/tmp/running"})

	err := screen.Spawn(context.Background(), testJob(5, 0, "x"))
	assert.ErrorIs(t, err, scheduler.ErrSpawn)
	assert.EqualError(t, err, "failed to spawn job: screen exited with status 127: bash: screen: command not found")
	assert.Len(t, shell.commands, 1)
}

func TestSpawnShellErrorIsNotRetried(t *testing.T) {
	shell := &mockShell{results: []shellResult{{err: errors.New("session closed")}}}
	screen := newTestScreen(shell, Config{RunningDir: "/tmp/running"})

	err := screen.Spawn(context.Background(), testJob(5, 0, "x"))
	assert.ErrorIs(t, err, scheduler.ErrSpawn)
	assert.Len(t, shell.commands, 1)
}

const screenList = `There are screens on:
	81234.gpumux_12	(10/17/2026 09:12:44 AM)	(Detached)
	81200.gpumux_3	(10/17/2026 09:10:02 AM)	(Detached)
	7011.pts-0.lab	(10/16/2026 05:00:00 PM)	(Attached)
3 Sockets in /run/screen/S-lab.
`

func TestIsAlive(t *testing.T) {
	ctx := context.Background()
	shell := &mockShell{results: []shellResult{
		{output: screenList, status: 1},
		{output: screenList, status: 1},
		{output: screenList, status: 1},
	}}
	screen := newTestScreen(shell, Config{})

	alive, err := screen.IsAlive(ctx, testJob(3, 0, "x"))
	require.NoError(t, err)
	assert.True(t, alive)

	alive, err = screen.IsAlive(ctx, testJob(1, 0, "x"))
	require.NoError(t, err)
	assert.False(t, alive)

	alive, err = screen.IsAlive(ctx, testJob(12, 0, "x"))
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestIsAliveWithoutSessions(t *testing.T) {
	shell := &mockShell{results: []shellResult{{output: "No Sockets found in /run/screen/S-lab.\n", status: 1}}}
	screen := newTestScreen(shell, Config{})

	alive, err := screen.IsAlive(context.Background(), testJob(3, 0, "x"))
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestIsAliveRetriesShellErrors(t *testing.T) {
	shell := &mockShell{results: []shellResult{
		{err: errors.New("broken pipe")},
		{output: screenList, status: 1},
	}}
	screen := newTestScreen(shell, Config{})

	alive, err := screen.IsAlive(context.Background(), testJob(3, 0, "x"))
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Len(t, shell.commands, 2)
}

const screenListWithDead = `There are screens on:
	81234.gpumux_12	(10/17/2026 09:12:44 AM)	(Detached)
	4242.gpumux_7	(Dead ???)
Remove dead screens with 'screen -wipe'.
2 Sockets in /run/screen/S-lab.
`

func TestIsAliveIgnoresDeadSessions(t *testing.T) {
	ctx := context.Background()
	shell := &mockShell{results: []shellResult{
		{output: screenListWithDead, status: 1},
		{output: screenListWithDead, status: 1},
	}}
	screen := newTestScreen(shell, Config{})

	alive, err := screen.IsAlive(ctx, testJob(7, 0, "x"))
	require.NoError(t, err)
	assert.False(t, alive)

	alive, err = screen.IsAlive(ctx, testJob(12, 0, "x"))
	require.NoError(t, err)
	assert.True(t, alive)
}

func TestParseSessions(t *testing.T) {
	assert.Equal(t, []string{"gpumux_12", "gpumux_3"}, parseSessions(screenList))
	assert.Equal(t, []string{"gpumux_12"}, parseSessions(screenListWithDead))
	assert.Empty(t, parseSessions(""))
}
