// Package supervisor runs jobs in detached screen sessions. A job script writes its exit status next to
// the job record; screen itself keeps the output in the job log.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/gammadia/gpumux/internal"
	"github.com/gammadia/gpumux/scheduler"
	"github.com/samber/lo"
	"github.com/viant/gosh/runner"
)

const (
	SuffixScript   = "sh"
	SuffixScreenrc = "screenrc"

	SessionPrefix = "gpumux_"

	listAttempts  = 3
	launchTimeout = 30_000
)

var _ scheduler.Supervisor = (*Screen)(nil)

// DefaultEnv is exported to every job unless Config.Env overrides it. Commands run from the
// working directory and import modules from it.
var DefaultEnv = map[string]string{"PYTHONPATH": "."}

type Config struct {
	// RunningDir holds the running job records; sessions are launched from there.
	RunningDir string
	// WorkDir is the directory commands run in.
	WorkDir       string
	Interpreter   string
	Env           map[string]string
	VisibilityVar string
	Logger        *slog.Logger
}

type Screen struct {
	shell  internal.Shell
	config Config
	logger *slog.Logger
}

func NewScreen(shell internal.Shell, config Config) *Screen {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	config.Env = lo.Assign(DefaultEnv, config.Env)
	return &Screen{
		shell:  shell,
		config: config,
		logger: config.Logger,
	}
}

func SessionName(id int) string {
	return fmt.Sprintf("%s%d", SessionPrefix, id)
}

func (s *Screen) Artifacts(job *scheduler.Job) ([]scheduler.Artifact, error) {
	if job.Resource == nil || job.Command == nil {
		return nil, fmt.Errorf("job %d has no resource or command", job.ID)
	}

	script, err := renderScript(scriptData{
		ID:            job.ID,
		Resource:      *job.Resource,
		Command:       *job.Command,
		WorkDir:       s.config.WorkDir,
		Interpreter:   s.config.Interpreter,
		VisibilityVar: s.config.VisibilityVar,
		Env:           lo.MapValues(s.config.Env, func(value string, _ string) any { return value }),
	})
	if err != nil {
		return nil, err
	}

	return []scheduler.Artifact{
		{Suffix: SuffixScript, Data: script, Mode: 0700},
		{Suffix: SuffixScreenrc, Data: renderScreenrc(job.ID), Mode: 0600},
	}, nil
}

// Spawn launches the job script in a detached, logged screen session and waits for screen to return.
func (s *Screen) Spawn(ctx context.Context, job *scheduler.Job) error {
	command := fmt.Sprintf("(cd %s && screen -dm -L -S %s -c %d.%s ./%d.%s)",
		shellescape.Quote(s.config.RunningDir),
		SessionName(job.ID),
		job.ID, SuffixScreenrc,
		job.ID, SuffixScript,
	)

	output, status, err := s.shell.Run(ctx, command, runner.WithTimeout(launchTimeout))
	if err != nil {
		return fmt.Errorf("%w: %w", scheduler.ErrSpawn, err)
	}
	if status != 0 {
		return fmt.Errorf("%w: screen exited with status %d: %s", scheduler.ErrSpawn, status, strings.TrimSpace(output))
	}

	s.logger.Debug("Session launched", "job", job.ID, "session", SessionName(job.ID))
	return nil
}

func (s *Screen) IsAlive(ctx context.Context, job *scheduler.Job) (bool, error) {
	sessions, err := s.Sessions(ctx)
	if err != nil {
		return false, err
	}
	return lo.Contains(sessions, SessionName(job.ID)), nil
}

// Sessions lists the names of the active gpumux sessions.
func (s *Screen) Sessions(ctx context.Context) ([]string, error) {
	output, err := internal.RetryResultWithContext(ctx, listAttempts, func() (string, error) {
		// screen exits with a non-zero status when there is no session at all
		output, _, err := s.shell.Run(ctx, "screen -ls")
		return output, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list screen sessions: %w", err)
	}
	return parseSessions(output), nil
}

// parseSessions extracts session names from lines like "\t12345.gpumux_3\t(Detached)".
// Sessions reported as "(Dead ???)" only left their socket behind and are skipped.
func parseSessions(output string) []string {
	var sessions []string
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.Contains(line, "(Dead ") {
			continue
		}
		_, name, found := strings.Cut(fields[0], ".")
		if found && strings.HasPrefix(name, SessionPrefix) {
			sessions = append(sessions, name)
		}
	}
	return sessions
}
