package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
)

// Shell runs commands in a shell session and returns their output and exit status.
// *gosh.Service satisfies it.
type Shell interface {
	Run(ctx context.Context, command string, options ...runner.Option) (string, int, error)
}

// LockedShell serializes commands sent to a shared session.
type LockedShell struct {
	mutex   sync.Mutex
	service *gosh.Service
}

// NewLocalShell opens a local bash session with the given extra environment.
func NewLocalShell(ctx context.Context, env map[string]string) (*LockedShell, error) {
	var options []runner.Option
	if len(env) > 0 {
		options = append(options, runner.WithEnvironment(env))
	}

	service, err := gosh.New(ctx, local.New(options...))
	if err != nil {
		return nil, fmt.Errorf("failed to open local shell: %w", err)
	}
	return &LockedShell{service: service}, nil
}

func (s *LockedShell) Run(ctx context.Context, command string, options ...runner.Option) (string, int, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.service.Run(ctx, command, options...)
}

func (s *LockedShell) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.service.Close()
}
