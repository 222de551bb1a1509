package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Command registration tests ---

func TestLogsCmd_HasTailAlias(t *testing.T) {
	assert.Contains(t, logsCmd.Aliases, "tail")
}

func TestLogsCmd_HasFollowFlag(t *testing.T) {
	f := logsCmd.Flags().Lookup("follow")
	require.NotNil(t, f)
	assert.Equal(t, "f", f.Shorthand)
	assert.Equal(t, "false", f.DefValue)
}

func TestLogsCmd_HasLinesFlag(t *testing.T) {
	f := logsCmd.Flags().Lookup("lines")
	require.NotNil(t, f)
	assert.Equal(t, "n", f.Shorthand)
	assert.Equal(t, "100", f.DefValue)
}

func TestLogsCmd_RequiresExactlyOneArg(t *testing.T) {
	assert.Error(t, logsCmd.Args(logsCmd, []string{}))
	assert.NoError(t, logsCmd.Args(logsCmd, []string{"3"}))
	assert.Error(t, logsCmd.Args(logsCmd, []string{"3", "4"}))
}

// --- followLog tests ---

type logSource struct {
	mutex sync.Mutex
	calls int
	pages []string
	err   error
}

func (s *logSource) fetch(ctx context.Context) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.calls >= len(s.pages) {
		if s.err != nil {
			return nil, s.err
		}
		return []byte(s.pages[len(s.pages)-1]), nil
	}
	page := s.pages[s.calls]
	s.calls++
	return []byte(page), nil
}

func TestFollowLog_WritesAppendedBytes(t *testing.T) {
	source := &logSource{pages: []string{"a\n", "a\nb\n", "a\nb\nc\n"}}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, followLog(ctx, source.fetch, 2, &out, 5*time.Millisecond))
	assert.Equal(t, "b\nc\n", out.String())
}

func TestFollowLog_RestartsOnTruncation(t *testing.T) {
	source := &logSource{pages: []string{"x\n"}}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	require.NoError(t, followLog(ctx, source.fetch, 10, &out, 5*time.Millisecond))
	assert.Equal(t, "x\n", out.String())
}

func TestFollowLog_ReturnsFetchError(t *testing.T) {
	source := &logSource{pages: []string{"a\n"}, err: errors.New("connection refused")}
	source.calls = 1

	var out bytes.Buffer
	err := followLog(context.Background(), source.fetch, 0, &out, time.Millisecond)
	assert.EqualError(t, err, "connection refused")
}
