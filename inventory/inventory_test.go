package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/gosh/runner"
)

type fakeShell struct {
	output string
	status int
	err    error

	commands []string
}

func (s *fakeShell) Run(ctx context.Context, command string, options ...runner.Option) (string, int, error) {
	s.commands = append(s.commands, command)
	return s.output, s.status, s.err
}

type failingDetector struct{}

func (failingDetector) Detect(ctx context.Context) ([]Resource, error) {
	return nil, errors.New("driver not loaded")
}

const gpuList = `GPU 0: NVIDIA A100-SXM4-40GB (UUID: GPU-6c1a1b1e-0b2e-4e7c-9c1b-1e9d9a0c1f00)
GPU 1: NVIDIA A100-SXM4-40GB (UUID: GPU-0f2d9b8e-1c7a-4a2a-8f4b-51a3c0b3e2a1)
GPU 3: Tesla V100-PCIE-16GB (UUID: GPU-b2a1c1d0-9e8f-4a3b-8c7d-6e5f4a3b2c1d)
`

func TestParseRange(t *testing.T) {
	tests := map[string]struct {
		expected Range
		err      string
	}{
		"0-255": {expected: Range{0, 255}},
		"2":     {expected: Range{2, 2}},
		" 1-3 ": {expected: Range{1, 3}},
		"3-1":   {err: "invalid range '3-1': bounds must satisfy 0 <= min <= max"},
		"a-3":   {err: `invalid range 'a-3': strconv.Atoi: parsing "a": invalid syntax`},
		"1-":    {err: `invalid range '1-': strconv.Atoi: parsing "": invalid syntax`},
	}
	for text, tt := range tests {
		t.Run(text, func(t *testing.T) {
			r, err := ParseRange(text)
			if tt.err != "" {
				assert.EqualError(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, r)
		})
	}
}

func TestNvidiaDetector(t *testing.T) {
	shell := &fakeShell{output: gpuList}
	detector := &NvidiaDetector{Shell: shell}

	resources, err := detector.Detect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nvidia-smi --list-gpus"}, shell.commands)
	assert.Equal(t, []Resource{
		{ID: 0, Label: "NVIDIA A100-SXM4-40GB (UUID: GPU-6c1a1b1e-0b2e-4e7c-9c1b-1e9d9a0c1f00)"},
		{ID: 1, Label: "NVIDIA A100-SXM4-40GB (UUID: GPU-0f2d9b8e-1c7a-4a2a-8f4b-51a3c0b3e2a1)"},
		{ID: 3, Label: "Tesla V100-PCIE-16GB (UUID: GPU-b2a1c1d0-9e8f-4a3b-8c7d-6e5f4a3b2c1d)"},
	}, resources)
}

func TestNvidiaDetectorFailure(t *testing.T) {
	detector := &NvidiaDetector{Shell: &fakeShell{output: "NVIDIA-SMI has failed\n", status: 9}}

	_, err := detector.Detect(context.Background())
	assert.EqualError(t, err, "nvidia-smi exited with status 9: NVIDIA-SMI has failed")
}

func TestNewPoolFiltersRange(t *testing.T) {
	pool, err := NewPool(context.Background(), &NvidiaDetector{Shell: &fakeShell{output: gpuList}}, Range{1, 5})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, pool.IDs())
	assert.Len(t, pool.Resources(), 2)
}

func TestNewPoolWithoutResourcesInRange(t *testing.T) {
	_, err := NewPool(context.Background(), &NvidiaDetector{Shell: &fakeShell{output: gpuList}}, Range{4, 8})
	assert.ErrorIs(t, err, ErrNoResources)
	assert.EqualError(t, err, "no resources available in range 4-8")
}

func TestNewPoolDetectorFailure(t *testing.T) {
	_, err := NewPool(context.Background(), failingDetector{}, DefaultRange)
	assert.EqualError(t, err, "failed to detect resources: driver not loaded")
}

func TestStaticDetector(t *testing.T) {
	pool, err := NewPool(context.Background(), &StaticDetector{Count: 3}, DefaultRange)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, pool.IDs())

	_, err = NewPool(context.Background(), &StaticDetector{Count: 0}, DefaultRange)
	assert.ErrorIs(t, err, ErrNoResources)
}
