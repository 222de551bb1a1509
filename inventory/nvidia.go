package inventory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gammadia/gpumux/internal"
)

var gpuLine = regexp.MustCompile(`GPU\s+(?P<id>\d+):\s+(?P<model>.+)`)

// NvidiaDetector lists the GPUs reported by nvidia-smi.
type NvidiaDetector struct {
	Shell internal.Shell
}

func (d *NvidiaDetector) Detect(ctx context.Context) ([]Resource, error) {
	output, status, err := d.Shell.Run(ctx, "nvidia-smi --list-gpus")
	if err != nil {
		return nil, fmt.Errorf("failed to run nvidia-smi: %w", err)
	}
	if status != 0 {
		return nil, fmt.Errorf("nvidia-smi exited with status %d: %s", status, strings.TrimSpace(output))
	}
	return parseGPUList(output), nil
}

// parseGPUList parses lines like "GPU 0: NVIDIA A100-SXM4-40GB (UUID: GPU-...)".
func parseGPUList(output string) []Resource {
	var resources []Resource
	for _, line := range strings.Split(output, "\n") {
		match := gpuLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		id, err := strconv.Atoi(match[gpuLine.SubexpIndex("id")])
		if err != nil {
			continue
		}
		resources = append(resources, Resource{
			ID:    id,
			Label: strings.TrimSpace(match[gpuLine.SubexpIndex("model")]),
		})
	}
	return resources
}

// StaticDetector reports Count fake resources, for machines without GPUs.
type StaticDetector struct {
	Count int
}

func (d *StaticDetector) Detect(ctx context.Context) ([]Resource, error) {
	resources := make([]Resource, 0, d.Count)
	for i := 0; i < d.Count; i++ {
		resources = append(resources, Resource{ID: i, Label: "static"})
	}
	return resources, nil
}
