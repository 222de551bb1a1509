// Package inventory discovers the GPUs the scheduler can hand out.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var ErrNoResources = errors.New("no resources available")

type Resource struct {
	ID    int    `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
}

type Detector interface {
	Detect(ctx context.Context) ([]Resource, error)
}

// Range is an inclusive range of resource ids.
type Range struct {
	Min int
	Max int
}

var DefaultRange = Range{Min: 0, Max: 255}

// ParseRange parses "N" or "N-M".
func ParseRange(text string) (Range, error) {
	low, high, isRange := strings.Cut(strings.TrimSpace(text), "-")

	lower, err := strconv.Atoi(strings.TrimSpace(low))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range '%s': %w", text, err)
	}
	upper := lower
	if isRange {
		if upper, err = strconv.Atoi(strings.TrimSpace(high)); err != nil {
			return Range{}, fmt.Errorf("invalid range '%s': %w", text, err)
		}
	}

	if lower < 0 || lower > upper {
		return Range{}, fmt.Errorf("invalid range '%s': bounds must satisfy 0 <= min <= max", text)
	}
	return Range{Min: lower, Max: upper}, nil
}

func (r Range) Contains(id int) bool {
	return id >= r.Min && id <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Pool is the fixed set of resources the scheduler works with.
type Pool struct {
	resources []Resource
}

// NewPool queries the inventory once and keeps the resources within r.
func NewPool(ctx context.Context, detector Detector, r Range) (*Pool, error) {
	resources, err := detector.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to detect resources: %w", err)
	}

	resources = lo.UniqBy(lo.Filter(resources, func(resource Resource, _ int) bool {
		return r.Contains(resource.ID)
	}), func(resource Resource) int {
		return resource.ID
	})
	if len(resources) == 0 {
		return nil, fmt.Errorf("%w in range %s", ErrNoResources, r)
	}

	slices.SortFunc(resources, func(a, b Resource) int {
		return a.ID - b.ID
	})
	return &Pool{resources: resources}, nil
}

func (p *Pool) Resources() []Resource {
	return slices.Clone(p.resources)
}

func (p *Pool) IDs() []int {
	return lo.Map(p.resources, func(resource Resource, _ int) int {
		return resource.ID
	})
}
