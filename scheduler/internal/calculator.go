package internal

import (
	"slices"

	"github.com/samber/lo"
)

// FreeResources returns the resources of the pool not held by any job, in ascending order.
func FreeResources(pool []int, held []int) []int {
	free := lo.Without(lo.Uniq(pool), held...)
	slices.Sort(free)
	return free
}

// NextID returns the id following the highest existing one, or 1 when there is none.
func NextID(ids []int) int {
	if len(ids) == 0 {
		return 1
	}
	return lo.Max(ids) + 1
}
