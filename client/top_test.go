package main

import (
	"testing"

	"github.com/gammadia/gpumux/api"
	"github.com/gammadia/gpumux/inventory"
	"github.com/gdamore/tcell/v2"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobState(t *testing.T) {
	label, c := jobState(api.Job{})
	assert.Equal(t, "running", label)
	assert.Equal(t, tcell.ColorYellow, c)

	label, c = jobState(api.Job{Status: lo.ToPtr(0)})
	assert.Equal(t, "ok", label)
	assert.Equal(t, tcell.ColorGreen, c)

	label, c = jobState(api.Job{Status: lo.ToPtr(137)})
	assert.Equal(t, "exit 137", label)
	assert.Equal(t, tcell.ColorRed, c)
}

func TestResourceRows(t *testing.T) {
	status := &api.Status{
		Resources: []inventory.Resource{{ID: 0, Label: "A100"}, {ID: 1, Label: "A100"}, {ID: 3, Label: "V100"}},
		Running: []api.Job{
			{ID: 7, Resource: lo.ToPtr(3), Command: "train"},
			{ID: 8, Resource: lo.ToPtr(0), Command: "eval"},
		},
	}

	rows := resourceRows(status)
	require.Len(t, rows, 3)

	assert.Equal(t, 0, rows[0].resource.ID)
	require.NotNil(t, rows[0].job)
	assert.Equal(t, 8, rows[0].job.ID)

	assert.Equal(t, 1, rows[1].resource.ID)
	assert.Nil(t, rows[1].job)

	assert.Equal(t, "V100", rows[2].resource.Label)
	require.NotNil(t, rows[2].job)
	assert.Equal(t, "train", rows[2].job.Command)
}
