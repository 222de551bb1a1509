package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTickIntervalMustBePositive(t *testing.T) {
	config := Config{
		TickInterval: 0,
	}
	err := Validate(config)
	assert.EqualError(t, err, "tick-interval must be greater than 0")
}

func TestValidateDefaultConfig(t *testing.T) {
	err := Validate(DefaultConfig())
	assert.NoError(t, err)
}
