package core

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Since_ordinary_case(t *testing.T) {
	assert.Equal(t, int32(500), Since(Millis(1500), Millis(1000)))
}

func Test_Since_handles_uint32_wraparound(t *testing.T) {
	now := Millis(100)
	then := Millis(math.MaxUint32 - 100)
	assert.Equal(t, int32(201), Since(now, then))
}

func Test_Before_deadline_in_past(t *testing.T) {
	assert.True(t, Before(Millis(2000), Millis(1000)))
	assert.False(t, Before(Millis(1000), Millis(2000)))
}

func Test_Before_across_wraparound(t *testing.T) {
	deadline := Millis(math.MaxUint32 - 50)
	now := Millis(10) // wrapped past deadline
	assert.True(t, Before(now, deadline))
}

func Test_Add_advances_by_duration(t *testing.T) {
	assert.Equal(t, Millis(1500), Millis(1000).Add(500))
}
