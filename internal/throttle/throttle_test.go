package throttle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRampUnderLoad(t *testing.T) {
	c := NewController()

	// Hold num_running at 11 as observed by five consecutive completions.
	for i := 0; i < 12; i++ {
		c.MarkReceived()
	}

	want := []uint64{600, 700, 800, 900, 1000}
	for _, w := range want {
		c.MarkFinished() // observes 11 running
		assert.Equal(t, w, c.Interval())
		c.MarkReceived() // restore to 12
	}
}

func TestBusyThresholdEdge(t *testing.T) {
	// 10 running after completion: decrease. 11: increase.
	c := NewController()
	for i := 0; i < 11; i++ {
		c.MarkReceived()
	}
	c.MarkFinished()
	assert.Equal(t, uint64(InitialInterval-Step), c.Interval())

	c = NewController()
	for i := 0; i < 12; i++ {
		c.MarkReceived()
	}
	c.MarkFinished()
	assert.Equal(t, uint64(InitialInterval+Step), c.Interval())
}

func TestIntervalSaturates(t *testing.T) {
	c := NewController()

	// Drive to the floor and push further.
	c.MarkReceived()
	for i := 0; i < 10; i++ {
		c.MarkReceived()
		c.MarkFinished()
	}
	assert.Equal(t, uint64(Lower), c.Interval())
	c.MarkReceived()
	c.MarkFinished()
	assert.Equal(t, uint64(Lower), c.Interval())

	// Drive to the ceiling and push further.
	c = NewController()
	for i := 0; i < 12; i++ {
		c.MarkReceived()
	}
	for i := 0; i < 20; i++ {
		c.MarkFinished()
		c.MarkReceived()
	}
	assert.Equal(t, uint64(Upper), c.Interval())
}

func TestAdmission(t *testing.T) {
	c := NewController() // interval 500

	assert.False(t, c.ShouldDrop(1000), "first request always admitted")

	// latest=1000, interval=500: 1400 is inside the window, 1500 is not.
	assert.True(t, c.ShouldDrop(1400))
	assert.False(t, c.ShouldDrop(1500))

	// A drop must not advance the latest timestamp.
	assert.True(t, c.ShouldDrop(1999))
	assert.False(t, c.ShouldDrop(2000))
}

func TestDropDoesNotTouchLatest(t *testing.T) {
	c := NewController()
	assert.False(t, c.ShouldDrop(100))
	assert.True(t, c.ShouldDrop(101))
	// Still measured against 100, not 101.
	assert.False(t, c.ShouldDrop(600))
}
