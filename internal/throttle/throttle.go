// Package throttle implements the server's adaptive admission controller.
//
// A request is dropped when its timestamp lands inside the current interval
// after the latest accepted one. The interval self-adjusts on handler
// completion: additive increase while more than busyThreshold handlers are
// running, additive decrease otherwise, saturating at [0, 2000] ms.
package throttle

import "sync"

const (
	// Step is the interval adjustment per completion, in milliseconds.
	Step = 100
	// Upper and Lower bound the interval.
	Upper = 2000
	Lower = 0

	// InitialInterval is the interval at startup.
	InitialInterval = 500

	busyThreshold = 10
)

// Controller is safe for concurrent use. Per spec, the three pieces of
// state live behind independent locks: the admission check-and-set is
// atomic relative to other requests, while interval adjustment is
// approximate by design.
type Controller struct {
	intervalMu sync.Mutex
	intervalMS uint64

	tsMu      sync.Mutex
	latestSet bool
	latestMS  uint64

	runMu      sync.Mutex
	numRunning uint64
}

func NewController() *Controller {
	return &Controller{intervalMS: InitialInterval}
}

// MarkReceived records an accepted connection before its handler is queued.
func (c *Controller) MarkReceived() {
	c.runMu.Lock()
	c.numRunning++
	c.runMu.Unlock()
}

// MarkFinished records a handler completion and re-evaluates the interval.
func (c *Controller) MarkFinished() {
	c.runMu.Lock()
	c.numRunning--
	running := c.numRunning
	c.runMu.Unlock()

	c.adjust(running)
}

// ShouldDrop decides admission for a request stamped ts (milliseconds) and,
// when admitting, marks ts as the latest accepted timestamp. The check and
// the mark happen under one lock.
func (c *Controller) ShouldDrop(ts uint64) bool {
	interval := c.Interval()

	c.tsMu.Lock()
	defer c.tsMu.Unlock()

	if c.latestSet && ts < c.latestMS+interval {
		return true
	}
	c.latestSet = true
	c.latestMS = ts
	return false
}

// Interval returns the current admission interval in milliseconds.
func (c *Controller) Interval() uint64 {
	c.intervalMu.Lock()
	defer c.intervalMu.Unlock()
	return c.intervalMS
}

// Running returns the number of in-flight handlers.
func (c *Controller) Running() uint64 {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.numRunning
}

func (c *Controller) adjust(running uint64) {
	c.intervalMu.Lock()
	defer c.intervalMu.Unlock()

	if running > busyThreshold {
		c.intervalMS += Step
		if c.intervalMS > Upper {
			c.intervalMS = Upper
		}
	} else if c.intervalMS < Step {
		c.intervalMS = Lower
	} else {
		c.intervalMS -= Step
	}
}
