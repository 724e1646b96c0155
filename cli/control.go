package cli

import "sync"

// Control coordinates pause, resume and stop between the monitor and the
// driver goroutine.
type Control struct {
	mu       sync.Mutex
	cond     *sync.Cond
	active   bool
	pauseReq bool
	paused   bool
	stopped  bool
}

// NewControl creates a control in the running state.
func NewControl() *Control {
	c := &Control{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// begin marks the driver as running.
func (c *Control) begin() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
}

// end marks the driver as gone and releases anyone waiting on it.
func (c *Control) end() {
	c.mu.Lock()
	c.active = false
	c.paused = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// RequestPause asks the driver to pause and blocks until it has, or until
// the driver is not running.
func (c *Control) RequestPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.pauseReq = true
	for c.active && !c.paused && !c.stopped {
		c.cond.Wait()
	}
}

// RequestResume lets a paused driver continue.
func (c *Control) RequestResume() {
	c.mu.Lock()
	c.pauseReq = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// checkpoint is called by the driver between steps. It blocks while a
// pause is requested and returns false once the driver should exit.
func (c *Control) checkpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pauseReq && !c.stopped {
		c.paused = true
		c.cond.Broadcast()
		for c.pauseReq && !c.stopped {
			c.cond.Wait()
		}
		c.paused = false
	}
	return !c.stopped
}

// Stop tells the driver to exit. It also ends any pause.
func (c *Control) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.pauseReq = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// IsPaused reports whether the driver is currently paused.
func (c *Control) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stopped reports whether Stop was called.
func (c *Control) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
