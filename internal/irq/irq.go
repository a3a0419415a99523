// Package irq models the interrupt mask shared by capture and loop context.
//
// Delivery of a capture interrupt passes through a gate. Loop context closes
// the gate with Lock while it reads or clears capture state; an edge arriving
// meanwhile stays pending in the delivering goroutine (the kernel event queue
// for gpiocdev, the next timer period for polling) exactly like a masked
// interrupt. The interrupt body itself never takes a lock.
package irq

import "sync"

// Controller owns the gate. Lock and Guard.Release must only be called from
// loop context; Deliver is called from capture context.
type Controller struct {
	gate   sync.Mutex
	masked bool
}

// Guard restores the mask state that was in effect when it was acquired.
type Guard struct {
	c     *Controller
	prior bool
	done  bool
}

// Lock masks delivery and returns a guard. Nested locks are cheap: an inner
// guard sees the controller already masked and leaves it masked on release.
func (c *Controller) Lock() Guard {
	prior := c.masked
	if !prior {
		c.gate.Lock()
		c.masked = true
	}
	return Guard{c: c, prior: prior}
}

// Release restores the prior state. Safe to call more than once, so it can
// be both deferred and called early.
func (g *Guard) Release() {
	if g.done {
		return
	}
	g.done = true
	if !g.prior {
		g.c.masked = false
		g.c.gate.Unlock()
	}
}

// Masked reports whether loop context currently holds the mask.
func (c *Controller) Masked() bool {
	return c.masked
}

// Deliver runs isr with the gate held, waiting while loop context has
// delivery masked.
func (c *Controller) Deliver(isr func()) {
	c.gate.Lock()
	isr()
	c.gate.Unlock()
}
