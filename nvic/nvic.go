// Package nvic simulates the slice of the ARMv7-M Nested Vectored
// Interrupt Controller the kernel core touches directly: per-line
// enable/pending bits, a priority value per line, and the PENDSVSET bit
// of SCB.ICSR that SysTick uses to request a context switch.
//
// Grounded on original_source/iso1_OS/OS/Src/osIRQ.c and osKernel.c, which
// call NVIC_EnableIRQ/NVIC_DisableIRQ/NVIC_ClearPendingIRQ/NVIC_SetPriority
// and write SCB->ICSR directly; this package gives those calls a host-side
// home instead of vanishing as no-ops.
package nvic

import "sync"

// LowestPriority is the numerically lowest-urgency NVIC priority value on
// a core with 4 priority bits, the value PendSV must be pinned to per
// spec.md §4.1 ("a hard requirement — PendSV must never preempt a
// higher-priority ISR").
const LowestPriority = (1 << 4) - 1

// Controller is a simulated NVIC instance. The zero value is not usable;
// use New.
type Controller struct {
	mu sync.Mutex

	enabled  map[int]bool
	pending  map[int]bool
	priority map[int]int

	pendSVSet bool
}

// New returns a Controller with every line disabled, nothing pending, and
// every priority 0. It does not pin PendSV; Kernel.Start does that with
// SetPriority.
func New() *Controller {
	c := &Controller{
		enabled:  make(map[int]bool),
		pending:  make(map[int]bool),
		priority: make(map[int]int),
	}
	return c
}

// EnableIRQ enables delivery of line n.
func (c *Controller) EnableIRQ(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled[n] = true
}

// DisableIRQ disables delivery of line n.
func (c *Controller) DisableIRQ(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled[n] = false
}

// Enabled reports whether line n is currently enabled.
func (c *Controller) Enabled(n int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled[n]
}

// ClearPendingIRQ clears the pending bit for line n.
func (c *Controller) ClearPendingIRQ(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, n)
}

// SetPriority sets the NVIC priority for line n.
func (c *Controller) SetPriority(n, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priority[n] = priority
}

// Priority returns the NVIC priority for line n.
func (c *Controller) Priority(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priority[n]
}

// SetPendSV sets the simulated SCB.ICSR PENDSVSET bit, the trigger
// spec.md §4.2 uses from both the SysTick handler and osYield.
func (c *Controller) SetPendSV() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendSVSet = true
}

// TakePendSV reports whether PENDSVSET was set and clears it, the way a
// real PendSV handler's entry clears the pending state implicitly.
func (c *Controller) TakePendSV() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := c.pendSVSet
	c.pendSVSet = false
	return set
}
