package kernel

import (
	"io"
	"sync"

	"github.com/cm4rtos/kernel/arch"
	"github.com/cm4rtos/kernel/nvic"
	"github.com/rs/zerolog"
)

// Kernel is one instance of the scheduler core spec.md §2 describes:
// task table, priority scheduler, SysTick time base, and IRQ vector
// table. Grounded on the CPU struct in
// _examples/user-none-go-chip-m68k/cpu.go (one struct owning all mutable
// core state, constructed with New, driven by an explicit Start rather
// than an implicit init).
type Kernel struct {
	mu sync.Mutex

	cfg   Config
	hooks Hooks
	log   zerolog.Logger
	nvic  *nvic.Controller

	status Status

	tasks      []*Task // index 0..userCount-1 sorted by priority, then idle
	idle       *Task
	userCount  int
	current    *Task
	next       *Task
	lastIndex  int
	critDepth  int
	registered bool // true once Start has locked the task table

	vectors [IRQCount]irqSlot

	stopCh chan struct{}
}

// New returns a Kernel ready for TaskCreate calls. cfg and hooks are
// filled in with their documented defaults where left zero.
func New(cfg Config, hooks Hooks) *Kernel {
	k := &Kernel{
		cfg:    cfg.withDefaults(),
		hooks:  hooks.withDefaults(),
		nvic:   nvic.New(),
		status: StatusReset,
		stopCh: make(chan struct{}),
	}
	k.log = newLogger(nil)
	return k
}

// SetLogOutput redirects the kernel's structured log, which otherwise
// writes to stderr.
func (k *Kernel) SetLogOutput(w io.Writer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.log = newLogger(w)
}

// TaskCreate registers t to run entry at the given priority, per
// spec.md §4.1 (osTaskCreate). Must be called before Start; returns
// ErrKernelRunning otherwise. t's backing stack is initialized with a
// synthesized first-entry frame so its saved stack pointer is valid the
// moment the scheduler first promotes it to Running.
func (k *Kernel) TaskCreate(t *Task, priority Priority, entry func(k *Kernel)) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.registered {
		return ErrKernelRunning
	}
	if t == nil || entry == nil {
		return ErrNilTask
	}
	if k.userCount >= MaxUserTasks {
		return ErrTooManyTasks
	}

	t.id = k.userCount
	t.priority = priority
	t.status = TaskReady
	t.entry = entry
	t.wake = make(chan struct{}, 1)
	// entry has no real machine address in this simulator; the token
	// only needs to be stable and unique for the frame to be well
	// formed, so the registration index stands in for it.
	excReturn := arch.ExcReturnThreadMSPNoFPU
	if t.usesFPU {
		excReturn = arch.ExcReturnThreadMSPFPU
	}
	t.sp = arch.SynthesizeInitialFrameWithReturn(&t.stack, uint32(t.id), excReturn)

	k.tasks = append(k.tasks, t)
	k.userCount++
	return nil
}

// Start finalizes the task table, starts the time base, and hands the
// first task control to the scheduler, per the osStart sequence in
// spec.md §4.1: sort by priority, append the idle task, pin PendSV to
// the lowest NVIC priority, then enable the tick.
func (k *Kernel) Start() error {
	k.mu.Lock()
	if k.registered {
		k.mu.Unlock()
		return ErrKernelRunning
	}

	k.sortByPriority()

	k.idle = NewTask("idle")
	k.idle.id = k.userCount
	k.idle.priority = Low
	k.idle.status = TaskReady
	k.idle.wake = make(chan struct{}, 1)
	k.idle.entry = func(kk *Kernel) {
		for {
			kk.hooks.Idle(kk)
			kk.checkpoint(kk.idle)
		}
	}
	k.idle.sp = arch.SynthesizeInitialFrame(&k.idle.stack, uint32(k.idle.id))
	k.tasks = append(k.tasks, k.idle)

	k.lastIndex = 0
	k.status = StatusStopped
	k.registered = true

	k.nvic.SetPriority(pendSVLine, nvic.LowestPriority)
	k.nvic.DisableIRQ(sysTickLine)

	tasks := append([]*Task{}, k.tasks...)
	k.mu.Unlock()

	for _, t := range tasks {
		go k.runTask(t)
	}

	k.mu.Lock()
	k.nvic.EnableIRQ(sysTickLine)
	k.mu.Unlock()

	go k.tickLoop()

	// First dispatch: the tick loop's first tick drives getNextContext
	// through its StatusStopped branch, which promotes tasks[0].
	return nil
}

// sortByPriority bubble-sorts the registered user tasks ascending by
// priority (index 0 = highest priority), per spec.md §4.2: a bounded
// table of at most MaxUserTasks entries makes a bubble sort as good as
// anything fancier. Must be called with k.mu held.
func (k *Kernel) sortByPriority() {
	n := len(k.tasks)
	for i := 0; i < n; i++ {
		for j := 0; j < n-i-1; j++ {
			if k.tasks[j].priority > k.tasks[j+1].priority {
				k.tasks[j], k.tasks[j+1] = k.tasks[j+1], k.tasks[j]
			}
		}
	}
}

// handlePendSV services a pended context switch: runs getNextContext and
// wakes the newly promoted task's goroutine if it changed. Must be
// called with k.mu held.
func (k *Kernel) handlePendSV() {
	if !k.nvic.TakePendSV() {
		return
	}
	outgoing := k.current
	var sp arch.StackPointer
	if outgoing != nil {
		sp = outgoing.sp
	}
	k.getNextContext(sp)
	if k.current != outgoing {
		k.wake(k.current)
	}
}

// wake delivers a non-blocking wake signal to t's checkpoint loop. Safe
// to call with k.mu held; the channel is buffered so a duplicate wake
// before the receiver catches up is harmless.
func (k *Kernel) wake(t *Task) {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// EnterCritical masks the tick: nested calls stack via a counter, and
// ticks that arrive before the matching number of ExitCritical calls
// unwinds it to zero are skipped, not replayed later, per spec.md §5.
func (k *Kernel) EnterCritical() {
	k.mu.Lock()
	k.critDepth++
	k.mu.Unlock()
}

// ExitCritical unmasks one level of critical section entered via
// EnterCritical.
func (k *Kernel) ExitCritical() {
	k.mu.Lock()
	if k.critDepth > 0 {
		k.critDepth--
	}
	k.mu.Unlock()
}

// Yield voluntarily gives up the remainder of the calling task's time
// slice, the osYield equivalent from spec.md §4.2.
func (k *Kernel) Yield(t *Task) {
	k.mu.Lock()
	k.yield()
	k.mu.Unlock()
	k.checkpoint(t)
}

// Current returns the task the scheduler currently considers Running,
// or nil before Start's first dispatch.
func (k *Kernel) Current() *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// Status returns the kernel's current system status.
func (k *Kernel) Status() Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.status
}

// fault routes an invariant violation to Hooks.Error with the caller's
// name, per spec.md §7.
func (k *Kernel) fault(caller string) {
	k.hooks.Error(k, caller)
}
