package kernel

import "errors"

// Configuration errors: preconditions violated by the caller. No kernel
// state is mutated when one of these is returned, per spec.md §7.
var (
	ErrNilTask          = errors.New("kernel: task control block or entry point is nil")
	ErrKernelRunning    = errors.New("kernel: operation not permitted after Start")
	ErrTooManyTasks     = errors.New("kernel: maximum number of user tasks already registered")
	ErrIRQOutOfRange    = errors.New("kernel: irq number out of range")
	ErrIRQHandlerNil    = errors.New("kernel: irq handler is nil")
	ErrIRQSlotOccupied  = errors.New("kernel: irq slot already registered")
	ErrQueueNil         = errors.New("kernel: queue is nil")
	ErrQueueCapacity    = errors.New("kernel: queue capacity exceeds MaxQueueCapacity")
	ErrSemaphoreNil     = errors.New("kernel: semaphore is nil")
	ErrNotRunning       = errors.New("kernel: no task is currently running")
)
