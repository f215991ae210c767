package kernel

import (
	"strings"

	"github.com/cm4rtos/kernel/arch"
)

// Task is a task control block: the backing stack, saved context, and
// scheduling state for one task, grounded on osTaskObject in
// original_source/iso1_OS/OS/Inc/osKernel.h. Applications own the
// storage (create a Task, pass it to Kernel.TaskCreate) the same way the
// original expects a statically allocated osTaskObject.
type Task struct {
	name [TaskNameLen]byte
	id   int

	priority Priority
	status   TaskStatus
	delay    int
	cause    blockCause

	stack   [arch.StackWords]uint32
	sp      arch.StackPointer
	usesFPU bool
	fpRegs  [arch.FPWords]uint32

	entry func(k *Kernel)
	wake  chan struct{}
}

// NewTask allocates a Task control block with the given name, truncated
// to TaskNameLen-1 bytes plus a trailing NUL. spec.md §9 flags the
// original's char*[OS_MAX_TASK_NAME_CHAR] as storing pointers into a
// name string rather than the characters themselves; here name is a
// fixed byte array holding the characters directly.
func NewTask(name string) *Task {
	t := &Task{}
	n := copy(t.name[:TaskNameLen-1], name)
	t.name[n] = 0
	return t
}

// Name returns the task's name.
func (t *Task) Name() string {
	if i := strings.IndexByte(string(t.name[:]), 0); i >= 0 {
		return string(t.name[:i])
	}
	return string(t.name[:])
}

// ID returns the task's registration order, starting at 0 for the first
// task created. The idle task is assigned the last ID.
func (t *Task) ID() int { return t.id }

// Priority returns the task's scheduling priority.
func (t *Task) Priority() Priority { return t.priority }

// Status returns the task's current scheduling status.
func (t *Task) Status() TaskStatus { return t.status }

// EnableFPU marks t as a user of the floating-point unit, so its
// synthesized EXC_RETURN carries the FPU bit and every context switch
// saves and restores its s16-s31 block (spec.md §4.7). Must be called
// before TaskCreate, which reads it to pick the first frame's EXC_RETURN;
// a later call leaves that frame as it is but still turns on the s16-s31
// save and restore for later switches.
func (t *Task) EnableFPU() { t.usesFPU = true }

// checkpoint is the cooperative preemption point a task body calls
// between units of work. It blocks until the scheduler has promoted
// this task to Running, the host stand-in for "the next machine
// instruction only executes once PendSV has restored this task's
// context" — see SPEC_FULL.md §5 for why a checkpoint, rather than true
// suspension, is how this simulator models preemption.
func (k *Kernel) checkpoint(t *Task) {
	for {
		k.mu.Lock()
		if t.status == TaskRunning {
			k.mu.Unlock()
			return
		}
		k.mu.Unlock()
		<-t.wake
	}
}

// runTask is the goroutine body wrapping a task's entry function: it
// waits at a checkpoint before ever invoking entry, and if entry returns
// (an invariant violation per spec.md §7), routes to Hooks.ReturnFromTask
// and parks the goroutine forever rather than letting it fall off the
// end of a real stack.
func (k *Kernel) runTask(t *Task) {
	k.checkpoint(t)
	t.entry(k)
	k.mu.Lock()
	hook := k.hooks.ReturnFromTask
	k.mu.Unlock()
	hook(k, t)
	select {}
}
