package kernel

import "github.com/cm4rtos/kernel/arch"

// runScheduler picks k.next given the (already priority-sorted) task
// table and each task's current status. Must be called with k.mu held.
//
// original_source/iso1_OS/OS/Src/osKernel.c's scheduler() walks the
// table in index order and hands "next" to the first Ready task whose
// index is past a remembered osTaskIndex, falling back to a one-shot
// "status[]" marker array for a task that was Blocked at higher
// priority. Traced through fully, that rule does not actually enforce
// priority preemption between two continuously-Ready tasks of
// different priority: it degrades to plain round robin across the
// whole table, with priority only breaking the tie at the moment a
// higher-priority task transitions out of Blocked. That contradicts
// spec.md §8's priority-preemption property, so this implementation
// instead computes the best eligible priority on every call and round-
// robins only within it — see DESIGN.md. The one-shot marker array
// is unneeded under this rule: a higher-priority task becoming Ready is
// picked up the moment it happens, since every call recomputes the
// winning priority from scratch rather than remembering a stale one.
func (k *Kernel) runScheduler() {
	n := k.userCount

	if k.status != StatusRunning {
		k.next = k.tasks[0]
		return
	}

	best := Priority(-1)
	for i := 0; i < n; i++ {
		t := k.tasks[i]
		if t.status == TaskReady || t.status == TaskRunning {
			if best == -1 || t.priority < best {
				best = t.priority
			}
		}
	}
	if best == -1 {
		// Every registered task is Blocked or Suspended: fall back to
		// idle.
		k.next = k.idle
		return
	}

	for offset := 1; offset <= n; offset++ {
		i := (k.lastIndex + offset) % n
		t := k.tasks[i]
		if t.priority == best && (t.status == TaskReady || t.status == TaskRunning) {
			k.next = t
			k.lastIndex = i
			return
		}
	}
}

// getNextContext is the PendSV-called routine spec.md §4.2 specifies:
// on first entry it promotes the kernel to Running and delivers the
// first task's synthesized frame; afterward it saves the outgoing SP,
// demotes the outgoing task, promotes k.next to Running, and returns its
// saved SP. Must be called with k.mu held.
func (k *Kernel) getNextContext(currentSP arch.StackPointer) arch.StackPointer {
	if k.status != StatusRunning {
		k.current = k.tasks[0]
		k.current.status = TaskRunning
		k.status = StatusRunning
		return k.current.sp
	}

	// Save the outgoing frame, pushing its FP block first if its
	// EXC_RETURN carries the FPU bit (spec.md §4.2's PendSV prologue:
	// "vpusheq {s16-s31}" ahead of the plain register save).
	if k.current.usesFPU {
		k.current.sp = arch.PushFPContext(&k.current.stack, currentSP, k.current.fpRegs)
	} else {
		k.current.sp = currentSP
	}

	if k.next == nil {
		// The scheduler found nothing runnable and idle wasn't assigned
		// either — a corrupted task table. This is an invariant
		// violation, not a config error: nothing the caller did wrong,
		// only a kernel bug could reach this.
		k.fault("getNextContext")
		k.next = k.idle
	}

	// Demote the outgoing task to Ready unless it is already Blocked —
	// a task observed here as Blocked just suspended itself voluntarily
	// (delay, queue-full, queue-empty, or a locked semaphore) and must
	// stay Blocked regardless of cause. The original source only
	// special-cased delay>0 here, which forces any queue/semaphore-
	// blocked task straight back to Ready before it was ever unblocked;
	// this corrects that (see DESIGN.md).
	if k.current.status != TaskBlocked {
		k.current.status = TaskReady
	}

	k.current = k.next
	k.current.status = TaskRunning

	// Restore the incoming frame, popping its FP block first if it was
	// pushed ("vpopeq {s16-s31}" in the PendSV epilogue).
	if k.current.usesFPU {
		k.current.fpRegs, k.current.sp = arch.PopFPContext(&k.current.stack, k.current.sp)
	}

	return k.current.sp
}

// yield runs the scheduler and immediately services the pended switch.
// Must be called with k.mu held.
func (k *Kernel) yield() {
	k.runScheduler()
	k.nvic.SetPendSV()
	k.handlePendSV()
}
