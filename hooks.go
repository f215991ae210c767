package kernel

// Hooks is the application override surface spec.md §6 describes as weak
// symbols: idle task body, tick hook, return-from-task hook, and error
// hook. A Go binary has no linker-level weak symbols, so spec.md §9's
// reading of them as a dependency-injection vtable is taken literally —
// install replacements on a Kernel before calling Start.
type Hooks struct {
	// Idle is run by the kernel-synthesized idle task whenever every
	// other task is blocked. Default: busy-wait (the host analogue of
	// WFI) until preempted by the next tick.
	Idle func(k *Kernel)

	// Tick runs at the end of every SysTick handler, after delay
	// countdown and before PendSV is pended. Default: no-op.
	Tick func(k *Kernel)

	// ReturnFromTask runs if a task entry function ever returns, which
	// spec.md §7 treats as an invariant violation. Default: log and
	// park forever.
	ReturnFromTask func(k *Kernel, t *Task)

	// Error runs on a fatal invariant violation, receiving a short
	// description of the faulting call site. Default: log and halt.
	Error func(k *Kernel, caller string)
}

// DefaultHooks returns the hook set spec.md §6 specifies as defaults.
func DefaultHooks() Hooks {
	return Hooks{
		Idle: func(k *Kernel) {
			// Default idle body: nothing to do until the next tick
			// preempts us, the host stand-in for WFI.
		},
		Tick: func(k *Kernel) {},
		ReturnFromTask: func(k *Kernel, t *Task) {
			k.log.Error().Str("task", t.Name()).Msg("task entry function returned")
		},
		Error: func(k *Kernel, caller string) {
			k.log.Error().Str("caller", caller).Msg("fatal kernel error")
			select {}
		},
	}
}

func (h Hooks) withDefaults() Hooks {
	d := DefaultHooks()
	if h.Idle == nil {
		h.Idle = d.Idle
	}
	if h.Tick == nil {
		h.Tick = d.Tick
	}
	if h.ReturnFromTask == nil {
		h.ReturnFromTask = d.ReturnFromTask
	}
	if h.Error == nil {
		h.Error = d.Error
	}
	return h
}
