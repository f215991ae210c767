package kernel

// sysTickLine and pendSVLine give the two core exceptions the kernel
// drives a slot in the simulated NVIC, mirroring CMSIS's IRQn_Type
// convention of numbering core exceptions negative and device IRQs
// starting at 0 (original_source/iso1_OS's osKernel.c calls
// NVIC_EnableIRQ/SetPriority with the same SysTick_IRQn/PendSV_IRQn
// core-exception enumerators).
const (
	sysTickLine = -1
	pendSVLine  = -2
)

// irqSlot is one entry of the kernel's IRQ vector table, grounded on
// osIRQVectorTable in original_source/iso1_OS/OS/Src/osIRQ.c: a handler
// plus the opaque user data osRegisterIRQ stores alongside it and passes
// back on dispatch.
type irqSlot struct {
	handler func(k *Kernel, data any)
	data    any
}

// RegisterIRQ installs (handler, data) at vector n (0..IRQCount-1) and
// enables delivery of that line in the NVIC, the osRegisterIRQ
// equivalent from spec.md §4.5 and §4.6. data is passed back to handler
// unchanged on every dispatch of this line.
func (k *Kernel) RegisterIRQ(n int, handler func(k *Kernel, data any), data any) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if n < 0 || n >= IRQCount {
		return ErrIRQOutOfRange
	}
	if handler == nil {
		return ErrIRQHandlerNil
	}
	if k.vectors[n].handler != nil {
		return ErrIRQSlotOccupied
	}

	k.vectors[n].handler = handler
	k.vectors[n].data = data
	k.nvic.ClearPendingIRQ(n)
	k.nvic.EnableIRQ(n)
	return nil
}

// UnregisterIRQ disables line n, clears its pending state, and clears
// its vector slot, the osUnregisterIRQ equivalent from spec.md §4.5 and
// §4.6.
func (k *Kernel) UnregisterIRQ(n int) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if n < 0 || n >= IRQCount {
		return ErrIRQOutOfRange
	}

	k.nvic.DisableIRQ(n)
	k.nvic.ClearPendingIRQ(n)
	k.vectors[n] = irqSlot{}
	return nil
}

// RaiseIRQ is the simulator's entry point standing in for an external
// peripheral asserting line n: it dispatches the registered handler with
// its stored data and the kernel's system status set to StatusIRQ for
// the duration of the call, restoring the previous status on return,
// per spec.md §4.5.
func (k *Kernel) RaiseIRQ(n int) error {
	k.mu.Lock()
	if n < 0 || n >= IRQCount {
		k.mu.Unlock()
		return ErrIRQOutOfRange
	}
	if !k.nvic.Enabled(n) {
		k.mu.Unlock()
		return nil
	}
	handler := k.vectors[n].handler
	if handler == nil {
		k.mu.Unlock()
		return nil
	}
	data := k.vectors[n].data
	prev := k.status
	k.status = StatusIRQ
	k.mu.Unlock()

	handler(k, data)

	k.mu.Lock()
	k.status = prev
	k.mu.Unlock()
	return nil
}
