package kernel

import "time"

// tickLoop is the goroutine standing in for the SysTick exception firing
// on a hardware timer, driven by Config.TickPeriod instead of
// SysTick_Config(SystemCoreClock / OS_SYSTICK_TICK).
func (k *Kernel) tickLoop() {
	ticker := time.NewTicker(k.cfg.TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-k.stopCh:
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

// tick is the SysTick_Handler body from spec.md §4.3: decrement every
// delay-blocked task, run the tick hook, then pend and immediately
// service PendSV. A critical section in effect masks the tick
// entirely, the same way disabling SysTick's NVIC line would on real
// hardware.
func (k *Kernel) tick() {
	k.mu.Lock()
	if k.critDepth > 0 {
		k.mu.Unlock()
		return
	}

	for i := 0; i < k.userCount; i++ {
		t := k.tasks[i]
		if t.status == TaskBlocked && t.cause.kind == blockDelay {
			t.delay--
			if t.delay <= 0 {
				t.delay = 0
				t.cause = blockCause{}
				t.status = TaskReady
			}
		}
	}
	hook := k.hooks.Tick
	k.mu.Unlock()

	hook(k)

	k.mu.Lock()
	k.yield()
	k.mu.Unlock()
}

// Delay blocks the calling task for the given number of ticks, the
// osDelay equivalent from spec.md §4.3. ticks <= 0 returns immediately
// without yielding.
func (k *Kernel) Delay(t *Task, ticks int) {
	if ticks <= 0 {
		return
	}
	k.mu.Lock()
	t.delay = ticks
	t.cause = blockCause{kind: blockDelay}
	t.status = TaskBlocked
	k.yield()
	k.mu.Unlock()
	k.checkpoint(t)
}
