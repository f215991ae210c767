package kernel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{TickPeriod: time.Millisecond}
}

// TestFirstDispatch covers spec.md §8 property 1: after Start, the first
// instruction executed in thread mode belongs to the highest-priority
// registered task.
func TestFirstDispatch(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())

	var started int32
	var first int32 // 1 if hi's entry ran first, 2 if lo's did
	hi := NewTask("hi")
	require.NoError(t, k.TaskCreate(hi, VeryHigh, func(kk *Kernel) {
		atomic.CompareAndSwapInt32(&first, 0, 1)
		atomic.StoreInt32(&started, 1)
		for {
			kk.Delay(hi, 1000)
		}
	}))
	lo := NewTask("lo")
	require.NoError(t, k.TaskCreate(lo, Low, func(kk *Kernel) {
		atomic.CompareAndSwapInt32(&first, 0, 2)
		for {
			kk.Delay(lo, 1000)
		}
	}))

	require.NoError(t, k.Start())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&started) == 1
	}, 200*time.Millisecond, time.Millisecond)

	require.Equal(t, int32(1), atomic.LoadInt32(&first), "the higher-priority task's entry must run first")
}

// TestPriorityPreemption covers spec.md §8 property 2: a VeryHigh task
// that is always Ready keeps a Normal task from ever reaching Running.
func TestPriorityPreemption(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())

	var hiRuns, loRuns int64
	hi := NewTask("hi")
	require.NoError(t, k.TaskCreate(hi, VeryHigh, func(kk *Kernel) {
		for {
			atomic.AddInt64(&hiRuns, 1)
			kk.Yield(hi)
		}
	}))
	lo := NewTask("lo")
	require.NoError(t, k.TaskCreate(lo, Normal, func(kk *Kernel) {
		for {
			atomic.AddInt64(&loRuns, 1)
			kk.Yield(lo)
		}
	}))

	require.NoError(t, k.Start())
	time.Sleep(30 * time.Millisecond)

	assert.Greater(t, atomic.LoadInt64(&hiRuns), int64(0))
	assert.Zero(t, atomic.LoadInt64(&loRuns), "lower-priority task must never run while the higher-priority task stays Ready")
}

// TestRoundRobinFairness covers spec.md §8 property 3: equal-priority
// tasks each make progress.
func TestRoundRobinFairness(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())

	var a, b int64
	ta := NewTask("a")
	require.NoError(t, k.TaskCreate(ta, Normal, func(kk *Kernel) {
		for {
			atomic.AddInt64(&a, 1)
			kk.Yield(ta)
		}
	}))
	tb := NewTask("b")
	require.NoError(t, k.TaskCreate(tb, Normal, func(kk *Kernel) {
		for {
			atomic.AddInt64(&b, 1)
			kk.Yield(tb)
		}
	}))

	require.NoError(t, k.Start())
	time.Sleep(30 * time.Millisecond)

	assert.Greater(t, atomic.LoadInt64(&a), int64(0))
	assert.Greater(t, atomic.LoadInt64(&b), int64(0))
}

// TestDelayMonotonicity covers spec.md §8 property 4: a task delayed N
// ticks resumes after about N tick periods of wall-clock time. The bounds
// allow 2ms early and up to 20ms late for host timer jitter.
func TestDelayMonotonicity(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())

	start := make(chan struct{}, 1)
	woke := make(chan time.Duration, 1)
	const delayTicks = 20

	task := NewTask("sleeper")
	require.NoError(t, k.TaskCreate(task, Normal, func(kk *Kernel) {
		start <- struct{}{}
		begin := time.Now()
		kk.Delay(task, delayTicks)
		woke <- time.Now().Sub(begin)
		for {
			kk.Delay(task, 1000)
		}
	}))
	idle := NewTask("filler")
	require.NoError(t, k.TaskCreate(idle, Normal, func(kk *Kernel) {
		for {
			kk.Yield(idle)
		}
	}))

	require.NoError(t, k.Start())
	<-start

	select {
	case elapsed := <-woke:
		want := delayTicks * time.Millisecond
		assert.GreaterOrEqual(t, elapsed, want-2*time.Millisecond)
		assert.Less(t, elapsed, want+20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("task never woke from Delay")
	}
}

// TestQueueFIFOOrder covers spec.md §8 property 5 / scenario S2: items
// come out of a queue in the order they went in.
func TestQueueFIFOOrder(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())
	q, err := NewQueue(k, 4)
	require.NoError(t, err)

	var mu sync.Mutex
	var received []uint32
	const n = 20

	producer := NewTask("producer")
	require.NoError(t, k.TaskCreate(producer, Normal, func(kk *Kernel) {
		for i := uint32(0); i < n; i++ {
			require.NoError(t, q.Send(producer, i))
		}
		for {
			kk.Delay(producer, 1000)
		}
	}))
	consumer := NewTask("consumer")
	require.NoError(t, k.TaskCreate(consumer, Normal, func(kk *Kernel) {
		for {
			v, err := q.Receive(consumer)
			if err != nil {
				continue
			}
			mu.Lock()
			received = append(received, v)
			done := len(received) == n
			mu.Unlock()
			if done {
				for {
					kk.Delay(consumer, 1000)
				}
			}
		}
	}))

	require.NoError(t, k.Start())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == n
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range received {
		assert.Equal(t, uint32(i), v)
	}
}

// TestQueueBackPressure covers spec.md §8 property 6: a queue's length
// never exceeds its configured capacity.
func TestQueueBackPressure(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())
	const capacity = 4
	q, err := NewQueue(k, capacity)
	require.NoError(t, err)

	var maxLen int32
	producer := NewTask("producer")
	require.NoError(t, k.TaskCreate(producer, Normal, func(kk *Kernel) {
		var i uint32
		for {
			require.NoError(t, q.Send(producer, i))
			if l := int32(q.Len()); l > atomic.LoadInt32(&maxLen) {
				atomic.StoreInt32(&maxLen, l)
			}
			i++
		}
	}))
	consumer := NewTask("consumer")
	require.NoError(t, k.TaskCreate(consumer, Low, func(kk *Kernel) {
		for {
			q.Receive(consumer)
			kk.Delay(consumer, 3)
		}
	}))

	require.NoError(t, k.Start())
	time.Sleep(30 * time.Millisecond)

	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxLen)), capacity)
}

// TestSemaphoreMutualExclusion covers spec.md §8 property 7 / scenario
// S4: two tasks guarded by a binary semaphore never observe each other
// inside the critical section.
func TestSemaphoreMutualExclusion(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())
	sem, err := NewSemaphore(k, 1)
	require.NoError(t, err)
	require.NoError(t, sem.Give())

	var inside int32
	var violations int32

	work := func(self *Task) func(kk *Kernel) {
		return func(kk *Kernel) {
			for {
				require.NoError(t, sem.Take(self))
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&violations, 1)
				}
				atomic.AddInt32(&inside, -1)
				require.NoError(t, sem.Give())
				kk.Yield(self)
			}
		}
	}

	t1 := NewTask("t1")
	t2 := NewTask("t2")
	require.NoError(t, k.TaskCreate(t1, Normal, work(t1)))
	require.NoError(t, k.TaskCreate(t2, Normal, work(t2)))

	require.NoError(t, k.Start())
	time.Sleep(30 * time.Millisecond)

	assert.Zero(t, atomic.LoadInt32(&violations))
}

// TestIdleFallback covers spec.md §8 property 8: when every registered
// task is blocked, the scheduler falls back to the idle task.
func TestIdleFallback(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())

	var idleRuns int32
	hooks := DefaultHooks()
	hooks.Idle = func(kk *Kernel) {
		atomic.AddInt32(&idleRuns, 1)
	}
	k.hooks = hooks.withDefaults()

	only := NewTask("only")
	require.NoError(t, k.TaskCreate(only, Normal, func(kk *Kernel) {
		kk.Delay(only, 1_000_000)
	}))

	require.NoError(t, k.Start())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&idleRuns) > 0
	}, 500*time.Millisecond, time.Millisecond)
}

// TestIRQDispatch covers spec.md §8 scenario S6: a registered handler is
// called exactly once per raised interrupt with the data it was
// registered with, dispatched with the kernel status set to StatusIRQ;
// unregistering stops further delivery of the same stimulus.
func TestIRQDispatch(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())

	const adcLine = 5
	type sample struct{ channel int }
	ctx := &sample{channel: 3}

	var calls int32
	var sawStatus Status
	var sawData *sample
	require.NoError(t, k.RegisterIRQ(adcLine, func(kk *Kernel, data any) {
		atomic.AddInt32(&calls, 1)
		sawStatus = kk.Status()
		sawData = data.(*sample)
	}, ctx))

	require.NoError(t, k.RaiseIRQ(adcLine))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, StatusIRQ, sawStatus)
	assert.Same(t, ctx, sawData)

	require.NoError(t, k.UnregisterIRQ(adcLine))
	require.NoError(t, k.RaiseIRQ(adcLine))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "handler must not run again after UnregisterIRQ")
}

// TestFPUContextSwitch covers spec.md §4.7: a task created with
// EnableFPU carries its FP register block across a context switch
// unchanged, exercising the PendSV push/pop path the FPU bit gates.
func TestFPUContextSwitch(t *testing.T) {
	k := New(fastConfig(), DefaultHooks())

	var loRuns int32
	task := NewTask("fpu-user")
	task.EnableFPU()
	task.fpRegs[0] = 0xdeadbeef
	task.fpRegs[15] = 0xcafef00d
	require.NoError(t, k.TaskCreate(task, Normal, func(kk *Kernel) {
		for {
			assert.Equal(t, uint32(0xdeadbeef), task.fpRegs[0])
			assert.Equal(t, uint32(0xcafef00d), task.fpRegs[15])
			kk.Yield(task)
		}
	}))
	filler := NewTask("filler")
	require.NoError(t, k.TaskCreate(filler, Normal, func(kk *Kernel) {
		for {
			atomic.AddInt32(&loRuns, 1)
			kk.Yield(filler)
		}
	}))

	require.NoError(t, k.Start())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&loRuns) > 3
	}, 200*time.Millisecond, time.Millisecond)
}
