package kernel

// Semaphore is a binary/counting semaphore grounded on OS_Semaphore_type
// in original_source/iso1_OS/OS/Inc/OS_Semaphore.h. locked is the only
// field that gates Take/Give; maxCount and count are retained for
// introspection but never gate a wait, per spec.md §9's resolution of
// the counting-semaphore Open Question — the original only ever
// implements binary wait/signal regardless of the count passed to init.
type Semaphore struct {
	k *Kernel

	locked   bool
	maxCount int
	count    int
}

// NewSemaphore returns a semaphore initialized locked (taken), matching
// osSemaphoreInit's unconditional locked=1 in the original source
// regardless of the requested count.
func NewSemaphore(k *Kernel, maxCount int) (*Semaphore, error) {
	if k == nil {
		return nil, ErrNilTask
	}
	if maxCount <= 0 {
		maxCount = 1
	}
	return &Semaphore{k: k, locked: true, maxCount: maxCount, count: maxCount}, nil
}

// MaxCount returns the configured maximum count (informational only;
// does not gate Take).
func (s *Semaphore) MaxCount() int { return s.maxCount }

// Take blocks the calling task until the semaphore is unlocked, then
// locks it, the osSemaphoreTake equivalent from spec.md §4.3.
func (s *Semaphore) Take(t *Task) error {
	if s == nil {
		return ErrSemaphoreNil
	}
	k := s.k
	k.mu.Lock()
	for s.locked {
		t.cause = blockCause{kind: blockSemaphore, sem: s}
		t.status = TaskBlocked
		k.yield()
		k.mu.Unlock()
		k.checkpoint(t)
		k.mu.Lock()
	}
	s.locked = true
	if s.count > 0 {
		s.count--
	}
	k.mu.Unlock()
	return nil
}

// Give unlocks the semaphore and wakes any task blocked waiting to take
// it, the osSemaphoreGive equivalent from spec.md §4.3.
func (s *Semaphore) Give() error {
	if s == nil {
		return ErrSemaphoreNil
	}
	k := s.k
	k.mu.Lock()
	s.locked = false
	if s.count < s.maxCount {
		s.count++
	}

	woke := false
	for i := 0; i < k.userCount; i++ {
		t := k.tasks[i]
		if t.status == TaskBlocked && t.cause.kind == blockSemaphore && t.cause.sem == s {
			t.status = TaskReady
			t.cause = blockCause{}
			woke = true
			break // only one waiter can win the lock; see them retry in order
		}
	}
	if woke {
		k.yield()
	}
	k.mu.Unlock()
	return nil
}
