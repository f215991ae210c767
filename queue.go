package kernel

// Queue is a bounded FIFO of word-sized messages, grounded on
// OS_Queue_type in original_source/iso1_OS/OS/Inc/OS_Queue.h. Capacity is
// fixed at NewQueue time and backed by an array sized MaxQueueCapacity;
// unlike the original, which malloc'd and free'd a node per Send/Receive
// (a known RTOS hazard — heap fragmentation and unbounded allocation
// latency inside a scheduler), the backing store here is allocated once
// and never grows, per spec.md §4.4 and §9.
type Queue struct {
	k *Kernel

	buf      [MaxQueueCapacity]uint32
	capacity int
	front    int
	back     int
	count    int
}

// NewQueue allocates a queue of the given capacity (1..MaxQueueCapacity)
// bound to k, the osQueueInit equivalent from spec.md §4.4.
func NewQueue(k *Kernel, capacity int) (*Queue, error) {
	if k == nil {
		return nil, ErrNilTask
	}
	if capacity <= 0 || capacity > MaxQueueCapacity {
		return nil, ErrQueueCapacity
	}
	return &Queue{k: k, capacity: capacity}, nil
}

// Capacity returns the queue's fixed capacity.
func (q *Queue) Capacity() int { return q.capacity }

// Len returns the number of items currently queued.
func (q *Queue) Len() int {
	q.k.mu.Lock()
	defer q.k.mu.Unlock()
	return q.count
}

// Send appends item to the back of the queue, blocking the calling task
// if the queue is full until room is made by a Receive, the
// osQueueSend equivalent from spec.md §4.4.
func (q *Queue) Send(t *Task, item uint32) error {
	if q == nil {
		return ErrQueueNil
	}
	k := q.k
	k.mu.Lock()
	for q.count == q.capacity {
		t.cause = blockCause{kind: blockQueueFull, queue: q}
		t.status = TaskBlocked
		k.yield()
		k.mu.Unlock()
		k.checkpoint(t)
		k.mu.Lock()
	}

	q.buf[q.back] = item
	q.back = (q.back + 1) % q.capacity
	q.count++

	// Only the empty->nonempty transition can matter to a blocked
	// receiver, per spec.md §4.4's transition-only unblock rule.
	if q.count == 1 {
		k.unblockQueueWaiters(q, blockQueueEmpty)
	}
	k.mu.Unlock()
	return nil
}

// Receive removes and returns the item at the front of the queue,
// blocking the calling task if the queue is empty until an item is
// sent, the osQueueReceive equivalent from spec.md §4.4.
func (q *Queue) Receive(t *Task) (uint32, error) {
	if q == nil {
		return 0, ErrQueueNil
	}
	k := q.k
	k.mu.Lock()
	for q.count == 0 {
		t.cause = blockCause{kind: blockQueueEmpty, queue: q}
		t.status = TaskBlocked
		k.yield()
		k.mu.Unlock()
		k.checkpoint(t)
		k.mu.Lock()
	}

	item := q.buf[q.front]
	q.front = (q.front + 1) % q.capacity
	q.count--

	// Only the full->not-full transition can matter to a blocked
	// sender.
	if q.count == q.capacity-1 {
		k.unblockQueueWaiters(q, blockQueueFull)
	}
	k.mu.Unlock()
	return item, nil
}

// unblockQueueWaiters promotes every task blocked on q for the given
// cause back to Ready and runs the scheduler once so a higher-priority
// waiter preempts immediately. Must be called with k.mu held.
func (k *Kernel) unblockQueueWaiters(q *Queue, kind blockKind) {
	woke := false
	for i := 0; i < k.userCount; i++ {
		t := k.tasks[i]
		if t.status == TaskBlocked && t.cause.kind == kind && t.cause.queue == q {
			t.status = TaskReady
			t.cause = blockCause{}
			woke = true
		}
	}
	if woke {
		k.yield()
	}
}
