package configtree

import "sync"

// publishQueue is the single serialization point for every notification
// the tree delivers: Topic value changes, Topics structural changes. A
// single consumer goroutine drains jobs strictly in enqueue order, which
// is what gives the tree its cross-topic ordering guarantee — a
// subscriber on topic B never observes B's state having raced ahead of a
// notification still pending for topic A that happened-before it.
type publishQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []func()
	closed  bool
	started bool
}

func newPublishQueue() *publishQueue {
	pq := &publishQueue{}
	pq.cond = sync.NewCond(&pq.mu)
	return pq
}

// enqueue appends job to the queue and starts the consumer goroutine on
// first use.
func (pq *publishQueue) enqueue(job func()) {
	pq.mu.Lock()
	pq.jobs = append(pq.jobs, job)
	if !pq.started {
		pq.started = true
		go pq.run()
	}
	pq.cond.Signal()
	pq.mu.Unlock()
}

func (pq *publishQueue) run() {
	for {
		pq.mu.Lock()
		for len(pq.jobs) == 0 && !pq.closed {
			pq.cond.Wait()
		}
		if len(pq.jobs) == 0 && pq.closed {
			pq.mu.Unlock()
			return
		}
		job := pq.jobs[0]
		pq.jobs = pq.jobs[1:]
		pq.mu.Unlock()

		job()
	}
}

// drain blocks until every job enqueued before this call has run. It does
// so by enqueueing a sentinel job and waiting for it to execute, which
// works precisely because the queue is strictly FIFO single-consumer.
func (pq *publishQueue) drain() {
	done := make(chan struct{})
	pq.enqueue(func() { close(done) })
	<-done
}

// close stops the consumer goroutine once the queue empties. Used only at
// process shutdown; it is not necessary to call this in normal operation.
func (pq *publishQueue) close() {
	pq.mu.Lock()
	pq.closed = true
	pq.cond.Broadcast()
	pq.mu.Unlock()
}
