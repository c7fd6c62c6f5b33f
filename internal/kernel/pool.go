package kernel

import (
	"fmt"
	"sync"
)

// job is one kernel launch split into parts. Part p of n runs on a single
// worker with that worker's scratch.
type job interface {
	run(part, parts int, sc *scratch)
}

// funcJob adapts a plain function, used for packing passes.
type funcJob func(part, parts int, sc *scratch)

func (f funcJob) run(part, parts int, sc *scratch) { f(part, parts, sc) }

// scratch is per-worker memory reused across launches.
type scratch struct {
	acc []int32
}

type poolTask struct {
	job         job
	part, parts int
	done        chan error
}

// workerPool keeps a fixed set of goroutines alive across launches so the
// hot path only pays for channel sends.
type workerPool struct {
	size      int
	doneSlots chan chan error

	// mu guards tasks against close while a launch is sending.
	mu     sync.RWMutex
	tasks  chan poolTask
	closed bool
}

func newWorkerPool(size int) *workerPool {
	size = max(size, 1)
	p := &workerPool{
		size:      size,
		tasks:     make(chan poolTask, size*2),
		doneSlots: make(chan chan error, size),
	}
	for range size {
		p.doneSlots <- make(chan error, size)
	}
	for range size {
		sc := &scratch{acc: make([]int32, maxTileM*maxTileN)}
		go func(sc *scratch) {
			for t := range p.tasks {
				t.done <- runPart(t, sc)
			}
		}(sc)
	}
	return p
}

func runPart(t poolTask, sc *scratch) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("kernel worker %d/%d: %v", t.part, t.parts, rec)
		}
	}()
	t.job.run(t.part, t.parts, sc)
	return nil
}

// run executes j split into parts pieces and waits for all of them. It
// returns the first worker failure.
func (p *workerPool) run(j job, parts int) error {
	parts = min(max(parts, 1), p.size)
	if parts == 1 {
		sc := inlineScratch.Get().(*scratch)
		defer inlineScratch.Put(sc)
		return runPart(poolTask{job: j, part: 0, parts: 1}, sc)
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrEngineClosed
	}
	done := <-p.doneSlots
	for part := range parts {
		p.tasks <- poolTask{job: j, part: part, parts: parts, done: done}
	}
	p.mu.RUnlock()
	var first error
	for range parts {
		if err := <-done; err != nil && first == nil {
			first = err
		}
	}
	p.doneSlots <- done
	return first
}

// inlineScratch serves single-part launches that run on the caller's
// goroutine.
var inlineScratch = sync.Pool{
	New: func() any {
		return &scratch{acc: make([]int32, maxTileM*maxTileN)}
	},
}

func (p *workerPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
}
