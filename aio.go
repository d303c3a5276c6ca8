// SPDX-License-Identifier: GPL-3.0-or-later

package corosock

// aioQueueSize bounds the number of jobs waiting for a worker.
const aioQueueSize = 128

// aioJob is a blocking job dispatched to the AIO worker pool.
type aioJob struct {
	// run executes on a worker goroutine and must store its outcome
	// in variables captured by complete.
	run func()

	// complete executes on the loop goroutine after run returns.
	complete func()
}

// aioPool is a fixed-size worker pool for blocking jobs. Jobs run on
// worker goroutines; completions are posted back to the loop goroutine,
// so the rest of the package never observes concurrent mutation.
type aioPool struct {
	// jobs is the submission queue.
	jobs chan aioJob

	// post re-enters a completion on the loop goroutine.
	post func(func())
}

// newAIOPool creates the pool and spawns the workers.
func newAIOPool(workers int, post func(func())) *aioPool {
	if workers <= 0 {
		workers = 1
	}
	p := &aioPool{jobs: make(chan aioJob, aioQueueSize), post: post}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// worker drains the submission queue until the pool is closed.
func (p *aioPool) worker() {
	for job := range p.jobs {
		job.run()
		p.post(job.complete)
	}
}

// submit enqueues a job.
func (p *aioPool) submit(job aioJob) {
	p.jobs <- job
}

// close stops the workers once the queue drains.
func (p *aioPool) close() {
	close(p.jobs)
}

// aioSubmit dispatches run to the AIO pool and schedules complete on
// the loop goroutine after run returns. The pool is created on first
// use with [Config.AIOWorkers] workers.
func (l *Loop) aioSubmit(run, complete func()) {
	if l.aio == nil {
		l.aio = newAIOPool(l.aioWorkers, l.Post)
	}
	l.aio.submit(aioJob{run: run, complete: complete})
}
