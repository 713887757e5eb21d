package gpuexec

import "sync"

// workerPool runs Preprocess/Postprocess jobs handed off by the GPU driver
// thread on a small set of background goroutines, distinct from the
// per-model queues they pull work items from.
type workerPool struct {
	jobs      chan func()
	closeOnce sync.Once
}

func newWorkerPool(n int) *workerPool {
	if n <= 0 {
		n = 4
	}
	p := &workerPool{jobs: make(chan func())}
	for i := 0; i < n; i++ {
		go func() {
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Run executes jobs concurrently across the pool and blocks until all
// complete.
func (p *workerPool) Run(jobs []func()) {
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, job := range jobs {
		job := job
		p.jobs <- func() {
			defer wg.Done()
			job()
		}
	}
	wg.Wait()
}

func (p *workerPool) Close() { p.closeOnce.Do(func() { close(p.jobs) }) }
