package gpuexec

import (
	"time"

	"github.com/tutu-network/tutu/internal/domain"
	"github.com/tutu-network/tutu/internal/metrics"
	"github.com/tutu-network/tutu/internal/modelexec"
	"github.com/tutu-network/tutu/internal/runner"
)

// multiBatchIteration serves one pass over the resident set, proportioning
// the duty cycle by each executor's configured batch size × estimated
// per-sample latency, and sleeping out whatever's left of the duty cycle if
// the resident set didn't use it all.
func (g *GpuExecutor) multiBatchIteration() {
	resident := g.Resident()
	dutyCycle := g.DutyCycle()
	if len(resident) == 0 {
		time.Sleep(defaultPopTimeout)
		return
	}

	shares := computeShares(resident, dutyCycle)

	var used time.Duration
	for _, e := range resident {
		share := shares[e]
		deadline := time.Now().Add(share)
		for time.Now().Before(deadline) {
			elapsed, served := g.serveExecutor(e, e.Batch())
			used += elapsed
			if served == 0 {
				break
			}
		}
	}

	if dutyCycle > 0 {
		metrics.DutyCycleUtilization.Set(float64(used) / float64(dutyCycle))
	}
	if used < dutyCycle {
		time.Sleep(dutyCycle - used)
	}
}

// computeShares proportions dutyCycle across resident executors by
// batch-size × per-sample latency, the heavier workloads getting a larger
// slice. An executor with an unknown (zero) latency estimate gets an equal
// nominal share instead of being starved. A plain executor's static profile
// is looked up by its session id; composite executors are looked up with an
// empty id and so rely on their measured estimate.
func computeShares(resident []*modelexec.ModelExecutor, dutyCycle time.Duration) map[*modelexec.ModelExecutor]time.Duration {
	weights := make(map[*modelexec.ModelExecutor]float64, len(resident))
	var total float64
	for _, e := range resident {
		sessionID := ""
		if p, ok := e.Runner().(*runner.PlainModel); ok {
			sessionID = p.Session().String()
		}
		w := float64(e.Batch()) * float64(e.EstimatedLatencyPerSample(sessionID))
		if w <= 0 {
			w = 1
		}
		weights[e] = w
		total += w
	}

	shares := make(map[*modelexec.ModelExecutor]time.Duration, len(resident))
	if total <= 0 {
		return shares
	}
	for e, w := range weights {
		shares[e] = time.Duration(float64(dutyCycle) * w / total)
	}
	return shares
}

// roundRobinIteration serves each resident executor in turn with no
// duty-cycle pacing, draining up to its batch size before moving on.
func (g *GpuExecutor) roundRobinIteration() {
	resident := g.Resident()
	if len(resident) == 0 {
		time.Sleep(defaultPopTimeout)
		return
	}
	any := false
	for _, e := range resident {
		_, served := g.serveExecutor(e, e.Batch())
		if served > 0 {
			any = true
		}
	}
	if !any {
		time.Sleep(defaultPopTimeout)
	}
}

// serveExecutor pulls up to maxItems ready tasks off e's queue, runs one
// Forward pass, and dispatches the replies. It returns the elapsed Forward
// duration and the number of tasks served (0 if the queue had nothing
// ready).
func (g *GpuExecutor) serveExecutor(e *modelexec.ModelExecutor, maxItems int) (time.Duration, int) {
	if maxItems <= 0 {
		maxItems = 1
	}
	tasks := e.Queue.TryPop(maxItems)
	if len(tasks) == 0 {
		return 0, 0
	}

	r := e.Runner()
	items := make([]runner.BatchItem, len(tasks))
	preErrs := make([]error, len(tasks))
	preJobs := make([]func(), len(tasks))
	for i, t := range tasks {
		i, t := i, t
		preJobs[i] = func() {
			data, err := r.Preprocess(t)
			if err != nil {
				preErrs[i] = err
				return
			}
			items[i] = runner.BatchItem{SessionID: t.SessionID, Data: data}
		}
	}
	g.pool.Run(preJobs)

	live := make([]*domain.Task, 0, len(tasks))
	liveItems := make([]runner.BatchItem, 0, len(tasks))
	for i, t := range tasks {
		if preErrs[i] != nil {
			t.Status = domain.TaskFailed
			t.Err = preErrs[i]
			_ = t.Dispatch()
			continue
		}
		live = append(live, t)
		liveItems = append(liveItems, items[i])
	}
	if len(live) == 0 {
		return 0, len(tasks)
	}

	start := time.Now()
	outputs, err := r.Forward(liveItems)
	elapsed := time.Since(start)
	metrics.ForwardLatency.WithLabelValues(live[0].SessionID).Observe(elapsed.Seconds())

	postJobs := make([]func(), len(live))
	for i, t := range live {
		i, t := i, t
		postJobs[i] = func() {
			if err != nil {
				t.Status = domain.TaskFailed
				t.Err = err
				_ = t.Dispatch()
				metrics.RepliesTotal.WithLabelValues(t.SessionID, "MODEL_FORWARD_ERROR").Inc()
				return
			}
			status := "OK"
			if perr := r.Postprocess(t, outputs[i]); perr != nil {
				t.Status = domain.TaskFailed
				t.Err = perr
				status = "POSTPROCESS_ERROR"
			}
			_ = t.Dispatch()
			metrics.RepliesTotal.WithLabelValues(t.SessionID, status).Inc()
		}
	}
	g.pool.Run(postJobs)

	if err == nil {
		e.RecordLatency(elapsed, len(live))
	}
	return elapsed, len(tasks)
}
