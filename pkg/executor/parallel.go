package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/devicelab-dev/selfheal/pkg/core"
	"github.com/devicelab-dev/selfheal/pkg/flow"
	"github.com/devicelab-dev/selfheal/pkg/heal"
	"github.com/devicelab-dev/selfheal/pkg/recorder"
	"github.com/devicelab-dev/selfheal/pkg/report"
)

// DeviceWorker represents a single device or browser worker that pulls from
// the queue.
type DeviceWorker struct {
	ID       int
	DeviceID string
	Driver   core.Driver
	Cleanup  func()
}

// workItem represents a plan and its index in the original plan list.
type workItem struct {
	flow  *flow.Flow
	index int
}

// ParallelRunner runs plans across several drivers. Workers share the
// healing engine and the memory writer.
type ParallelRunner struct {
	workers []DeviceWorker
	engine  *heal.Engine
	writer  *recorder.Writer
	config  RunnerConfig
}

// NewParallelRunner creates a parallel runner with multiple workers.
func NewParallelRunner(workers []DeviceWorker, engine *heal.Engine, writer *recorder.Writer, config RunnerConfig) *ParallelRunner {
	return &ParallelRunner{
		workers: workers,
		engine:  engine,
		writer:  writer,
		config:  config,
	}
}

// Run executes plans in parallel using a work queue pattern.
// All workers pull from the same queue until all plans are complete.
func (pr *ParallelRunner) Run(ctx context.Context, flows []*flow.Flow) (*RunResult, error) {
	if len(pr.workers) == 0 {
		return nil, fmt.Errorf("no workers available")
	}

	// Runner carrying the shared config; each worker swaps in its driver.
	base := New(nil, pr.engine, pr.writer, pr.config)

	index, flowDetails, err := report.BuildSkeleton(flows, base.builderConfig())
	if err != nil {
		return nil, err
	}
	if err := report.WriteSkeleton(base.config.OutputDir, index, flowDetails); err != nil {
		return nil, err
	}

	indexWriter := report.NewIndexWriter(base.config.OutputDir, index)
	defer indexWriter.Close()

	indexWriter.Start()
	startTime := time.Now()

	workQueue := make(chan workItem, len(flows))
	for i, f := range flows {
		workQueue <- workItem{flow: f, index: i}
	}
	close(workQueue)

	results := make([]FlowResult, len(flows))
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	totalFlows := len(flows)

	for i := range pr.workers {
		wg.Add(1)
		worker := pr.workers[i]

		go func(w DeviceWorker) {
			defer wg.Done()
			if w.Cleanup != nil {
				defer w.Cleanup()
			}

			for item := range workQueue {
				var result FlowResult
				if ctx.Err() != nil {
					skipFlow(base.config.OutputDir, &flowDetails[item.index], indexWriter)
					result = FlowResult{
						ID:     flowDetails[item.index].ID,
						Name:   flowDetails[item.index].Name,
						Status: report.StatusSkipped,
						Error:  "run stopped",
					}
				} else {
					result = base.executeFlow(ctx, w.Driver, item.flow, &flowDetails[item.index], indexWriter, item.index, totalFlows)
				}

				resultsMu.Lock()
				results[item.index] = result
				resultsMu.Unlock()
			}
		}(worker)
	}

	wg.Wait()

	wallClockDuration := time.Since(startTime).Milliseconds()

	indexWriter.End()
	base.writeText(indexWriter, flowDetails)

	// Wall clock time, not the sum of plan durations
	result := base.buildRunResult(results)
	result.Duration = wallClockDuration
	return result, nil
}
