package worker

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/crawl"
	"github.com/cbmoss/linksentry/internal/linkscan"
	"github.com/cbmoss/linksentry/internal/progress"
)

// Pool runs a fixed number of workers against one queue.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool builds size workers. Worker IDs combine the hostname, slot index
// and a random suffix so two processes on one machine never collide.
func NewPool(
	size int,
	queue linkscan.JobQueue,
	runs linkscan.RunStore,
	engine *crawl.Engine,
	clock linkscan.Clock,
	emitter progress.Emitter,
	logger *zap.Logger,
	cfg Config,
) *Pool {
	if size <= 0 {
		size = 1
	}
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	p := &Pool{}
	for i := 0; i < size; i++ {
		id := fmt.Sprintf("%s#%d-%s", host, i, uuid.Must(uuid.NewV7()).String()[:8])
		p.workers = append(p.workers, New(id, queue, runs, engine, clock, emitter, logger, cfg))
	}
	return p
}

// Start launches every worker. Use Wait to block until they exit.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until all workers have returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
