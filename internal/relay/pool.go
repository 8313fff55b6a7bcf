package relay

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/susu3304/anonchat/internal/metrics"
)

// Pool runs tasks on at most size goroutines at a time. Go never blocks the
// caller, so tasks may submit further tasks without deadlocking.
type Pool struct {
	sem  *semaphore.Weighted
	size int
	wg   sync.WaitGroup
	log  *zap.Logger
}

func NewPool(size int, log *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size, log: log}
}

func (p *Pool) Size() int { return p.size }

// Go schedules task. Tasks run in no particular order.
func (p *Pool) Go(task func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				metrics.RelayPanics.Inc()
				p.log.Error("worker task panicked", zap.Error(fmt.Errorf("%v", r)))
			}
		}()
		task()
	}()
}

// Wait blocks until every scheduled task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
