package rl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/risk-engine/pkg/types"
)

// TrainingJob is one batch training request. Corpus jobs build experiences
// from historical trades before replaying; replay jobs sample the live buffer.
type TrainingJob struct {
	ID      string
	Batches int
	Timeout time.Duration
	Corpus  []TradeCorpusEntry
}

// TradeCorpusEntry pairs a pre-built experience with its source index, letting
// callers trace a training example back to the trade it came from.
type TradeCorpusEntry struct {
	Index      int
	Experience types.Experience
}

// TrainingResult reports one completed training job
type TrainingResult struct {
	ID       string
	Batches  int
	Duration time.Duration
	Err      error
}

// Trainer runs agent training as a background job off the decision path.
// Jobs are processed by a single worker so concurrent training requests are
// serialized rather than competing for the agent, and every job runs under a
// per-job timeout with cooperative cancellation.
type Trainer struct {
	agent   *Agent
	logger  *zap.Logger
	jobs    chan TrainingJob
	results chan TrainingResult
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	defaultTimeout time.Duration
}

// NewTrainer creates a trainer for the given agent
func NewTrainer(agent *Agent, logger *zap.Logger, queueSize int) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 4
	}
	// The results buffer holds one report per queued job plus the job in
	// flight, so Stop can drain the queue without a results consumer.
	ctx, cancel := context.WithCancel(context.Background())
	return &Trainer{
		agent:          agent,
		logger:         logger,
		jobs:           make(chan TrainingJob, queueSize),
		results:        make(chan TrainingResult, queueSize+1),
		ctx:            ctx,
		cancel:         cancel,
		defaultTimeout: 2 * time.Minute,
	}
}

// Start launches the background worker
func (t *Trainer) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop drains the queue and shuts the worker down
func (t *Trainer) Stop() {
	close(t.jobs)
	t.wg.Wait()
	close(t.results)
	t.cancel()
}

// Submit queues a training job. It fails instead of blocking when the queue is
// full, so a flood of training requests degrades to rate limiting.
func (t *Trainer) Submit(job TrainingJob) error {
	select {
	case t.jobs <- job:
		return nil
	case <-t.ctx.Done():
		return t.ctx.Err()
	default:
		return fmt.Errorf("trainer: queue full, job %s rejected", job.ID)
	}
}

// Results returns the channel of completed job reports
func (t *Trainer) Results() <-chan TrainingResult {
	return t.results
}

func (t *Trainer) worker() {
	defer t.wg.Done()

	for {
		select {
		case job, ok := <-t.jobs:
			if !ok {
				return
			}
			result := t.runJob(job)
			select {
			case t.results <- result:
			case <-t.ctx.Done():
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *Trainer) runJob(job TrainingJob) TrainingResult {
	start := time.Now()
	result := TrainingResult{ID: job.ID, Batches: job.Batches}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()

	for _, entry := range job.Corpus {
		if err := ctx.Err(); err != nil {
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}
		t.agent.AddExperience(entry.Experience)
	}

	batches := job.Batches
	if batches <= 0 {
		batches = 1
	}
	for i := 0; i < batches; i++ {
		if err := t.agent.ReplayExperience(ctx, 0); err != nil {
			result.Err = err
			break
		}
	}

	result.Duration = time.Since(start)
	if result.Err != nil {
		t.logger.Warn("training job failed",
			zap.String("job_id", job.ID),
			zap.Duration("duration", result.Duration),
			zap.Error(result.Err))
	} else {
		t.logger.Info("training job complete",
			zap.String("job_id", job.ID),
			zap.Int("batches", batches),
			zap.Duration("duration", result.Duration))
	}
	return result
}
