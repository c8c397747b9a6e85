package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nousworks/nous/internal/observability"
)

const (
	// idleSleep is how long a worker waits when no pending item exists.
	idleSleep = 30 * time.Second

	// itemCooldown separates consecutive items on one worker.
	itemCooldown = 5 * time.Second
)

// Processor implements one improvement request. The evolution engine is the
// production implementation.
type Processor interface {
	ImplementImprovement(ctx context.Context, request string) (success bool, message string, err error)
}

// workerConfig carries the knobs the pool loop needs; tests shrink the
// sleeps.
type workerConfig struct {
	idle     time.Duration
	cooldown time.Duration
	metrics  *observability.Metrics
}

// StartWorkers launches the pool. Calling it twice is a no-op until
// StopWorkers.
func (q *Queue) StartWorkers(processor Processor, metrics *observability.Metrics) {
	q.startWorkers(processor, workerConfig{idle: idleSleep, cooldown: itemCooldown, metrics: metrics})
}

func (q *Queue) startWorkers(processor Processor, cfg workerConfig) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	stopCh := q.stopCh
	n := q.maxWorkers
	q.mu.Unlock()

	q.logger.Info("starting workers", "count", n)
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.workerLoop(i, processor, cfg, stopCh)
	}
}

// StopWorkers signals the pool and waits for in-flight items to finish.
func (q *Queue) StopWorkers() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("workers stopped")
}

func (q *Queue) workerLoop(id int, processor Processor, cfg workerConfig, stopCh <-chan struct{}) {
	defer q.wg.Done()
	logger := q.logger.With("worker", id)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		item := q.pickItem()
		if item == nil {
			select {
			case <-stopCh:
				return
			case <-time.After(cfg.idle):
			}
			continue
		}

		q.setActive(+1, cfg.metrics)
		q.processItem(logger, item, processor, cfg, stopCh)
		q.setActive(-1, cfg.metrics)

		select {
		case <-stopCh:
			return
		case <-time.After(cfg.cooldown):
		}
	}
}

func (q *Queue) processItem(logger *slog.Logger, item *Item, processor Processor, cfg workerConfig, stopCh <-chan struct{}) {
	logger.Info("processing item", "id", item.ID, "source", item.Source, "priority", item.Priority)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	q.transition(item.ID, StatusInProgress, "", nil)

	success, message, err := processor.ImplementImprovement(ctx, item.Request)
	if err != nil {
		failed := false
		q.transition(item.ID, StatusFailed, fmt.Sprintf("Error: %v", err), &failed)
		q.observeOutcome(StatusFailed, cfg.metrics)
		return
	}

	status := StatusCompleted
	if !success {
		status = StatusFailed
	}
	q.transition(item.ID, status, message, &success)
	q.observeOutcome(status, cfg.metrics)
}

func (q *Queue) setActive(delta int, metrics *observability.Metrics) {
	q.mu.Lock()
	q.active += delta
	q.mu.Unlock()
	if metrics != nil {
		metrics.QueueActiveWorkers.Add(float64(delta))
	}
}

func (q *Queue) observeOutcome(status Status, metrics *observability.Metrics) {
	if metrics != nil {
		metrics.QueueItemsProcessed.WithLabelValues(string(status)).Inc()
	}
}
