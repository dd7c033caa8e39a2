package service

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/metrics"
	"github.com/rl1809/pos-checkout/internal/port"
)

const publishTimeout = 5 * time.Second

type RelayOptions struct {
	PollInterval time.Duration
	BatchSize    int
	Workers      int
	// BreakerThreshold consecutive publish failures open the breaker for BreakerCooldown.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration
}

// Relay moves outbox events to the broker. Events of the same order always
// go to the same worker, so they are published in the order they were written.
type Relay struct {
	outbox  port.OutboxRepository
	pub     port.EventPublisher
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *metrics.Metrics
	log     *slog.Logger
	opts    RelayOptions
}

func NewRelay(outbox port.OutboxRepository, pub port.EventPublisher, m *metrics.Metrics, log *slog.Logger, opts RelayOptions) *Relay {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BreakerThreshold == 0 {
		opts.BreakerThreshold = 5
	}
	if opts.BreakerCooldown <= 0 {
		opts.BreakerCooldown = 30 * time.Second
	}

	log = log.With("component", "relay")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "broker",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Relay{
		outbox:  outbox,
		pub:     pub,
		breaker: breaker,
		metrics: m,
		log:     log,
		opts:    opts,
	}
}

// Run polls the outbox until ctx is done, then waits for the workers to
// finish the batch in hand.
func (r *Relay) Run(ctx context.Context) {
	queues := make([]chan []domain.OutboxEvent, r.opts.Workers)
	var workers, batch sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan []domain.OutboxEvent, 1)
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			r.workerLoop(id, queues[id], &batch)
		}(i)
	}
	r.log.Info("relay started", "workers", r.opts.Workers, "interval", r.opts.PollInterval.String())

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		r.poll(ctx, queues, &batch)

		select {
		case <-ctx.Done():
			for _, q := range queues {
				close(q)
			}
			workers.Wait()
			r.log.Info("relay stopped")
			return
		case <-ticker.C:
		}
	}
}

func (r *Relay) poll(ctx context.Context, queues []chan []domain.OutboxEvent, batch *sync.WaitGroup) {
	events, err := r.outbox.FetchUnsent(ctx, r.opts.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("outbox poll failed", "action", "relay", "error", err)
		}
		return
	}
	r.metrics.OutboxBacklog.Set(float64(len(events)))
	if len(events) == 0 {
		return
	}

	jobs := make([][]domain.OutboxEvent, len(queues))
	for _, ev := range events {
		i := shard(ev.AggregateID, len(queues))
		jobs[i] = append(jobs[i], ev)
	}
	for i, job := range jobs {
		if len(job) == 0 {
			continue
		}
		batch.Add(1)
		queues[i] <- job
	}
	batch.Wait()
}

func (r *Relay) workerLoop(id int, queue <-chan []domain.OutboxEvent, batch *sync.WaitGroup) {
	for job := range queue {
		r.publishJob(id, job)
		batch.Done()
	}
}

// publishJob stops publishing events of an order after its first failure,
// so a later event never overtakes an earlier one.
func (r *Relay) publishJob(id int, job []domain.OutboxEvent) {
	failed := make(map[string]bool)
	for _, ev := range job {
		if failed[ev.AggregateID] {
			continue
		}
		if err := r.publish(ev); err != nil {
			failed[ev.AggregateID] = true
			r.metrics.EventsPublished.WithLabelValues(ev.Type, "failed").Inc()
			r.log.Warn("event publish failed", "action", "relay", "worker", id,
				"event_id", ev.ID, "event_type", ev.Type, "aggregate_id", ev.AggregateID, "error", err)
			continue
		}
		r.metrics.EventsPublished.WithLabelValues(ev.Type, "sent").Inc()
	}
}

func (r *Relay) publish(ev domain.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	_, err := r.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, r.pub.Publish(ctx, ev)
	})
	if err != nil {
		return err
	}
	// a crash before this point republishes the event; consumers dedupe on event id
	return r.outbox.MarkSent(ctx, ev.Seq, time.Now().UTC())
}

func shard(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
