package redpanda

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/taskhub/internal/domain"
	"github.com/fairyhunter13/taskhub/internal/worker"
)

// ConsumerOptions configures one consumer process.
type ConsumerOptions struct {
	Brokers  []string
	Topic    string
	GroupID  string
	WorkerID string

	MinWorkers        int
	MaxWorkers        int
	ScalingInterval   time.Duration
	HeartbeatInterval time.Duration
}

// Consumer pulls task records off the topic and runs them through the
// execution wrapper on a dynamically sized worker pool. A record is
// marked for commit only after the wrapper has persisted its outcome, so
// a crash mid-task redelivers rather than loses it.
type Consumer struct {
	client   *kgo.Client
	backend  *Backend
	wrapper  *worker.Wrapper
	registry *worker.Registry

	opts ConsumerOptions

	jobQueue   chan *kgo.Record
	stopWorker chan struct{}
	shutdown   chan struct{}

	workerMu      sync.Mutex
	activeWorkers int
}

// NewConsumer constructs a Consumer and ensures the topic exists.
func NewConsumer(opts ConsumerOptions, backend *Backend, wrapper *worker.Wrapper, registry *worker.Registry) (*Consumer, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if opts.GroupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if opts.Topic == "" {
		return nil, fmt.Errorf("missing required topic")
	}
	if opts.MinWorkers < 1 {
		opts.MinWorkers = 1
	}
	if opts.MaxWorkers < opts.MinWorkers {
		opts.MaxWorkers = opts.MinWorkers
	}
	if opts.ScalingInterval <= 0 {
		opts.ScalingInterval = 2 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}

	kotelTracer := kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
	)
	kotelService := kotel.NewKotel(
		kotel.WithTracer(kotelTracer),
	)

	clientOpts := []kgo.Opt{
		kgo.SeedBrokers(opts.Brokers...),
		kgo.ConsumerGroup(opts.GroupID),
		kgo.ConsumeTopics(opts.Topic),
		kgo.WithHooks(kotelService.Hooks()...),

		kgo.DialTimeout(10 * time.Second),
		kgo.SessionTimeout(30 * time.Second),
		kgo.HeartbeatInterval(3 * time.Second),
		kgo.RebalanceTimeout(10 * time.Second),
		kgo.FetchMaxWait(5 * time.Second),

		// Only records marked after a persisted outcome get committed.
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(1 * time.Second),
	}
	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("redpanda consumer client: %w", err)
	}

	if err := ensureTopic(context.Background(), client, opts.Topic, 1, 1); err != nil {
		slog.Warn("failed to create topic, it may already exist",
			slog.String("topic", opts.Topic),
			slog.Any("error", err))
	}

	slog.Info("redpanda consumer created",
		slog.String("group_id", opts.GroupID),
		slog.String("topic", opts.Topic),
		slog.Int("min_workers", opts.MinWorkers),
		slog.Int("max_workers", opts.MaxWorkers))
	return &Consumer{
		client:     client,
		backend:    backend,
		wrapper:    wrapper,
		registry:   registry,
		opts:       opts,
		jobQueue:   make(chan *kgo.Record, opts.MaxWorkers*2),
		stopWorker: make(chan struct{}, opts.MaxWorkers),
		shutdown:   make(chan struct{}),
	}, nil
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for i := 0; i < c.opts.MinWorkers; i++ {
		c.spawnWorker(ctx)
	}
	go c.heartbeatLoop(ctx)
	go c.poolManager(ctx)

	slog.Info("consumer started",
		slog.String("worker_id", c.opts.WorkerID),
		slog.Int("workers", c.opts.MinWorkers))

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			close(c.shutdown)
			return nil
		}
		if ctx.Err() != nil {
			close(c.shutdown)
			c.client.Close()
			return ctx.Err()
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		for it := fetches.RecordIter(); !it.Done(); {
			rec := it.Next()
			select {
			case c.jobQueue <- rec:
			case <-ctx.Done():
				close(c.shutdown)
				c.client.Close()
				return ctx.Err()
			}
		}
	}
}

// spawnWorker starts one pool worker goroutine.
func (c *Consumer) spawnWorker(ctx context.Context) {
	c.workerMu.Lock()
	c.activeWorkers++
	id := c.activeWorkers
	c.workerMu.Unlock()

	go func() {
		defer func() {
			c.workerMu.Lock()
			c.activeWorkers--
			c.workerMu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.shutdown:
				return
			case <-c.stopWorker:
				slog.Debug("worker stopped by scaler", slog.Int("worker", id))
				return
			case rec := <-c.jobQueue:
				if err := c.process(ctx, rec); err != nil {
					slog.Error("record processing failed, leaving uncommitted",
						slog.Any("error", err))
					continue
				}
				c.client.MarkCommitRecords(rec)
			}
		}
	}()
}

// poolManager grows the pool while the job queue backs up and shrinks it
// back toward the minimum when it drains.
func (c *Consumer) poolManager(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ScalingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			backlog := len(c.jobQueue)
			c.workerMu.Lock()
			active := c.activeWorkers
			c.workerMu.Unlock()
			switch {
			case backlog > cap(c.jobQueue)/2 && active < c.opts.MaxWorkers:
				slog.Info("scaling worker pool up",
					slog.Int("backlog", backlog), slog.Int("active", active))
				c.spawnWorker(ctx)
			case backlog == 0 && active > c.opts.MinWorkers:
				select {
				case c.stopWorker <- struct{}{}:
				default:
				}
			}
		}
	}
}

// heartbeatLoop keeps this process visible to the broker probe.
func (c *Consumer) heartbeatLoop(ctx context.Context) {
	beat := func() {
		ttl := 3 * c.opts.HeartbeatInterval
		if err := c.backend.Heartbeat(ctx, c.opts.WorkerID, c.registry.Types(), ttl); err != nil {
			slog.Warn("heartbeat write failed", slog.Any("error", err))
		}
	}
	beat()
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			beat()
		}
	}
}

// process handles one record: decode, honor revocation, expiry, and ETA,
// then hand off to the wrapper. A nil return marks the record committed.
func (c *Consumer) process(ctx context.Context, rec *kgo.Record) error {
	tr, err := DecodeRecord(rec.Value)
	if err != nil {
		// Undecodable records cannot be retried; drop them committed.
		slog.Error("dropping malformed record", slog.Any("error", err))
		return nil
	}
	log := slog.With(
		slog.String("execution_id", tr.ExecutionID),
		slog.String("task_type", tr.TaskType))

	revoked, err := c.backend.IsRevoked(ctx, tr.ExecutionID)
	if err != nil {
		log.Warn("revocation check failed", slog.Any("error", err))
	}
	if revoked {
		log.Info("dropping revoked execution")
		return nil
	}

	now := time.Now().UTC()
	if tr.ExpiresAt != nil && now.After(*tr.ExpiresAt) {
		log.Warn("dropping expired execution", slog.Time("expires_at", *tr.ExpiresAt))
		if err := c.backend.WriteResult(ctx, tr.ExecutionID, domain.ExecutionStatus{
			State: "EXPIRED", Failed: true,
		}); err != nil {
			log.Warn("expiry result write failed", slog.Any("error", err))
		}
		return nil
	}
	if tr.ETA != nil && tr.ETA.After(now) {
		wait := time.Until(*tr.ETA)
		log.Debug("delaying execution until eta", slog.Duration("wait", wait))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return c.wrapper.Execute(ctx, tr.Execution())
}
