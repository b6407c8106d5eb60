package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TradePilot/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
)

// MessageHandler consumes payloads from one topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// ConsumerOption configures Consumer.
type ConsumerOption func(*ConsumerConfig)

// ConsumerConfig holds reader and worker-pool settings.
type ConsumerConfig struct {
	Brokers     []string
	GroupID     string
	WorkerCount int
	BufferSize  int
	RetryMax    int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	DLQTopic    string
	MinBytes    int
	MaxBytes    int
	Logger      *logger.Logger
}

// WithConsumerBrokers sets the Kafka brokers.
func WithConsumerBrokers(brokers []string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Brokers = brokers
	}
}

// WithConsumerGroupID sets the consumer group.
func WithConsumerGroupID(groupID string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.GroupID = groupID
	}
}

// WithConsumerWorkers sets the worker pool size.
func WithConsumerWorkers(count int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if count > 0 {
			c.WorkerCount = count
		}
	}
}

// WithConsumerBufferSize sets the fetch channel capacity.
func WithConsumerBufferSize(n int) ConsumerOption {
	return func(c *ConsumerConfig) {
		if n > 0 {
			c.BufferSize = n
		}
	}
}

// WithConsumerRetry sets the per-message retry budget and backoff
// range.
func WithConsumerRetry(max int, backoffMin, backoffMax time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryMax = max
		c.BackoffMin = backoffMin
		c.BackoffMax = backoffMax
	}
}

// WithConsumerDLQ routes messages that exhaust retries to a
// dead-letter topic. Without one, failed messages stay uncommitted
// and are redelivered.
func WithConsumerDLQ(topic string) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.DLQTopic = topic
	}
}

// WithConsumerFetch sets fetch min/max bytes.
func WithConsumerFetch(minBytes, maxBytes int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.MinBytes = minBytes
		c.MaxBytes = maxBytes
	}
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(lgr *logger.Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Logger = lgr
	}
}

// Consumer reads registered topics through a worker pool. Fetch and
// commit are explicit, so a message's offset only advances once its
// handler succeeded or the message landed in the DLQ.
type Consumer struct {
	cfg      *ConsumerConfig
	lgr      *logger.Logger
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	hook     ConsumerHook
	dlq      *kafka.Writer

	msgCh    chan fetched
	ctx      context.Context
	cancel   context.CancelFunc
	readerWg sync.WaitGroup
	workerWg sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	partSlots map[partKey]*sync.Mutex
}

type fetched struct {
	topic string
	msg   kafka.Message
}

type partKey struct {
	topic     string
	partition int
}

// NewConsumer builds a consumer from options. Brokers are required.
func NewConsumer(opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:     "default",
		WorkerCount: 1,
		BufferSize:  10,
		RetryMax:    3,
		BackoffMin:  50 * time.Millisecond,
		BackoffMax:  2 * time.Second,
		MinBytes:    1,
		MaxBytes:    10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}

	c := &Consumer{
		cfg:       cfg,
		lgr:       cfg.Logger,
		handlers:  make(map[string]MessageHandler),
		readers:   make(map[string]*kafka.Reader),
		hook:      NoopHook{},
		msgCh:     make(chan fetched, cfg.BufferSize),
		partSlots: make(map[partKey]*sync.Mutex),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}

	registerConsumerMetrics()
	return c, nil
}

// WithConsumerHook installs a lifecycle hook. Must be called before
// Start.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler binds a handler to its topic. Must be called before
// Start.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.lgr.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// Start opens one reader per registered topic and spins up the worker
// pool.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	for topic := range c.handlers {
		c.readers[topic] = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
	}

	for i := 0; i < c.cfg.WorkerCount; i++ {
		c.workerWg.Add(1)
		go c.worker()
	}
	for topic, reader := range c.readers {
		c.readerWg.Add(1)
		go c.readLoop(topic, reader)
	}

	c.lgr.Info("kafka consumer started",
		logger.Int("topics", len(c.readers)),
		logger.Int("workers", c.cfg.WorkerCount))
	return nil
}

// Stop drains readers and workers, bounded by ctx's deadline.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.cancel()
		c.readerWg.Wait()
		close(c.msgCh)

		done := make(chan struct{})
		go func() {
			c.workerWg.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("consumer stop: %w", ctx.Err())
		case <-done:
		}

		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.lgr.Error("close reader", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.lgr.Error("close dlq writer", logger.Error(err))
			}
		}
		if stopErr == nil {
			c.lgr.Info("kafka consumer stopped")
		}
	})
	return stopErr
}

func (c *Consumer) readLoop(topic string, reader *kafka.Reader) {
	defer c.readerWg.Done()

	for {
		msg, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.lgr.Error("kafka fetch", logger.String("topic", topic), logger.Error(err))
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		// blocking send is the backpressure: fetching pauses while
		// workers are behind
		select {
		case c.msgCh <- fetched{topic: topic, msg: msg}:
			consumerQueueDepth.WithLabelValues(topic).Set(float64(len(c.msgCh)))
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Consumer) worker() {
	defer c.workerWg.Done()
	for f := range c.msgCh {
		c.process(f)
	}
}

func (c *Consumer) process(f fetched) {
	handler, ok := c.handlers[f.topic]
	if !ok {
		return
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.lgr.Error("handler panic",
				logger.String("topic", f.topic),
				logger.Any("panic", r))
		}
		consumerHandleSeconds.WithLabelValues(f.topic).Observe(time.Since(start).Seconds())
	}()

	// one in-flight message per (topic, partition) preserves ordering
	// even with a shared worker pool
	slot := c.partitionSlot(f.topic, f.msg.Partition)
	slot.Lock()
	defer slot.Unlock()

	err := c.handleWithRetry(handler, f)
	if err != nil {
		c.hook.OnError(context.Background(), f.topic, f.msg, f.msg.Value, err)
		c.lgr.Error("message exhausted retries",
			logger.String("topic", f.topic),
			logger.Int("attempts", c.cfg.RetryMax+1),
			logger.Error(err))
		if !c.bury(f) {
			// offset stays put so the message is redelivered
			return
		}
	}
	c.commit(f)
}

func (c *Consumer) handleWithRetry(handler MessageHandler, f fetched) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffMin
	bo.MaxInterval = c.cfg.BackoffMax
	bo.MaxElapsedTime = 0

	var err error
	for attempt := 0; ; attempt++ {
		hctx, hmsg, hdata, berr := c.hook.BeforeHandle(context.Background(), f.topic, f.msg, f.msg.Value)
		if berr != nil {
			return berr
		}
		err = handler.Handle(hctx, hdata)
		c.hook.AfterHandle(hctx, f.topic, hmsg, hdata, err)
		if err == nil || attempt >= c.cfg.RetryMax {
			return err
		}
		c.hook.OnError(hctx, f.topic, hmsg, hdata, err)

		select {
		case <-time.After(bo.NextBackOff()):
		case <-c.ctx.Done():
			return err
		}
	}
}

// bury writes the message to the DLQ and reports whether the offset
// may be committed.
func (c *Consumer) bury(f fetched) bool {
	if c.dlq == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := c.dlq.WriteMessages(ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     f.msg.Key,
		Value:   f.msg.Value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(f.topic)}},
	})
	if err != nil {
		c.lgr.Error("dlq publish", logger.String("topic", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	consumerDLQTotal.WithLabelValues(f.topic).Inc()
	return true
}

func (c *Consumer) commit(f fetched) {
	reader := c.readers[f.topic]
	if reader == nil {
		return
	}

	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = reader.CommitMessages(ctx, f.msg)
		cancel()
		if err == nil {
			return
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}
	c.lgr.Error("offset commit", logger.String("topic", f.topic), logger.Error(err))
}

func (c *Consumer) partitionSlot(topic string, partition int) *sync.Mutex {
	key := partKey{topic: topic, partition: partition}

	c.mu.Lock()
	defer c.mu.Unlock()
	slot, ok := c.partSlots[key]
	if !ok {
		slot = &sync.Mutex{}
		c.partSlots[key] = slot
	}
	return slot
}

var (
	consumerMetricsOnce   sync.Once
	consumerQueueDepth    *prometheus.GaugeVec
	consumerHandleSeconds *prometheus.HistogramVec
	consumerDLQTotal      *prometheus.CounterVec
)

func registerConsumerMetrics() {
	consumerMetricsOnce.Do(func() {
		consumerQueueDepth = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepilot_kafka_consumer_queue_depth",
				Help: "Messages waiting in the worker channel",
			},
			[]string{"topic"},
		)
		consumerHandleSeconds = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradepilot_kafka_consumer_handle_seconds",
				Help:    "Handling time per message including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		)
		consumerDLQTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_kafka_consumer_dlq_total",
				Help: "Messages routed to the dead-letter topic",
			},
			[]string{"topic"},
		)
		prometheus.MustRegister(consumerQueueDepth, consumerHandleSeconds, consumerDLQTotal)
	})
}
