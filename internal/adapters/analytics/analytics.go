// Package analytics ships gameplay events to Kafka.
//
// Publish never blocks the match loop: events go into a bounded buffer and a
// background goroutine forwards them to the producer. A full buffer drops.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/okian/reciperage/internal/adapters/mq/queue"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/pkg/logger"
	"github.com/okian/reciperage/pkg/metrics"
)

var ErrNoBrokers = errors.New("no kafka brokers configured")

// Sink implements model.Sink on top of a sarama SyncProducer.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	buffer   *queue.InMemoryQueue[model.Event]
	logger   logger.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewProducer builds a SyncProducer that waits for all in-sync replicas.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 10 * time.Second

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return p, nil
}

// New wraps producer. bufferSize bounds how many events wait for Kafka.
func New(producer sarama.SyncProducer, topic string, bufferSize int, opts ...Option) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		buffer:   queue.NewInMemoryQueue[model.Event](queue.WithCapacity(bufferSize)),
		logger:   logger.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start forwards buffered events until Close or ctx is cancelled.
func (s *Sink) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go func() {
		defer close(s.done)
		for e := range s.buffer.Dequeue(ctx) {
			s.send(e)
		}
	}()
}

// Publish implements model.Sink.
func (s *Sink) Publish(ctx context.Context, e model.Event) {
	if !s.buffer.Enqueue(ctx, e) {
		metrics.RecordAnalyticsEvent("dropped")
	}
}

func (s *Sink) send(e model.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		metrics.RecordAnalyticsEvent("error")
		return
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(e.MatchID),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		metrics.RecordAnalyticsEvent("error")
		s.logger.Warn(context.Background(), "analytics send failed",
			logger.String("topic", s.topic), logger.String("type", string(e.Type)), logger.Error(err))
		return
	}
	metrics.RecordAnalyticsEvent("sent")
}

// Close stops the forwarder, sends what is left in the buffer and closes the producer.
func (s *Sink) Close() error {
	var err error
	s.once.Do(func() {
		_ = s.buffer.Close()
		if s.cancel != nil {
			<-s.done
			s.cancel()
		}
		for _, e := range s.buffer.Drain() {
			s.send(e)
		}
		err = s.producer.Close()
	})
	return err
}
