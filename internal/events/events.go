package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

const (
	JobStarted   = "job.started"
	JobCompleted = "job.completed"
	JobFailed    = "job.failed"
)

// Event is a job lifecycle notification.
type Event struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	Status     string    `json:"status"`
	FileName   string    `json:"file_name,omitempty"`
	TotalPages int       `json:"total_pages"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type kafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return newKafkaPublisher(p, topic, logger), nil
}

func newKafkaPublisher(p sarama.SyncProducer, topic string, logger *slog.Logger) *kafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &kafkaPublisher{producer: p, topic: topic, log: logger}
}

// Publish sends ev keyed by job id, so one job's events stay ordered within a partition.
func (p *kafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.JobID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.Error("event publish failed", "type", ev.Type, "job_id", ev.JobID, "error", err)
		return err
	}
	p.log.Debug("event published", "type", ev.Type, "job_id", ev.JobID, "partition", partition, "offset", offset)
	return nil
}

func (p *kafkaPublisher) Close() error {
	return p.producer.Close()
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
