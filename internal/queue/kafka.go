package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/karmaloop/automation-server-go/internal/model"
)

const publishTimeout = 3 * time.Second

// Producer mirrors scheduled jobs onto a Kafka topic for executor fleets
// that consume a stream instead of polling the claim endpoint.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokersCSV, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(splitBrokers(brokersCSV)...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *Producer) Close() error { return p.writer.Close() }

// PublishJob writes one message per scheduled job, keyed by account id so a
// partition sees a single account's jobs in order. The write is bounded by
// a short timeout so a down broker cannot stall the scheduler tick.
func (p *Producer) PublishJob(ctx context.Context, job *model.ScheduledJob) error {
	cctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := p.writer.WriteMessages(cctx, kafka.Message{
		Key:   []byte(job.AccountID),
		Value: job.ToStreamEventData(),
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("kafka publish job %s: %w", job.ID, err)
	}
	return nil
}

func splitBrokers(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
