package kafka

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"ms-checkin/internal/models"
)

// Producer streams check-in activity for downstream reconciliation
// consumers. Publishing is best-effort: the engine never fails an admission
// because a stream write failed.
type Producer struct {
	admitted *kafka.Writer
	attempts *kafka.Writer
}

func NewProducer(brokers []string, admittedTopic, attemptsTopic string) *Producer {
	return &Producer{
		admitted: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   admittedTopic,
		}),
		attempts: kafka.NewWriter(kafka.WriterConfig{
			Brokers: brokers,
			Topic:   attemptsTopic,
		}),
	}
}

// PublishAdmitted streams a successful admission, keyed by ticket so all
// events for one ticket land in order on one partition.
func (p *Producer) PublishAdmitted(record models.CheckInRecord) error {
	msgBytes, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return p.admitted.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(record.TicketID),
			Value: msgBytes,
		},
	)
}

// PublishAttempt streams one audit attempt, success or failure.
func (p *Producer) PublishAttempt(attempt models.CheckInAttempt) error {
	msgBytes, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	key := attempt.TicketID
	if key == "" {
		key = attempt.AttemptID
	}

	return p.attempts.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(key),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	if err := p.admitted.Close(); err != nil {
		return err
	}
	return p.attempts.Close()
}
